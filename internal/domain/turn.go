package domain

// TurnStatus is the state of one conversational turn.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnRunning   TurnStatus = "running"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnCancelled TurnStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TurnStatus) Terminal() bool {
	return s == TurnCompleted || s == TurnFailed || s == TurnCancelled
}

// CanTransition reports whether moving from s to next is legal.
func (s TurnStatus) CanTransition(next TurnStatus) bool {
	switch s {
	case TurnPending:
		return next == TurnRunning || next == TurnFailed || next == TurnCancelled
	case TurnRunning:
		return next.Terminal()
	}
	return false
}
