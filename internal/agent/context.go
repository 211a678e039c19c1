package agent

import "context"

type ctxKey int

const (
	spawnDepthKey ctxKey = iota
	turnKey
	reporterKey
)

// MaxSpawnDepth is how deep delegation may go. Leads sit at depth 0 and
// their sub-agents at depth 1; sub-agents never delegate further.
const MaxSpawnDepth = 1

// WithSpawnDepth marks ctx as running at the given delegation depth.
func WithSpawnDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, spawnDepthKey, depth)
}

// SpawnDepth returns the delegation depth carried by ctx.
func SpawnDepth(ctx context.Context) int {
	d, _ := ctx.Value(spawnDepthKey).(int)
	return d
}

// TurnInfo identifies the turn a tool is executing in.
type TurnInfo struct {
	TurnID   string
	ThreadID string
	AgentID  string
}

func withTurnInfo(ctx context.Context, ti TurnInfo) context.Context {
	return context.WithValue(ctx, turnKey, ti)
}

// TurnFromContext returns the turn running in ctx, if any.
func TurnFromContext(ctx context.Context) (TurnInfo, bool) {
	ti, ok := ctx.Value(turnKey).(TurnInfo)
	return ti, ok
}

// Reporter lets tools surface status while a turn runs.
type Reporter interface {
	// Progress emits and persists a status line.
	Progress(text string)
	// Heartbeat signals forward progress without emitting anything.
	Heartbeat()
}

func withReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey, r)
}

// ReportProgress emits a progress line on the turn running in ctx.
func ReportProgress(ctx context.Context, text string) {
	if r, ok := ctx.Value(reporterKey).(Reporter); ok {
		r.Progress(text)
	}
}

// Heartbeat keeps the turn running in ctx from tripping its idle timeout.
func Heartbeat(ctx context.Context) {
	if r, ok := ctx.Value(reporterKey).(Reporter); ok {
		r.Heartbeat()
	}
}

// WithHeartbeat returns a ctx on which Heartbeat calls fn. Progress
// reports made on it are dropped.
func WithHeartbeat(ctx context.Context, fn func()) context.Context {
	return withReporter(ctx, heartbeatFunc(fn))
}

type heartbeatFunc func()

func (heartbeatFunc) Progress(string) {}
func (f heartbeatFunc) Heartbeat() { f() }
