package agent

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrotherOrange/PlayForge/internal/domain"
)

// ThreadStore is the durable home of agents, threads and messages.
type ThreadStore interface {
	// CreateLeadAgent allocates a lead agent and its thread together.
	CreateLeadAgent(ctx context.Context, ownerID string, provider domain.Provider, model, displayName string) (domain.Agent, domain.Thread, error)

	// CreateSubAgent creates a sub-agent and its dedicated thread under the
	// given parent thread. Unknown type tags fall back to the default type.
	CreateSubAgent(ctx context.Context, parentThreadID, typeTag string) (domain.Agent, domain.Thread, error)

	GetAgent(ctx context.Context, id string) (domain.Agent, error)
	GetThread(ctx context.Context, id string) (domain.Thread, error)

	// AgentForThread returns the agent owning threadID.
	AgentForThread(ctx context.Context, threadID string) (domain.Agent, error)

	// ListAgents returns leads newest-first, each followed by its sub-agents
	// oldest-first. Inactive agents are included.
	ListAgents(ctx context.Context, ownerID string) ([]domain.Agent, error)

	// ListSubAgents returns the sub-agents of a lead thread, oldest-first.
	ListSubAgents(ctx context.Context, parentThreadID string) ([]domain.Agent, error)

	// DeleteAgent removes an agent, its thread and messages, and for a lead
	// every sub-agent beneath it.
	DeleteAgent(ctx context.Context, ownerID, agentID string) error

	// SetAgentActive toggles the active flag. Deactivation archives the thread.
	SetAgentActive(ctx context.Context, agentID string, active bool) error

	// AppendMessage assigns id and timestamp and appends to the thread.
	AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)

	// UpdateMessageContent replaces the content of a message that is still
	// streaming.
	UpdateMessageContent(ctx context.Context, id int64, content string) error

	// SealMessage ends the streaming state of a message.
	SealMessage(ctx context.Context, id int64) error

	// ListMessages returns a page of messages oldest-first.
	ListMessages(ctx context.Context, threadID string, limit, offset int) ([]domain.Message, error)

	// RecentMessages returns up to n of the newest messages, oldest-first.
	RecentMessages(ctx context.Context, threadID string, n int) ([]domain.Message, error)

	// SearchMessages finds messages in a thread whose content matches query.
	SearchMessages(ctx context.Context, threadID, query string, limit int) ([]domain.Message, error)
}

// MemoryThreadStore is an in-memory ThreadStore implementation.
type MemoryThreadStore struct {
	mu       sync.RWMutex
	agents   map[string]*domain.Agent
	threads  map[string]*domain.Thread
	messages map[string][]*domain.Message // thread id → messages in order
	byID     map[int64]*domain.Message
	order    []string // agent ids in creation order
	nextID   int64
}

// NewMemoryThreadStore creates an empty in-memory store.
func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{
		agents:   make(map[string]*domain.Agent),
		threads:  make(map[string]*domain.Thread),
		messages: make(map[string][]*domain.Message),
		byID:     make(map[int64]*domain.Message),
	}
}

func (s *MemoryThreadStore) CreateLeadAgent(_ context.Context, ownerID string, provider domain.Provider, model, displayName string) (domain.Agent, domain.Thread, error) {
	if !provider.Valid() {
		return domain.Agent{}, domain.Thread{}, domain.Validationf("unknown provider %q", provider)
	}
	if strings.TrimSpace(model) == "" {
		return domain.Agent{}, domain.Thread{}, domain.Validationf("model name is required")
	}
	info := domain.LookupAgentType(domain.TypeLeadDesigner)
	if strings.TrimSpace(displayName) == "" {
		displayName = info.Label
	}

	now := time.Now()
	a := &domain.Agent{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        domain.AgentName(domain.TypeLeadDesigner),
		DisplayName: displayName,
		Description: info.Description,
		Type:        domain.TypeLeadDesigner,
		Provider:    provider,
		Model:       model,
		Active:      true,
		CreatedAt:   now,
	}
	th := &domain.Thread{
		ID:        uuid.NewString(),
		AgentID:   a.ID,
		Title:     displayName,
		Status:    domain.ThreadActive,
		CreatedAt: now,
	}
	a.ThreadID = th.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
	s.threads[th.ID] = th
	s.order = append(s.order, a.ID)
	return *a, *th, nil
}

func (s *MemoryThreadStore) CreateSubAgent(_ context.Context, parentThreadID, typeTag string) (domain.Agent, domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parentThread, ok := s.threads[parentThreadID]
	if !ok {
		return domain.Agent{}, domain.Thread{}, domain.NotFoundf("thread %s", parentThreadID)
	}
	parent := s.agents[parentThread.AgentID]
	if !parent.IsLead() {
		return domain.Agent{}, domain.Thread{}, domain.ErrDelegationDepth
	}

	t := domain.ParseSubAgentType(typeTag)
	info := domain.LookupAgentType(t)
	now := time.Now()
	a := &domain.Agent{
		ID:             uuid.NewString(),
		OwnerID:        parent.OwnerID,
		Name:           domain.AgentName(t),
		DisplayName:    info.Label,
		Description:    info.Description,
		Type:           t,
		Provider:       parent.Provider,
		Model:          parent.Model,
		ParentThreadID: parentThreadID,
		Active:         true,
		CreatedAt:      now,
	}
	th := &domain.Thread{
		ID:        uuid.NewString(),
		AgentID:   a.ID,
		Title:     info.Label,
		Status:    domain.ThreadActive,
		CreatedAt: now,
	}
	a.ThreadID = th.ID

	s.agents[a.ID] = a
	s.threads[th.ID] = th
	s.order = append(s.order, a.ID)
	return *a, *th, nil
}

func (s *MemoryThreadStore) GetAgent(_ context.Context, id string) (domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return domain.Agent{}, domain.NotFoundf("agent %s", id)
	}
	return *a, nil
}

func (s *MemoryThreadStore) GetThread(_ context.Context, id string) (domain.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.threads[id]
	if !ok {
		return domain.Thread{}, domain.NotFoundf("thread %s", id)
	}
	return *th, nil
}

func (s *MemoryThreadStore) AgentForThread(_ context.Context, threadID string) (domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.threads[threadID]
	if !ok {
		return domain.Agent{}, domain.NotFoundf("thread %s", threadID)
	}
	return *s.agents[th.AgentID], nil
}

func (s *MemoryThreadStore) ListAgents(_ context.Context, ownerID string) ([]domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Agent{}
	for i := len(s.order) - 1; i >= 0; i-- {
		lead := s.agents[s.order[i]]
		if !lead.IsLead() || lead.OwnerID != ownerID {
			continue
		}
		out = append(out, *lead)
		out = append(out, s.subAgentsLocked(lead.ThreadID)...)
	}
	return out, nil
}

func (s *MemoryThreadStore) ListSubAgents(_ context.Context, parentThreadID string) ([]domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[parentThreadID]; !ok {
		return nil, domain.NotFoundf("thread %s", parentThreadID)
	}
	return s.subAgentsLocked(parentThreadID), nil
}

func (s *MemoryThreadStore) subAgentsLocked(parentThreadID string) []domain.Agent {
	var subs []domain.Agent
	for _, id := range s.order {
		if a := s.agents[id]; a.ParentThreadID == parentThreadID {
			subs = append(subs, *a)
		}
	}
	return subs
}

func (s *MemoryThreadStore) DeleteAgent(_ context.Context, ownerID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok || a.OwnerID != ownerID {
		return domain.NotFoundf("agent %s", agentID)
	}

	doomed := map[string]bool{agentID: true}
	for _, sub := range s.subAgentsLocked(a.ThreadID) {
		doomed[sub.ID] = true
	}
	for id := range doomed {
		tid := s.agents[id].ThreadID
		for _, m := range s.messages[tid] {
			delete(s.byID, m.ID)
		}
		delete(s.messages, tid)
		delete(s.threads, tid)
		delete(s.agents, id)
	}
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return doomed[id] })
	return nil
}

func (s *MemoryThreadStore) SetAgentActive(_ context.Context, agentID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return domain.NotFoundf("agent %s", agentID)
	}
	a.Active = active
	if th, ok := s.threads[a.ThreadID]; ok {
		th.Status = domain.ThreadActive
		if !active {
			th.Status = domain.ThreadArchived
		}
	}
	return nil
}

func (s *MemoryThreadStore) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	if !msg.Role.Valid() {
		return domain.Message{}, domain.Validationf("invalid role %q", msg.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[msg.ThreadID]
	if !ok {
		return domain.Message{}, domain.NotFoundf("thread %s", msg.ThreadID)
	}
	if !s.agents[th.AgentID].Active {
		return domain.Message{}, domain.ErrReadOnly
	}

	s.nextID++
	m := msg
	m.ID = s.nextID
	m.CreatedAt = time.Now()
	s.messages[th.ID] = append(s.messages[th.ID], &m)
	s.byID[m.ID] = &m
	th.MessageCount++
	th.LastMessageAt = m.CreatedAt
	return m, nil
}

func (s *MemoryThreadStore) UpdateMessageContent(_ context.Context, id int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return domain.NotFoundf("message %d", id)
	}
	if !m.Streaming {
		return domain.Validationf("message %d is sealed", id)
	}
	m.Content = content
	return nil
}

func (s *MemoryThreadStore) SealMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return domain.NotFoundf("message %d", id)
	}
	m.Streaming = false
	return nil
}

func (s *MemoryThreadStore) ListMessages(_ context.Context, threadID string, limit, offset int) ([]domain.Message, error) {
	limit, offset = domain.NormalizePage(limit, offset)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, domain.NotFoundf("thread %s", threadID)
	}
	all := s.messages[threadID]
	if offset >= len(all) {
		return []domain.Message{}, nil
	}
	end := min(offset+limit, len(all))
	return copyMessages(all[offset:end]), nil
}

func (s *MemoryThreadStore) RecentMessages(_ context.Context, threadID string, n int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, domain.NotFoundf("thread %s", threadID)
	}
	all := s.messages[threadID]
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return copyMessages(all), nil
}

func (s *MemoryThreadStore) SearchMessages(_ context.Context, threadID, query string, limit int) ([]domain.Message, error) {
	limit, _ = domain.NormalizePage(limit, 0)
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, domain.Validationf("search query is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, domain.NotFoundf("thread %s", threadID)
	}

	out := []domain.Message{}
	for _, m := range s.messages[threadID] {
		content := strings.ToLower(m.Content)
		match := true
		for _, t := range terms {
			if !strings.Contains(content, t) {
				match = false
				break
			}
		}
		if match {
			out = append(out, *m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func copyMessages(src []*domain.Message) []domain.Message {
	out := make([]domain.Message, len(src))
	for i, m := range src {
		out[i] = *m
	}
	return out
}
