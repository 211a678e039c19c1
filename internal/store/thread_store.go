package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrotherOrange/PlayForge/internal/domain"
)

// SQLiteThreadStore implements agent.ThreadStore backed by SQLite.
type SQLiteThreadStore struct {
	db *DB
}

// NewSQLiteThreadStore creates a thread store using the given database.
func NewSQLiteThreadStore(db *DB) *SQLiteThreadStore {
	return &SQLiteThreadStore{db: db}
}

const agentColumns = `a.id, a.owner_id, a.name, a.display_name, a.description, a.type,
	a.provider, a.model, COALESCE(t.id, ''), COALESCE(a.parent_thread_id, ''), a.active, a.created_at`

const agentFrom = `FROM agents a LEFT JOIN threads t ON t.agent_id = a.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var typ, provider, createdAt string
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.DisplayName, &a.Description, &typ,
		&provider, &a.Model, &a.ThreadID, &a.ParentThreadID, &a.Active, &createdAt)
	if err != nil {
		return a, err
	}
	a.Type = domain.AgentType(typ)
	a.Provider = domain.Provider(provider)
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

func scanThread(row rowScanner) (domain.Thread, error) {
	var th domain.Thread
	var status, createdAt string
	var last sql.NullString
	err := row.Scan(&th.ID, &th.AgentID, &th.Title, &status, &th.MessageCount, &last, &createdAt)
	if err != nil {
		return th, err
	}
	th.Status = domain.ThreadStatus(status)
	th.CreatedAt = parseTime(createdAt)
	if last.Valid {
		th.LastMessageAt = parseTime(last.String)
	}
	return th, nil
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &m.ToolName,
			&m.TokenCount, &m.Streaming, &createdAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func insertAgentAndThread(tx *sql.Tx, a domain.Agent, th domain.Thread) error {
	var parent sql.NullString
	if a.ParentThreadID != "" {
		parent = sql.NullString{String: a.ParentThreadID, Valid: true}
	}
	_, err := tx.Exec(
		`INSERT INTO agents (id, owner_id, name, display_name, description, type, provider, model, parent_thread_id, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.Name, a.DisplayName, a.Description, string(a.Type),
		string(a.Provider), a.Model, parent, a.Active, formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO threads (id, agent_id, title, status, message_count, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		th.ID, th.AgentID, th.Title, string(th.Status), formatTime(th.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting thread: %w", err)
	}
	return nil
}

// CreateLeadAgent allocates a lead agent and its thread in one transaction.
func (s *SQLiteThreadStore) CreateLeadAgent(ctx context.Context, ownerID string, provider domain.Provider, model, displayName string) (domain.Agent, domain.Thread, error) {
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

	now := time.Now().UTC().Truncate(time.Millisecond)
	a := domain.Agent{
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
	th := domain.Thread{
		ID:        uuid.NewString(),
		AgentID:   a.ID,
		Title:     displayName,
		Status:    domain.ThreadActive,
		CreatedAt: now,
	}
	a.ThreadID = th.ID

	err := s.db.tx(ctx, func(tx *sql.Tx) error { return insertAgentAndThread(tx, a, th) })
	if err != nil {
		return domain.Agent{}, domain.Thread{}, err
	}
	return a, th, nil
}

// CreateSubAgent creates a sub-agent beneath a lead thread. The sub-agent
// inherits owner, provider and model from the lead.
func (s *SQLiteThreadStore) CreateSubAgent(ctx context.Context, parentThreadID, typeTag string) (domain.Agent, domain.Thread, error) {
	var a domain.Agent
	var th domain.Thread

	err := s.db.tx(ctx, func(tx *sql.Tx) error {
		parent, err := scanAgent(tx.QueryRow(
			`SELECT `+agentColumns+` `+agentFrom+` WHERE t.id = ?`, parentThreadID))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFoundf("thread %s", parentThreadID)
		}
		if err != nil {
			return fmt.Errorf("loading parent agent: %w", err)
		}
		if !parent.IsLead() {
			return domain.ErrDelegationDepth
		}

		t := domain.ParseSubAgentType(typeTag)
		info := domain.LookupAgentType(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		a = domain.Agent{
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
		th = domain.Thread{
			ID:        uuid.NewString(),
			AgentID:   a.ID,
			Title:     info.Label,
			Status:    domain.ThreadActive,
			CreatedAt: now,
		}
		a.ThreadID = th.ID
		return insertAgentAndThread(tx, a, th)
	})
	if err != nil {
		return domain.Agent{}, domain.Thread{}, err
	}
	return a, th, nil
}

func (s *SQLiteThreadStore) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	a, err := scanAgent(s.db.sql.QueryRowContext(ctx,
		`SELECT `+agentColumns+` `+agentFrom+` WHERE a.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, domain.NotFoundf("agent %s", id)
	}
	return a, err
}

func (s *SQLiteThreadStore) GetThread(ctx context.Context, id string) (domain.Thread, error) {
	th, err := scanThread(s.db.sql.QueryRowContext(ctx,
		`SELECT id, agent_id, title, status, message_count, last_message_at, created_at
		 FROM threads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return th, domain.NotFoundf("thread %s", id)
	}
	return th, err
}

func (s *SQLiteThreadStore) AgentForThread(ctx context.Context, threadID string) (domain.Agent, error) {
	a, err := scanAgent(s.db.sql.QueryRowContext(ctx,
		`SELECT `+agentColumns+` `+agentFrom+` WHERE t.id = ?`, threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return a, domain.NotFoundf("thread %s", threadID)
	}
	return a, err
}

// ListAgents returns leads newest-first, each followed by its sub-agents
// oldest-first.
func (s *SQLiteThreadStore) ListAgents(ctx context.Context, ownerID string) ([]domain.Agent, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+agentColumns+`,
		        COALESCE(lead.created_at, a.created_at) AS group_at,
		        COALESCE(lead.rowid, a.rowid) AS group_id
		 `+agentFrom+`
		 LEFT JOIN threads pt ON pt.id = a.parent_thread_id
		 LEFT JOIN agents lead ON lead.id = pt.agent_id
		 WHERE a.owner_id = ?
		 ORDER BY group_at DESC, group_id DESC,
		          a.parent_thread_id IS NOT NULL, a.created_at, a.rowid`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	agents := []domain.Agent{}
	for rows.Next() {
		var groupAt string
		var groupID int64
		var a domain.Agent
		var typ, provider, createdAt string
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.DisplayName, &a.Description, &typ,
			&provider, &a.Model, &a.ThreadID, &a.ParentThreadID, &a.Active, &createdAt,
			&groupAt, &groupID); err != nil {
			return nil, err
		}
		a.Type = domain.AgentType(typ)
		a.Provider = domain.Provider(provider)
		a.CreatedAt = parseTime(createdAt)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *SQLiteThreadStore) ListSubAgents(ctx context.Context, parentThreadID string) ([]domain.Agent, error) {
	if _, err := s.GetThread(ctx, parentThreadID); err != nil {
		return nil, err
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+agentColumns+` `+agentFrom+`
		 WHERE a.parent_thread_id = ? ORDER BY a.created_at, a.rowid`, parentThreadID)
	if err != nil {
		return nil, fmt.Errorf("listing sub-agents: %w", err)
	}
	defer rows.Close()

	var subs []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, a)
	}
	return subs, rows.Err()
}

// DeleteAgent removes the agent; foreign keys cascade to its thread, its
// messages and any sub-agents beneath it.
func (s *SQLiteThreadStore) DeleteAgent(ctx context.Context, ownerID, agentID string) error {
	res, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM agents WHERE id = ? AND owner_id = ?`, agentID, ownerID)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("agent %s", agentID)
	}
	return nil
}

func (s *SQLiteThreadStore) SetAgentActive(ctx context.Context, agentID string, active bool) error {
	status := domain.ThreadActive
	if !active {
		status = domain.ThreadArchived
	}
	return s.db.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE agents SET active = ? WHERE id = ?`, active, agentID)
		if err != nil {
			return fmt.Errorf("updating agent: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFoundf("agent %s", agentID)
		}
		_, err = tx.Exec(`UPDATE threads SET status = ? WHERE agent_id = ?`, string(status), agentID)
		return err
	})
}

// AppendMessage inserts a message and bumps the thread counters in one
// transaction. Inactive agents' threads are read-only.
func (s *SQLiteThreadStore) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if !msg.Role.Valid() {
		return domain.Message{}, domain.Validationf("invalid role %q", msg.Role)
	}

	m := msg
	err := s.db.tx(ctx, func(tx *sql.Tx) error {
		var active bool
		err := tx.QueryRow(
			`SELECT a.active FROM threads t JOIN agents a ON a.id = t.agent_id WHERE t.id = ?`,
			msg.ThreadID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFoundf("thread %s", msg.ThreadID)
		}
		if err != nil {
			return err
		}
		if !active {
			return domain.ErrReadOnly
		}

		m.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
		ts := formatTime(m.CreatedAt)
		res, err := tx.Exec(
			`INSERT INTO messages (thread_id, role, content, tool_name, token_count, streaming, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ThreadID, string(m.Role), m.Content, m.ToolName, m.TokenCount, m.Streaming, ts)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		if m.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = tx.Exec(
			`UPDATE threads SET message_count = message_count + 1, last_message_at = ? WHERE id = ?`,
			ts, m.ThreadID)
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// UpdateMessageContent grows a message that is still streaming.
func (s *SQLiteThreadStore) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE id = ? AND streaming = 1`, content, id)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return domain.NotFoundf("message %d", id)
	}
	return domain.Validationf("message %d is sealed", id)
}

func (s *SQLiteThreadStore) SealMessage(ctx context.Context, id int64) error {
	res, err := s.db.sql.ExecContext(ctx, `UPDATE messages SET streaming = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sealing message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("message %d", id)
	}
	return nil
}

const messageColumns = `id, thread_id, role, content, tool_name, token_count, streaming, created_at`

// ListMessages returns a page of messages oldest-first.
func (s *SQLiteThreadStore) ListMessages(ctx context.Context, threadID string, limit, offset int) ([]domain.Message, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	limit, offset = domain.NormalizePage(limit, offset)

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE thread_id = ? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		threadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns up to n of the newest messages, oldest-first.
func (s *SQLiteThreadStore) RecentMessages(ctx context.Context, threadID string, n int) ([]domain.Message, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = -1 // no limit
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE thread_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at, id`,
		threadID, n)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SearchMessages runs a full-text query over one thread. Every term must
// match; results come back in thread order.
func (s *SQLiteThreadStore) SearchMessages(ctx context.Context, threadID, query string, limit int) ([]domain.Message, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, domain.Validationf("search query is empty")
	}
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	limit, _ = domain.NormalizePage(limit, 0)

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT m.id, m.thread_id, m.role, m.content, m.tool_name, m.token_count, m.streaming, m.created_at
		 FROM messages_fts
		 JOIN messages m ON m.id = messages_fts.rowid
		 WHERE messages_fts MATCH ? AND m.thread_id = ?
		 ORDER BY m.created_at, m.id
		 LIMIT ?`,
		match, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ftsQuery quotes each whitespace-separated term so user input cannot
// inject FTS5 operators.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
