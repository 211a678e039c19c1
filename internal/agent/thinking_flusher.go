package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/logging"
)

// ThinkingFlusherConfig controls when buffered thinking is written to the store.
type ThinkingFlusherConfig struct {
	// MaxBufferBytes triggers a flush when this many unflushed bytes accumulate.
	// Default: 512 bytes.
	MaxBufferBytes int

	// IdleTimeout triggers a flush when no new delta arrives within this duration.
	// Default: 1 second.
	IdleTimeout time.Duration
}

// ThinkingFlusher persists one turn's reasoning text as a single tool-role
// message. The message is created on the first delta in the streaming state
// and grown in place at natural text boundaries (paragraphs, sentences, size
// limit, idle timeout). The stored content is always the exact concatenation
// of the deltas flushed so far.
type ThinkingFlusher struct {
	cfg      ThinkingFlusherConfig
	store    ThreadStore
	ctx      context.Context
	threadID string
	log      *logging.Logger

	mu        sync.Mutex
	content   strings.Builder
	unflushed int
	msgID     int64
	timer     *time.Timer
	sealed    bool
}

// NewThinkingFlusher creates a flusher writing into threadID. ctx should
// outlive turn cancellation so partial thinking is still recorded.
func NewThinkingFlusher(ctx context.Context, cfg ThinkingFlusherConfig, store ThreadStore, threadID string, log *logging.Logger) *ThinkingFlusher {
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 512
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Second
	}
	return &ThinkingFlusher{
		cfg:      cfg,
		store:    store,
		ctx:      ctx,
		threadID: threadID,
		log:      log,
	}
}

// OnDelta appends reasoning text and flushes if a boundary is reached.
func (f *ThinkingFlusher) OnDelta(text string) {
	if text == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed {
		return
	}

	if f.msgID == 0 {
		m, err := f.store.AppendMessage(f.ctx, domain.Message{
			ThreadID:  f.threadID,
			Role:      domain.RoleTool,
			ToolName:  domain.ToolNameThinking,
			Streaming: true,
		})
		if err != nil {
			f.log.Error().Err(err).Str("thread", f.threadID).Msg("failed to create thinking message")
		} else {
			f.msgID = m.ID
		}
	}

	f.content.WriteString(text)
	f.unflushed += len(text)

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.cfg.IdleTimeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.flushLocked()
	})

	f.checkFlushLocked(text)
}

// Seal writes any buffered text and ends the streaming state. Safe to call
// more than once.
func (f *ThinkingFlusher) Seal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed {
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	f.flushLocked()
	f.sealed = true
	if f.msgID != 0 {
		if err := f.store.SealMessage(f.ctx, f.msgID); err != nil {
			f.log.Error().Err(err).Int64("message", f.msgID).Msg("failed to seal thinking message")
		}
	}
}

// Content returns everything received so far.
func (f *ThinkingFlusher) Content() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content.String()
}

// MessageID returns the id of the thinking message, or 0 before the first delta.
func (f *ThinkingFlusher) MessageID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgID
}

func (f *ThinkingFlusher) checkFlushLocked(delta string) {
	if f.unflushed >= f.cfg.MaxBufferBytes {
		f.flushLocked()
		return
	}
	if strings.Contains(delta, "\n\n") {
		f.flushLocked()
		return
	}
	if endsSentence(delta) && f.unflushed > 40 {
		f.flushLocked()
	}
}

func (f *ThinkingFlusher) flushLocked() {
	if f.unflushed == 0 || f.msgID == 0 || f.sealed {
		return
	}
	if err := f.store.UpdateMessageContent(f.ctx, f.msgID, f.content.String()); err != nil {
		f.log.Error().Err(err).Int64("message", f.msgID).Msg("failed to flush thinking")
		return
	}
	f.unflushed = 0
}

// endsSentence reports whether s ends with sentence punctuation, optionally
// followed by whitespace.
func endsSentence(s string) bool {
	s = strings.TrimRight(s, " \n")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
