package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/BrotherOrange/PlayForge/internal/agent"
	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both ThreadStore implementations must satisfy the same contract.
func threadStores(t *testing.T) map[string]func() agent.ThreadStore {
	return map[string]func() agent.ThreadStore{
		"sqlite": func() agent.ThreadStore { return NewSQLiteThreadStore(testDB(t)) },
		"memory": func() agent.ThreadStore { return agent.NewMemoryThreadStore() },
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s agent.ThreadStore)) {
	for name, mk := range threadStores(t) {
		t.Run(name, func(t *testing.T) { fn(t, mk()) })
	}
}

func TestContract_CreateLeadAgent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		ctx := context.Background()
		a, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "My Game")
		require.NoError(t, err)

		assert.True(t, a.IsLead())
		assert.True(t, a.Active)
		assert.Equal(t, domain.TypeLeadDesigner, a.Type)
		assert.Equal(t, th.ID, a.ThreadID)
		assert.Equal(t, a.ID, th.AgentID)
		assert.Equal(t, "My Game", a.DisplayName)
		assert.Equal(t, domain.ThreadActive, th.Status)

		msgs, err := s.ListMessages(ctx, th.ID, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		got, err := s.AgentForThread(ctx, th.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, "gpt-5.2", got.Model)
	})
}

func TestContract_CreateLeadAgent_Validation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		_, _, err := s.CreateLeadAgent(context.Background(), "u1", "mystery", "m", "")
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, _, err = s.CreateLeadAgent(context.Background(), "u1", domain.ProviderOpenAI, " ", "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestContract_CreateSubAgent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		ctx := context.Background()
		lead, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderAnthropic, "claude-sonnet-4-5", "")
		require.NoError(t, err)

		sub, subThread, err := s.CreateSubAgent(ctx, th.ID, "levelDesigner")
		require.NoError(t, err)
		assert.Regexp(t, `^levelDesigner-[0-9a-f]{8}$`, sub.Name)
		assert.Equal(t, th.ID, sub.ParentThreadID)
		assert.Equal(t, lead.OwnerID, sub.OwnerID)
		assert.Equal(t, lead.Provider, sub.Provider)
		assert.Equal(t, lead.Model, sub.Model)
		assert.Equal(t, "Level Designer", sub.DisplayName)
		assert.Equal(t, subThread.ID, sub.ThreadID)

		odd, _, err := s.CreateSubAgent(ctx, th.ID, "wizard")
		require.NoError(t, err)
		assert.Equal(t, domain.TypeDefault, odd.Type)

		_, _, err = s.CreateSubAgent(ctx, "missing", "levelDesigner")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, _, err = s.CreateSubAgent(ctx, subThread.ID, "levelDesigner")
		assert.ErrorIs(t, err, domain.ErrDelegationDepth)
	})
}

func TestContract_ListAgentsOrdering(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		ctx := context.Background()
		lead1, th1, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "first")
		require.NoError(t, err)
		subA, _, err := s.CreateSubAgent(ctx, th1.ID, "systemDesigner")
		require.NoError(t, err)
		lead2, _, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "second")
		require.NoError(t, err)
		subB, _, err := s.CreateSubAgent(ctx, th1.ID, "narrativeDesigner")
		require.NoError(t, err)
		_, _, err = s.CreateLeadAgent(ctx, "u2", domain.ProviderOpenAI, "gpt-5.2", "other owner")
		require.NoError(t, err)

		require.NoError(t, s.SetAgentActive(ctx, subA.ID, false))

		agents, err := s.ListAgents(ctx, "u1")
		require.NoError(t, err)
		ids := make([]string, len(agents))
		for i, a := range agents {
			ids[i] = a.ID
		}
		assert.Equal(t, []string{lead2.ID, lead1.ID, subA.ID, subB.ID}, ids)
		assert.False(t, agents[2].Active)

		subs, err := s.ListSubAgents(ctx, th1.ID)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, subA.ID, subs[0].ID)
	})
}

func TestContract_AppendAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		ctx := context.Background()
		_, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "")
		require.NoError(t, err)

		var ids []int64
		for i := range 5 {
			m, err := s.AppendMessage(ctx, domain.Message{ThreadID: th.ID, Role: domain.RoleUser, Content: fmt.Sprintf("m%d", i)})
			require.NoError(t, err)
			assert.NotZero(t, m.ID)
			assert.False(t, m.CreatedAt.IsZero())
			ids = append(ids, m.ID)
		}
		assert.IsIncreasing(t, ids)

		page, err := s.ListMessages(ctx, th.ID, 2, 1)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "m1", page[0].Content)
		assert.Equal(t, "m2", page[1].Content)

		again, err := s.ListMessages(ctx, th.ID, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, page, again)

		past, err := s.ListMessages(ctx, th.ID, 10, 99)
		require.NoError(t, err)
		assert.Empty(t, past)

		recent, err := s.RecentMessages(ctx, th.ID, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "m3", recent[0].Content)
		assert.Equal(t, "m4", recent[1].Content)

		got, err := s.GetThread(ctx, th.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.MessageCount)
		assert.False(t, got.LastMessageAt.IsZero())
	})
}

func TestContract_AppendErrors(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		ctx := context.Background()
		_, err := s.AppendMessage(ctx, domain.Message{ThreadID: "missing", Role: domain.RoleUser})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		a, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, domain.Message{ThreadID: th.ID, Role: "robot"})
		assert.ErrorIs(t, err, domain.ErrValidation)

		require.NoError(t, s.SetAgentActive(ctx, a.ID, false))
		_, err = s.AppendMessage(ctx, domain.Message{ThreadID: th.ID, Role: domain.RoleUser, Content: "x"})
		assert.ErrorIs(t, err, domain.ErrReadOnly)

		got, err := s.GetThread(ctx, th.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ThreadArchived, got.Status)
	})
}

func TestContract_UpdateOnlyWhileStreaming(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		ctx := context.Background()
		_, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "")
		require.NoError(t, err)

		m, err := s.AppendMessage(ctx, domain.Message{ThreadID: th.ID, Role: domain.RoleTool, ToolName: domain.ToolNameThinking, Streaming: true})
		require.NoError(t, err)
		require.NoError(t, s.UpdateMessageContent(ctx, m.ID, "first thought"))
		require.NoError(t, s.SealMessage(ctx, m.ID))

		err = s.UpdateMessageContent(ctx, m.ID, "rewrite")
		assert.ErrorIs(t, err, domain.ErrValidation)

		err = s.UpdateMessageContent(ctx, 9999, "x")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		msgs, err := s.ListMessages(ctx, th.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "first thought", msgs[0].Content)
		assert.False(t, msgs[0].Streaming)
	})
}

func TestContract_DeleteCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		ctx := context.Background()
		lead, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "")
		require.NoError(t, err)
		sub, subThread, err := s.CreateSubAgent(ctx, th.ID, "combatDesigner")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, domain.Message{ThreadID: subThread.ID, Role: domain.RoleUser, Content: "task"})
		require.NoError(t, err)

		assert.ErrorIs(t, s.DeleteAgent(ctx, "intruder", lead.ID), domain.ErrNotFound)

		require.NoError(t, s.DeleteAgent(ctx, "u1", lead.ID))

		_, err = s.GetAgent(ctx, sub.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.GetThread(ctx, subThread.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.ListMessages(ctx, subThread.ID, 0, 0)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		agents, err := s.ListAgents(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, agents)

		assert.ErrorIs(t, s.DeleteAgent(ctx, "u1", lead.ID), domain.ErrNotFound)
	})
}

func TestContract_SearchMessages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		ctx := context.Background()
		_, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "")
		require.NoError(t, err)
		for _, c := range []string{"Design the boss arena", "Tune the loot tables", "Boss phases need a arena hazard"} {
			_, err := s.AppendMessage(ctx, domain.Message{ThreadID: th.ID, Role: domain.RoleUser, Content: c})
			require.NoError(t, err)
		}

		hits, err := s.SearchMessages(ctx, th.ID, "boss arena", 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "Design the boss arena", hits[0].Content)

		_, err = s.SearchMessages(ctx, th.ID, "  ", 10)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestContract_ConcurrentAppendsAcrossThreads(t *testing.T) {
	forEachStore(t, func(t *testing.T, s agent.ThreadStore) {
		ctx := context.Background()
		var threads []string
		for range 4 {
			_, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "")
			require.NoError(t, err)
			threads = append(threads, th.ID)
		}

		var wg sync.WaitGroup
		for _, tid := range threads {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 10 {
					_, err := s.AppendMessage(ctx, domain.Message{ThreadID: tid, Role: domain.RoleUser, Content: fmt.Sprint(i)})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		for _, tid := range threads {
			msgs, err := s.ListMessages(ctx, tid, 0, 0)
			require.NoError(t, err)
			require.Len(t, msgs, 10)
			for i, m := range msgs {
				assert.Equal(t, fmt.Sprint(i), m.Content)
			}
		}
	})
}
