package sqlstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/hub"
	"github.com/dyluth/warren/pkg/comms"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warren.db")
	s, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testMessage(seq uint64, from, to string, kind comms.Kind) *comms.Message {
	return &comms.Message{
		ID:        uuid.NewString(),
		Seq:       seq,
		FromAgent: from,
		ToAgent:   to,
		Body:      "body",
		Timestamp: time.Date(2025, 1, 1, 12, 0, int(seq), 123456789, time.UTC),
		Kind:      kind,
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "warren.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestAgents(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	registered := time.Date(2025, 1, 1, 12, 0, 0, 42, time.UTC)
	agent := &comms.Agent{
		ID:            "alpha",
		Name:          "Alpha",
		Capabilities:  []string{"search"},
		Status:        comms.StatusOnline,
		LastHeartbeat: registered,
		RegisteredAt:  registered,
	}
	require.NoError(t, s.SaveAgent(ctx, agent))

	agent.Status = comms.StatusOffline
	agent.Activity = &comms.Activity{State: "busy", Detail: "indexing", UpdatedAt: registered.Add(time.Second)}
	require.NoError(t, s.SaveAgent(ctx, agent), "saving again updates in place")

	require.NoError(t, s.SaveAgent(ctx, &comms.Agent{ID: "beta", Status: comms.StatusOnline}))

	agents, err := s.LoadAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)

	got := agents[0]
	assert.Equal(t, "alpha", got.ID)
	assert.Equal(t, comms.StatusOffline, got.Status)
	assert.Equal(t, []string{"search"}, got.Capabilities)
	assert.True(t, registered.Equal(got.RegisteredAt))
	require.NotNil(t, got.Activity)
	assert.Equal(t, "indexing", got.Activity.Detail)

	assert.Nil(t, agents[1].Activity)
	assert.Empty(t, agents[1].Capabilities)
}

func TestMessages(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var saved []*comms.Message
	for seq := uint64(1); seq <= 5; seq++ {
		m := testMessage(seq, "alpha", "beta", comms.KindDirect)
		saved = append(saved, m)
		require.NoError(t, s.SaveMessage(ctx, m))
	}
	require.NoError(t, s.SaveMessage(ctx, saved[4]), "duplicate save is ignored")

	msgs, err := s.LoadMessages(ctx, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{msgs[0].Seq, msgs[1].Seq, msgs[2].Seq})
	assert.Equal(t, saved[2].ID, msgs[0].ID)
	assert.True(t, saved[2].Timestamp.Equal(msgs[0].Timestamp))

	require.NoError(t, s.TrimMessages(ctx, 2))
	msgs, err = s.LoadMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(4), msgs[0].Seq)

	require.NoError(t, s.ClearMessages(ctx))
	msgs, err = s.LoadMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHead(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	head, err := s.LoadHead(ctx)
	require.NoError(t, err)
	assert.Zero(t, head)

	require.NoError(t, s.SaveHead(ctx, 9))
	require.NoError(t, s.SaveHead(ctx, 4), "an older head is ignored")
	require.NoError(t, s.ClearMessages(ctx))

	head, err = s.LoadHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), head)
}

func TestMessages_InReplyTo(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	question := testMessage(1, "alpha", "beta", comms.KindDirect)
	answer := testMessage(2, "beta", "alpha", comms.KindDirect)
	answer.InReplyTo = question.ID
	require.NoError(t, s.SaveMessage(ctx, question))
	require.NoError(t, s.SaveMessage(ctx, answer))

	msgs, err := s.LoadMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].InReplyTo)
	assert.Equal(t, question.ID, msgs[1].InReplyTo)
}

func TestSaveMessage_Invalid(t *testing.T) {
	s, _ := newTestStore(t)
	m := testMessage(1, "alpha", "alpha", comms.KindDirect)
	assert.Error(t, s.SaveMessage(context.Background(), m))
}

func TestHubRestoreFromSQLite(t *testing.T) {
	s, path := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := hub.New(hub.Config{}, hub.WithStore(s), hub.WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"alpha", "beta"} {
		_, err := h.Register(comms.Registration{ID: id})
		require.NoError(t, err)
	}
	_, err := h.Send("alpha", "beta", "persisted")
	require.NoError(t, err)

	cancel()
	<-done
	require.NoError(t, s.Close())

	reopened, err := Open(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	restored := hub.New(hub.Config{}, hub.WithStore(reopened), hub.WithLogger(logger))
	require.NoError(t, restored.Restore(context.Background()))

	stats := restored.Stats()
	assert.Equal(t, 2, stats.TotalAgents)
	assert.Equal(t, 1, stats.LogLength)

	msgs, err := restored.Poll(context.Background(), hub.PollRequest{AgentID: "beta"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "persisted", msgs[0].Body)
}
