package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/dyluth/warren/pkg/comms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestSend(t *testing.T) {
	t.Run("assigns id, sequence and timestamp", func(t *testing.T) {
		b := New(0)
		msg, err := b.Send("alpha", "beta", "hello", epoch)
		require.NoError(t, err)

		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, uint64(1), msg.Seq)
		assert.Equal(t, epoch, msg.Timestamp)
		assert.Equal(t, comms.KindDirect, msg.Kind)
		assert.NoError(t, msg.Validate())
		assert.Equal(t, uint64(1), b.Total())
	})

	t.Run("self-addressed message is always rejected", func(t *testing.T) {
		b := New(0)
		for _, id := range []string{"alpha", "beta", "a-very-long-agent-id"} {
			_, err := b.Send(id, id, "x", epoch)
			assert.ErrorIs(t, err, comms.ErrSelfAddress)
		}
		assert.Zero(t, b.Len())
		assert.Zero(t, b.Total())
	})

	t.Run("empty recipient means broadcast", func(t *testing.T) {
		b := New(0)
		msg, err := b.Send("alpha", "", "ping", epoch)
		require.NoError(t, err)
		assert.Equal(t, comms.KindBroadcast, msg.Kind)
		assert.Equal(t, comms.BroadcastSentinel, msg.ToAgent)
	})

	t.Run("missing sender is malformed", func(t *testing.T) {
		_, err := New(0).Send("", "beta", "x", epoch)
		assert.ErrorIs(t, err, comms.ErrMalformedRequest)
	})

	t.Run("timestamps never go backwards", func(t *testing.T) {
		b := New(0)
		first, err := b.Send("alpha", "beta", "1", epoch)
		require.NoError(t, err)
		second, err := b.Send("alpha", "beta", "2", epoch.Add(-time.Minute))
		require.NoError(t, err)

		assert.False(t, second.Timestamp.Before(first.Timestamp))
		assert.Greater(t, second.Seq, first.Seq)
	})
}

func TestPoll(t *testing.T) {
	t.Run("direct message reaches recipient only", func(t *testing.T) {
		b := New(0)
		sent, err := b.Send("alpha", "beta", "x", epoch)
		require.NoError(t, err)

		got := b.Poll(Query{AgentID: "beta", Limit: 1})
		require.Len(t, got, 1)
		assert.Equal(t, "x", got[0].Body)
		assert.Equal(t, "alpha", got[0].FromAgent)
		assert.Equal(t, sent.ID, got[0].ID)

		assert.Empty(t, b.Poll(Query{AgentID: "alpha"}))
		assert.Empty(t, b.Poll(Query{AgentID: "gamma"}))
	})

	t.Run("broadcast reaches everyone but the sender", func(t *testing.T) {
		b := New(0)
		_, err := b.Send("alpha", comms.BroadcastSentinel, "ping", epoch)
		require.NoError(t, err)

		for _, id := range []string{"beta", "gamma"} {
			got := b.Poll(Query{AgentID: id, Limit: 1})
			require.Len(t, got, 1, id)
			assert.Equal(t, "ping", got[0].Body)
		}
		assert.Empty(t, b.Poll(Query{AgentID: "alpha", Limit: 1}))
	})

	t.Run("oldest first and bounded by limit", func(t *testing.T) {
		b := New(0)
		for i := 0; i < 5; i++ {
			_, err := b.Send("alpha", "beta", fmt.Sprintf("m%d", i), epoch.Add(time.Duration(i)*time.Second))
			require.NoError(t, err)
		}

		got := b.Poll(Query{AgentID: "beta"})
		require.Len(t, got, 1)
		assert.Equal(t, "m0", got[0].Body)

		got = b.Poll(Query{AgentID: "beta", Limit: 3})
		require.Len(t, got, 3)
		for i := 1; i < len(got); i++ {
			assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
		}
	})

	t.Run("cursor skips consumed messages", func(t *testing.T) {
		b := New(0)
		first, _ := b.Send("alpha", "beta", "first", epoch)
		_, _ = b.Send("alpha", "gamma", "other", epoch)
		_, _ = b.Send("alpha", "beta", "second", epoch)

		got := b.Poll(Query{AgentID: "beta", After: first.Seq})
		require.Len(t, got, 1)
		assert.Equal(t, "second", got[0].Body)
	})

	t.Run("poll is a pure filter", func(t *testing.T) {
		b := New(0)
		_, _ = b.Send("alpha", "beta", "x", epoch)

		assert.Equal(t, b.Poll(Query{AgentID: "beta"}), b.Poll(Query{AgentID: "beta"}))
	})

	t.Run("broadcasts older than registration are hidden", func(t *testing.T) {
		b := New(0)
		_, _ = b.Send("alpha", comms.BroadcastSentinel, "early", epoch)
		_, _ = b.Send("alpha", comms.BroadcastSentinel, "late", epoch.Add(time.Minute))

		got := b.Poll(Query{AgentID: "delta", Since: epoch.Add(time.Second), Limit: 10})
		require.Len(t, got, 1)
		assert.Equal(t, "late", got[0].Body)
	})
}

func TestRecent(t *testing.T) {
	b := New(0)
	for i := 0; i < 3; i++ {
		_, err := b.Send("alpha", "beta", fmt.Sprintf("m%d", i), epoch)
		require.NoError(t, err)
	}

	got := b.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].Body)
	assert.Equal(t, "m1", got[1].Body)

	assert.Len(t, b.Recent(0), 3)
}

func TestRetention(t *testing.T) {
	b := New(3)
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		msg, err := b.Send("alpha", "beta", fmt.Sprintf("m%d", i), epoch)
		require.NoError(t, err)
		assert.False(t, seen[msg.ID], "ids must stay unique after trimming")
		seen[msg.ID] = true
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(10), b.Total())
	assert.Equal(t, uint64(10), b.Head())

	got := b.Poll(Query{AgentID: "beta", Limit: 10})
	require.Len(t, got, 3)
	assert.Equal(t, "m7", got[0].Body)
}

func TestClear(t *testing.T) {
	b := New(0)
	_, _ = b.Send("alpha", "beta", "x", epoch)
	b.Clear()

	assert.Zero(t, b.Len())
	assert.Zero(t, b.Total())

	msg, err := b.Send("alpha", "beta", "y", epoch)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), msg.Seq, "sequence keeps increasing across clear")
}

func TestRestore(t *testing.T) {
	b := New(2)
	older, _ := New(0).Send("alpha", "beta", "old", epoch)
	var msgs []*comms.Message
	for i, body := range []string{"c", "a", "b"} {
		m := comms.Message{ID: fmt.Sprintf("id-%d", i), FromAgent: "alpha", ToAgent: "beta", Kind: comms.KindDirect, Body: body, Timestamp: epoch}
		msgs = append(msgs, &m)
	}
	msgs[0].Seq, msgs[1].Seq, msgs[2].Seq = 30, 10, 20
	msgs = append(msgs, &older, nil)

	b.Restore(msgs, 0)

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, uint64(30), b.Head())
	got := b.Poll(Query{AgentID: "beta", Limit: 10})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Body)
	assert.Equal(t, "c", got[1].Body)

	next, err := b.Send("alpha", "beta", "next", epoch)
	require.NoError(t, err)
	assert.Equal(t, uint64(31), next.Seq)
}

func TestRestoreResumesAfterPersistedHead(t *testing.T) {
	b := New(0)
	var cursor uint64
	for i := 0; i < 5; i++ {
		msg, err := b.Send("alpha", "beta", "before clear", epoch)
		require.NoError(t, err)
		cursor = msg.Seq
	}
	b.Clear()

	// A cleared log restores no messages; only the head survives.
	restarted := New(0)
	restarted.Restore(nil, b.Head())

	msg, err := restarted.Send("alpha", "beta", "after restart", epoch)
	require.NoError(t, err)
	assert.Equal(t, cursor+1, msg.Seq)

	got := restarted.Poll(Query{AgentID: "beta", After: cursor, Limit: 10})
	require.Len(t, got, 1)
	assert.Equal(t, "after restart", got[0].Body)
}

func TestRestoreKeepsHigherMessageSeq(t *testing.T) {
	b := New(0)
	m := comms.Message{ID: "id-0", Seq: 7, FromAgent: "alpha", ToAgent: "beta", Kind: comms.KindDirect, Timestamp: epoch}
	b.Restore([]*comms.Message{&m}, 3)
	assert.Equal(t, uint64(7), b.Head())
}

func TestReply(t *testing.T) {
	b := New(0)
	question, err := b.Send("alpha", "beta", "ping", epoch)
	require.NoError(t, err)

	answer, err := b.Reply("beta", "alpha", question.ID, "pong", epoch)
	require.NoError(t, err)
	assert.Equal(t, question.ID, answer.InReplyTo)
	assert.True(t, answer.IsReply())
	assert.False(t, question.IsReply())

	_, err = b.Reply("beta", "alpha", "not-an-id", "pong", epoch)
	assert.ErrorIs(t, err, comms.ErrMalformedRequest)
}
