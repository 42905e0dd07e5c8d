package registry

import (
	"testing"
	"time"

	"github.com/dyluth/warren/pkg/comms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func register(t *testing.T, r *Registry, id string, now time.Time) comms.Agent {
	t.Helper()
	agent, err := r.Register(comms.Registration{ID: id, Name: id}, now)
	require.NoError(t, err)
	return agent
}

func TestRegister(t *testing.T) {
	t.Run("new agent is online", func(t *testing.T) {
		r := New()
		agent := register(t, r, "alpha", epoch)

		assert.Equal(t, comms.StatusOnline, agent.Status)
		assert.Equal(t, epoch, agent.LastHeartbeat)
		assert.Equal(t, epoch, agent.RegisteredAt)
	})

	t.Run("re-registration upserts and keeps registered_at", func(t *testing.T) {
		r := New()
		register(t, r, "alpha", epoch)
		_, err := r.SetStatus("alpha", comms.StatusOffline)
		require.NoError(t, err)

		later := epoch.Add(time.Minute)
		agent, err := r.Register(comms.Registration{
			ID:           "alpha",
			Name:         "Alpha v2",
			Capabilities: []string{"plan"},
		}, later)
		require.NoError(t, err)

		assert.Equal(t, "Alpha v2", agent.Name)
		assert.Equal(t, []string{"plan"}, agent.Capabilities)
		assert.Equal(t, comms.StatusOnline, agent.Status)
		assert.Equal(t, later, agent.LastHeartbeat)
		assert.Equal(t, epoch, agent.RegisteredAt)
	})

	t.Run("surrounding whitespace names the same agent", func(t *testing.T) {
		r := New()
		register(t, r, "alpha", epoch)

		agent, err := r.Register(comms.Registration{ID: "  alpha\t", Name: "padded"}, epoch.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, "alpha", agent.ID)

		agents := r.List()
		require.Len(t, agents, 1)
		assert.Equal(t, "padded", agents[0].Name)

		_, err = r.Heartbeat("alpha", epoch.Add(2*time.Second))
		assert.NoError(t, err)
	})

	t.Run("whitespace-only id is malformed", func(t *testing.T) {
		_, err := New().Register(comms.Registration{ID: "   "}, epoch)
		assert.ErrorIs(t, err, comms.ErrMalformedRequest)
	})

	t.Run("missing id is malformed", func(t *testing.T) {
		_, err := New().Register(comms.Registration{}, epoch)
		assert.ErrorIs(t, err, comms.ErrMalformedRequest)
	})
}

func TestHeartbeat(t *testing.T) {
	t.Run("unknown agent is not found", func(t *testing.T) {
		_, err := New().Heartbeat("ghost", epoch)
		assert.ErrorIs(t, err, comms.ErrNotFound)
	})

	t.Run("flips offline and warning back online", func(t *testing.T) {
		for _, status := range []comms.Status{comms.StatusOffline, comms.StatusWarning} {
			r := New()
			register(t, r, "alpha", epoch)
			_, err := r.SetStatus("alpha", status)
			require.NoError(t, err)

			agent, err := r.Heartbeat("alpha", epoch.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, comms.StatusOnline, agent.Status)
		}
	})

	t.Run("never moves last_heartbeat backwards", func(t *testing.T) {
		r := New()
		register(t, r, "alpha", epoch)

		agent, err := r.Heartbeat("alpha", epoch.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, epoch, agent.LastHeartbeat)
	})
}

func TestSetActivity(t *testing.T) {
	r := New()
	register(t, r, "alpha", epoch)

	agent, err := r.SetActivity("alpha", "warning", "degraded", epoch.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, agent.Activity)
	assert.Equal(t, "degraded", agent.Activity.Detail)
	assert.Equal(t, epoch, agent.LastHeartbeat, "activity must not touch the liveness timer")
	assert.Equal(t, comms.StatusOnline, agent.Status)

	_, err = r.SetActivity("ghost", "idle", "", epoch)
	assert.ErrorIs(t, err, comms.ErrNotFound)

	_, err = r.SetActivity("alpha", "", "", epoch)
	assert.ErrorIs(t, err, comms.ErrMalformedRequest)
}

func TestSetStatus(t *testing.T) {
	r := New()
	register(t, r, "alpha", epoch)

	agent, err := r.SetStatus("alpha", comms.StatusWarning)
	require.NoError(t, err)
	assert.Equal(t, comms.StatusWarning, agent.Status)

	_, err = r.SetStatus("alpha", "sleepy")
	assert.ErrorIs(t, err, comms.ErrMalformedRequest)

	_, err = r.SetStatus("ghost", comms.StatusOnline)
	assert.ErrorIs(t, err, comms.ErrNotFound)
}

func TestSweep(t *testing.T) {
	timeout := 30 * time.Second

	t.Run("boundary is inclusive of timeout", func(t *testing.T) {
		r := New()
		register(t, r, "alpha", epoch)

		assert.Empty(t, r.Sweep(epoch.Add(timeout), timeout))
		agent, _ := r.Get("alpha")
		assert.Equal(t, comms.StatusOnline, agent.Status)

		changed := r.Sweep(epoch.Add(timeout+time.Millisecond), timeout)
		require.Len(t, changed, 1)
		assert.Equal(t, comms.StatusOffline, changed[0].Status)
	})

	t.Run("steady heartbeats stay online", func(t *testing.T) {
		r := New()
		register(t, r, "alpha", epoch)

		// Heartbeat every 5s for 40s, sweeping every 10s.
		for elapsed := 5 * time.Second; elapsed <= 40*time.Second; elapsed += 5 * time.Second {
			now := epoch.Add(elapsed)
			_, err := r.Heartbeat("alpha", now)
			require.NoError(t, err)
			if elapsed%(10*time.Second) == 0 {
				assert.Empty(t, r.Sweep(now, timeout))
			}
		}
		agent, _ := r.Get("alpha")
		assert.Equal(t, comms.StatusOnline, agent.Status)
	})

	t.Run("silent agent goes offline on next sweep after timeout", func(t *testing.T) {
		r := New()
		register(t, r, "beta", epoch)

		assert.Empty(t, r.Sweep(epoch.Add(10*time.Second), timeout))
		assert.Empty(t, r.Sweep(epoch.Add(20*time.Second), timeout))
		assert.Empty(t, r.Sweep(epoch.Add(30*time.Second), timeout))

		changed := r.Sweep(epoch.Add(40*time.Second), timeout)
		require.Len(t, changed, 1)
		assert.Equal(t, "beta", changed[0].ID)
	})

	t.Run("only online agents are swept", func(t *testing.T) {
		r := New()
		register(t, r, "alpha", epoch)
		_, err := r.SetStatus("alpha", comms.StatusWarning)
		require.NoError(t, err)

		assert.Empty(t, r.Sweep(epoch.Add(time.Hour), timeout))
		agent, _ := r.Get("alpha")
		assert.Equal(t, comms.StatusWarning, agent.Status)
	})
}

func TestListAndCounts(t *testing.T) {
	r := New()
	register(t, r, "gamma", epoch)
	register(t, r, "alpha", epoch)
	register(t, r, "beta", epoch)
	_, err := r.SetStatus("beta", comms.StatusOffline)
	require.NoError(t, err)

	agents := r.List()
	require.Len(t, agents, 3)
	assert.Equal(t, "alpha", agents[0].ID)
	assert.Equal(t, "gamma", agents[2].ID)

	online, total := r.Counts()
	assert.Equal(t, 2, online)
	assert.Equal(t, 3, total)

	t.Run("snapshots are detached", func(t *testing.T) {
		agents[0].Capabilities = append(agents[0].Capabilities, "mutated")
		agents[0].Status = comms.StatusOffline
		agent, _ := r.Get("alpha")
		assert.Empty(t, agent.Capabilities)
		assert.Equal(t, comms.StatusOnline, agent.Status)
	})
}

func TestRestore(t *testing.T) {
	r := New()
	r.Restore([]*comms.Agent{
		{ID: "alpha", Status: comms.StatusOnline, LastHeartbeat: epoch, RegisteredAt: epoch},
		nil,
		{ID: ""},
	})

	_, total := r.Counts()
	assert.Equal(t, 1, total)

	agent, err := r.Heartbeat("alpha", epoch.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, epoch, agent.RegisteredAt)
}
