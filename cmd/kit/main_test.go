package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/runtime"
)

func TestResponderFor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("fallback without api key", func(t *testing.T) {
		cfg := &runtime.Config{HubURL: "http://hub", AgentID: "alpha"}
		cfg.ApplyDefaults()

		r, err := responderFor(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, runtime.FallbackResponder{Reply: "Acknowledged."}, r)
	})

	t.Run("backend with api key", func(t *testing.T) {
		cfg := &runtime.Config{HubURL: "http://hub", AgentID: "alpha", BackendAPIKey: "sk-test"}
		cfg.ApplyDefaults()

		r, err := responderFor(cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &runtime.BackendResponder{}, r)
	})
}
