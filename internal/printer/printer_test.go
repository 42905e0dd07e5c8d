package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/pkg/comms"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr := Stdout, Stderr
	Stdout, Stderr = &out, &errOut
	t.Cleanup(func() { Stdout, Stderr = oldOut, oldErr })
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Hub unreachable", "Could not connect", nil)
		require.Error(t, err)
		require.Equal(t, "Hub unreachable", err.Error())
		assert.Contains(t, stderr.String(), "Could not connect")
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "Explanation", []string{"Start the hub"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "Start the hub")
		assert.NotContains(t, stderr.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "Explanation", []string{"First option", "Second option"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "Either:")
		assert.Contains(t, stderr.String(), "2. Second option")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, stderr := capture(t)
	err := ErrorWithContext("Agent not found", "", map[string]string{"Agent": "alpha"}, nil)
	require.Equal(t, "Agent not found", err.Error())
	assert.Contains(t, stderr.String(), "Agent: alpha")
}

func TestSuccessPrefix(t *testing.T) {
	stdout, _ := capture(t)
	Success("sent %s\n", "abc")
	Success("✓ already prefixed\n")
	assert.Contains(t, stdout.String(), "✓ sent abc")
	assert.NotContains(t, stdout.String(), "✓ ✓")
}

func TestStatus(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })

	assert.Equal(t, "online", Status(comms.StatusOnline, "online"))
	assert.Equal(t, "other", Status(comms.Status("other"), "other"))
}
