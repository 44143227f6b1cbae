package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTextAndJSON(t *testing.T) {
	saved := L
	defer func() { L = saved }()

	var out bytes.Buffer
	Init(Options{Enabled: true, Writer: &out, Level: slog.LevelDebug})
	Debug("pool added", "size", 4096)
	require.Contains(t, out.String(), "pool added")
	require.Contains(t, out.String(), "size=4096")

	out.Reset()
	Init(Options{Enabled: true, Writer: &out, JSON: true})
	Debug("hidden")
	Info("region freed", "count", 2)
	require.NotContains(t, out.String(), "hidden", "debug must be filtered at the default info level")
	require.Contains(t, out.String(), `"count":2`)

	out.Reset()
	Init(Options{})
	Error("discarded")
	require.Empty(t, out.String())
}
