package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	// Drain the pipe concurrently so large outputs cannot block fn.
	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done), fnErr
}

// resetGlobals puts the global flags back to their defaults for one test.
func resetGlobals(t *testing.T, asJSON bool) {
	t.Helper()
	quiet, verbose, jsonOut = false, false, asJSON
	t.Cleanup(func() { jsonOut = false })
}

// defaultStressFlags returns the stress flags as the command line would
// leave them with no arguments, scaled down for tests.
func defaultStressFlags(kind string) *stressFlags {
	f := &stressFlags{}
	f.register(&cobra.Command{})
	f.kind = kind
	f.spaceMB = 64
	f.rounds = 3
	f.threads = 3
	f.ops = 400
	return f
}

func defaultRegionsFlags() *regionsFlags {
	f := &regionsFlags{}
	f.register(&cobra.Command{})
	f.spaceMB = 64
	f.objects = 4000
	return f
}

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), "output: %s", out)
	return v
}
