package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// setFlags sets global flags for one test and restores them afterwards.
func setFlags(t *testing.T, json, emulate, constrain bool) {
	t.Helper()
	prevJSON, prevEmulated, prevConstrained, prevQuiet := jsonOut, emulated, constrained, quiet
	jsonOut, emulated, constrained, quiet = json, emulate, constrain, false
	t.Cleanup(func() {
		jsonOut, emulated, constrained, quiet = prevJSON, prevEmulated, prevConstrained, prevQuiet
	})
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	// Drain concurrently so large reports cannot fill the pipe.
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

// decodeJSON checks that output is valid JSON and decodes it into v
func decodeJSON(t *testing.T, output string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
