package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "account.db") +
		"\nevent_sourcing:\n  snapshot_frequency: 2\ntelemetry:\n  log_level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func runJSON(t *testing.T, cfgPath string, v any, args ...string) {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(cfgPath, args, &out))
	if v != nil {
		require.NoError(t, json.Unmarshal(out.Bytes(), v))
	}
}

func TestRun_Lifecycle(t *testing.T) {
	cfg := writeConfig(t)
	owner := uuid.NewString()

	var opened map[string]uuid.UUID
	runJSON(t, cfg, &opened, "open", "-owner", owner)
	id := opened["account_id"].String()
	require.NotEqual(t, uuid.Nil.String(), id)

	other := uuid.NewString()
	runJSON(t, cfg, nil, "open", "-owner", owner, "-account", other)

	tx := uuid.NewString()
	runJSON(t, cfg, nil, "deposit", "-account", id, "-amount", "100", "-tx", tx)
	runJSON(t, cfg, nil, "deposit", "-account", id, "-amount", "100", "-tx", tx)
	runJSON(t, cfg, nil, "withdraw", "-account", id, "-amount", "30")
	runJSON(t, cfg, nil, "transfer", "-from", id, "-to", other, "-amount", "20")

	var snap struct {
		Balance int64 `json:"balance"`
		Open    bool  `json:"open"`
	}
	runJSON(t, cfg, &snap, "get", "-account", id)
	require.EqualValues(t, 50, snap.Balance)
	require.True(t, snap.Open)

	var events []struct {
		SequenceNumber int64  `json:"sequence_number"`
		EventType      string `json:"event_type"`
	}
	runJSON(t, cfg, &events, "events", "-account", id)
	require.Len(t, events, 4)
	for i, e := range events {
		require.EqualValues(t, i+1, e.SequenceNumber)
	}
	require.Equal(t, "MoneyDeposited", events[1].EventType)
}

func TestRun_Usage(t *testing.T) {
	cfg := writeConfig(t)
	tests := []struct {
		name string
		args []string
	}{
		{name: "no command"},
		{name: "unknown command", args: []string{"frobnicate"}},
		{name: "missing amount", args: []string{"deposit", "-account", uuid.NewString()}},
		{name: "bad uuid", args: []string{"get", "-account", "not-a-uuid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(cfg, tt.args, &bytes.Buffer{})
			require.ErrorIs(t, err, errUsage)
		})
	}
}
