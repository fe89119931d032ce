package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/event-sourced-account/internal/account"
	"github.com/jensholdgaard/event-sourced-account/internal/config"
	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

func TestLoadTest(t *testing.T) {
	snapshotter, err := eventsourcing.SnapshotterFor[account.Event](10)
	require.NoError(t, err)

	store := account.NewStore(eventsourcing.NewMemoryStore[[]byte]())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := account.NewService(store, snapshotter, logger, noop.NewTracerProvider(),
		account.WithRetry(1000, 0),
	)

	res, err := loadTest(t.Context(), svc, logger, 4, 50)
	require.NoError(t, err)
	require.Equal(t, 200, res.Deposits)
	require.EqualValues(t, 200, res.Balance)
	require.Equal(t, 201, res.Events)
}

func TestOptions_Apply(t *testing.T) {
	tests := []struct {
		name         string
		opts         options
		wantWorkers  int
		wantRounds   int
		wantAttempts int
	}{
		{
			name:         "config values kept",
			wantWorkers:  8,
			wantRounds:   1000,
			wantAttempts: 3,
		},
		{
			name:         "flags override",
			opts:         options{workers: 2, rounds: 5, maxAttempts: 50},
			wantWorkers:  2,
			wantRounds:   5,
			wantAttempts: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.opts.apply(cfg)
			require.Equal(t, tt.wantWorkers, cfg.LoadTest.Workers)
			require.Equal(t, tt.wantRounds, cfg.LoadTest.Rounds)
			require.Equal(t, tt.wantAttempts, cfg.Retry.MaxAttempts)
		})
	}
}
