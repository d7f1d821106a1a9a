package main

import (
	"context"
	"testing"

	"github.com/tdurouchoux/home-monitoring-display/internal/config"
	"github.com/tdurouchoux/home-monitoring-display/pkg/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Timezone = "UTC"
	cfg.Storage.Path = t.TempDir()
	cfg.Connectors = make(map[string]config.ConnectorConfig)
	return cfg
}

// reopen fails while another handle still holds the badger directory lock
func assertStoreReleased(t *testing.T, cfg *config.Config) {
	t.Helper()

	store, err := storage.NewLocalStore(cfg.ToStorageConfig())
	if err != nil {
		t.Fatalf("Expected local store to be closed by run, reopen failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Failed to close reopened store: %v", err)
	}
}

func TestRunClosesStoreOnStartupError(t *testing.T) {
	cfg := testConfig(t)
	// Opened after the local store, rejected for its missing database
	cfg.Connectors["influx"] = config.ConnectorConfig{Host: "localhost"}

	if err := run(context.Background(), cfg); err == nil {
		t.Fatal("Expected run to fail on an invalid connector")
	}

	assertStoreReleased(t, cfg)
}

func TestRunStopsWhenContextIsDone(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := run(ctx, cfg); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}

	assertStoreReleased(t, cfg)
}
