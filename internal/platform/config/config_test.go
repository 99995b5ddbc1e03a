package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/intelgraph_test")
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 4, cfg.IngestionThreshold)
	require.Equal(t, 20, cfg.TaskBatchSize)
	require.Equal(t, 90, cfg.ChainWindowDays)
	require.Equal(t, 5, cfg.ChainMaxEntries)
	require.Equal(t, 10, cfg.ChainMaxEntityIDs)
	require.Contains(t, cfg.TermDenylist, "company")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/intelgraph_test")
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("INGESTION_THRESHOLD", "7")
	t.Setenv("TERM_DENYLIST", "foo,bar")
	t.Setenv("HARVEST_FEEDS", "https://a.example/feed,https://b.example/rss")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 7, cfg.IngestionThreshold)
	require.Equal(t, []string{"foo", "bar"}, cfg.TermDenylist)
	require.Len(t, cfg.HarvestFeeds, 2)
}

func TestLoadMissingRequired(t *testing.T) {
	// t.Setenv registers the restore; unset so "required" actually trips.
	t.Setenv("POSTGRES_DSN", "x")
	t.Setenv("LLM_API_KEY", "x")
	os.Unsetenv("POSTGRES_DSN")
	os.Unsetenv("LLM_API_KEY")

	_, err := Load()
	require.Error(t, err)
}
