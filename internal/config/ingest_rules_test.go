package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIngestRulesFileMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.yml")
	content := []byte(`ingest:
  providerAliases:
    AliCloud: gcp
  defaultRecommendationType: Rightsizing
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := LoadIngestRulesFile(path)
	require.NoError(t, err)

	rules := holder.Get()
	assert.Equal(t, "gcp", rules.ProviderAliases["alicloud"])
	assert.Equal(t, "aws", rules.ProviderAliases["amazon"])
	assert.Equal(t, "Rightsizing", rules.DefaultRecommendationType)
}

func TestLoadIngestRulesFileRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.yml")
	content := []byte(`ingest:
  providerAliases:
    oracle: oci
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := LoadIngestRulesFile(path)
	assert.Error(t, err)
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var holder *IngestRulesHolder
	rules := holder.Get()
	assert.Equal(t, "General", rules.DefaultRecommendationType)
	assert.Equal(t, "azure", rules.ProviderAliases["microsoft"])
}

func TestGetenvDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("INGEST_TX_TIMEOUT", "12")
	cfg := Load()
	assert.Equal(t, int64(12), int64(cfg.Ingest.TxTimeout.Seconds()))

	t.Setenv("INGEST_TX_TIMEOUT", "1500ms")
	cfg = Load()
	assert.Equal(t, int64(1500), cfg.Ingest.TxTimeout.Milliseconds())
}
