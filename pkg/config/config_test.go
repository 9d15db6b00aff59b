package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverride(t *testing.T) {
	t.Setenv("RESEARCH_AGENT_STORAGE_DRIVER", "memory")
	t.Setenv("RESEARCH_AGENT_CHART_TAG", "chart_payload")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "chart_payload", cfg.Chart.Tag)
	assert.Equal(t, 7, cfg.Research.MaxDepth)
	assert.Equal(t, 0.7, cfg.Research.MinRelevanceForNextDepth)
	assert.Equal(t, "openai:gpt-4o-mini", cfg.LLM.DefaultModel)
	assert.True(t, cfg.LLM.Providers["openai"].Enabled)
}

func TestLoadRejectsOutOfRangeDepth(t *testing.T) {
	t.Setenv("RESEARCH_AGENT_RESEARCH_MAXDEPTH", "11")

	_, err := Load()
	assert.ErrorContains(t, err, "maxDepth")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage:  StorageConfig{Driver: "redis"},
			Research: ResearchConfig{MaxDepth: 3, MaxSourcesPerDepth: 5},
			LLM:      LLMConfig{DefaultModel: "openai:gpt-4o"},
		}
	}

	c := valid()
	assert.NoError(t, c.Validate())

	c = valid()
	c.Storage.Driver = "etcd"
	assert.Error(t, c.Validate())

	c = valid()
	c.LLM.DefaultModel = "gpt-4o"
	assert.Error(t, c.Validate())

	c = valid()
	c.Research.MaxSourcesPerDepth = 0
	assert.Error(t, c.Validate())
}
