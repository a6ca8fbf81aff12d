package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_FillsEverySubsystem(t *testing.T) {
	c := &Config{}
	c.applyDefaults()

	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, 10, c.Scheduler.MaxConcurrentCompetitions)
	assert.Equal(t, 15000, c.Dispatch.PerTurnTimeoutMS)
	assert.EqualValues(t, 1<<20, c.Dispatch.MaxResponseBytes)
	assert.Equal(t, 10, c.WebSocket.MaxConnPerIP)
	assert.Equal(t, 20, c.WebSocket.ConnRatePerMin)
	assert.Equal(t, 5, c.WebSocket.VoteRatePer10s)
	assert.Equal(t, 1000, c.WebSocket.EventHistoryMax)
	assert.Equal(t, 600, c.WebSocket.HistoryMaxAgeSec)
	assert.Equal(t, 25, c.Market.StaleMarketHours)
	assert.Equal(t, 30, c.Market.AutoResolverIntervalMin)
	assert.Equal(t, 10000.0, c.Market.SandboxStartingBalance)
	assert.Equal(t, 1000.0, c.Market.MaxBetSize)
	assert.Equal(t, 0.5, c.Rating.SystemConstant)
	assert.NotEmpty(t, c.Vault.ProcessSecret)
}

func TestApplyEnvOverrides_RatingSpanner(t *testing.T) {
	os.Setenv("RATING_SPANNER_PROJECT_ID", "proj1")
	os.Setenv("RATING_SPANNER_INSTANCE_ID", "inst1")
	os.Setenv("RATING_SPANNER_DATABASE", "db1")
	defer os.Unsetenv("RATING_SPANNER_PROJECT_ID")
	defer os.Unsetenv("RATING_SPANNER_INSTANCE_ID")
	defer os.Unsetenv("RATING_SPANNER_DATABASE")

	c := &Config{}
	c.applyEnvOverrides()

	assert.Equal(t, "proj1", c.Rating.Spanner.ProjectID)
	assert.Equal(t, "inst1", c.Rating.Spanner.InstanceID)
	assert.Equal(t, "db1", c.Rating.Spanner.Database)
}

func TestApplyEnvOverrides_LeavesSpannerEmptyWhenUnset(t *testing.T) {
	c := &Config{}
	c.applyEnvOverrides()
	assert.Equal(t, "", c.Rating.Spanner.ProjectID)
}
