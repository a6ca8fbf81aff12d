package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// TenantsConfig holds per-tenant overrides of the scheduler/market knobs.
type TenantsConfig struct {
	Tenants map[string]Config `yaml:"tenants"`
}

// Manager resolves the effective Config for a tenant, merging per-tenant
// overrides on top of the global config. Most deployments run a single
// tenant and never load a tenants file.
type Manager struct {
	globalConfig  *Config
	tenantConfigs map[string]Config
	mu            sync.RWMutex
}

// NewManager loads the master config and, if present, a tenant-overrides file.
func NewManager(masterPath, tenantsPath string) (*Manager, error) {
	master, err := LoadConfig(masterPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(tenantsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{globalConfig: master, tenantConfigs: make(map[string]Config)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var tc TenantsConfig
	if err := yaml.NewDecoder(f).Decode(&tc); err != nil {
		return nil, err
	}

	return &Manager{
		globalConfig:  master,
		tenantConfigs: tc.Tenants,
	}, nil
}

// Get returns the effective config for a tenant: the global config with any
// non-zero per-tenant scheduler/market/websocket/dispatch overrides applied
// on top.
func (m *Manager) Get(tenantID string) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.globalConfig

	override, ok := m.tenantConfigs[tenantID]
	if !ok {
		return &effective
	}

	if override.Scheduler.MaxConcurrentCompetitions != 0 {
		effective.Scheduler = override.Scheduler
	}
	if override.Market.MaxBetSize != 0 || override.Market.SandboxStartingBalance != 0 {
		effective.Market = override.Market
	}
	if override.WebSocket.MaxConnPerIP != 0 {
		effective.WebSocket = override.WebSocket
	}
	if override.Dispatch.PerTurnTimeoutMS != 0 {
		effective.Dispatch = override.Dispatch
	}

	return &effective
}
