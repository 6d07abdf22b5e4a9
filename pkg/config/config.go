// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/forgeloop/forgeloop/pkg/types"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from a file
func (m *Manager) LoadConfig(path string) (*types.BuildConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.BuildConfig

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		if err := m.ValidateConfig(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	// Try YAML - converted through JSON so both formats share one tag set
	var yamlData map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err == nil {
		jsonData, err := json.Marshal(yamlData)
		if err == nil {
			if err := json.Unmarshal(jsonData, &cfg); err == nil {
				if err := m.ValidateConfig(&cfg); err != nil {
					return nil, err
				}
				return &cfg, nil
			}
		}
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(config *types.BuildConfig) error {
	if config.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", config.Version)
	}

	if len(config.Modules) == 0 {
		return fmt.Errorf("no modules defined")
	}

	declared := make(map[types.ModuleID]bool, len(config.Modules))
	for i, module := range config.Modules {
		if module.ID == "" {
			return fmt.Errorf("module %d: missing id", i)
		}
		if declared[module.ID] {
			return fmt.Errorf("duplicate module id: %s", module.ID)
		}
		declared[module.ID] = true
	}

	for _, module := range config.Modules {
		for _, dep := range module.DependsOn {
			if dep == module.ID {
				return fmt.Errorf("module %s depends on itself", module.ID)
			}
			if !declared[dep] {
				return fmt.Errorf("module %s depends on undeclared module %s", module.ID, dep)
			}
		}
	}

	if config.Engine != nil {
		if config.Engine.MaxIterationsPerModule < 0 {
			return fmt.Errorf("maxIterationsPerModule must not be negative")
		}
		switch config.Engine.ConflictCheckpoint {
		case "", types.ConflictCheckpointPerPhase, types.ConflictCheckpointEndOfBuild:
		default:
			return fmt.Errorf("invalid conflictCheckpoint: %s", config.Engine.ConflictCheckpoint)
		}
		if config.Engine.OperationTimeout < 0 {
			return fmt.Errorf("operationTimeout must not be negative")
		}
	}

	return nil
}

// GetDefaultConfig returns a minimal starter configuration
func (m *Manager) GetDefaultConfig() *types.BuildConfig {
	engine := types.DefaultEngineOptions()
	return &types.BuildConfig{
		Version:   "1.0",
		BuildKind: "default",
		Engine:    &engine,
		Modules: []types.ModuleDeclaration{
			{
				ID:              "core",
				BuildCommand:    "make core",
				ValidateCommand: "make test-core",
			},
		},
	}
}
