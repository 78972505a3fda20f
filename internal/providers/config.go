package providers

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nextlevelbuilder/opengoat/internal/paths"
)

// configSchemaVersion is the stored provider config version this build
// understands.
const configSchemaVersion = 1

// StoredConfig is the per-provider document at
// providers/<id>/config.json. Env holds the middle layer of the
// defaults < stored < caller env stack.
type StoredConfig struct {
	SchemaVersion int               `json:"schemaVersion"`
	Command       string            `json:"command,omitempty"`
	Arguments     []string          `json:"arguments,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
}

// LoadStoredConfig reads a provider's stored config. A missing file is
// not an error (zero value); an unparseable or wrong-version file
// surfaces ErrInvalidProviderConfig.
func LoadStoredConfig(layout paths.Layout, providerID string) (StoredConfig, error) {
	path := layout.ProviderConfigPath(providerID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StoredConfig{SchemaVersion: configSchemaVersion}, nil
		}
		return StoredConfig{}, err
	}

	var cfg StoredConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return StoredConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalidProviderConfig, path, err)
	}
	if cfg.SchemaVersion != 0 && cfg.SchemaVersion != configSchemaVersion {
		return StoredConfig{}, fmt.Errorf("%w: %s: schema version %d, want %d",
			ErrInvalidProviderConfig, path, cfg.SchemaVersion, configSchemaVersion)
	}
	return cfg, nil
}

// LayerEnv builds the effective environment: defaults, then stored config
// values, then caller overrides. Later layers win.
func LayerEnv(defaults, stored, caller map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(stored)+len(caller))
	for _, layer := range []map[string]string{defaults, stored, caller} {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
