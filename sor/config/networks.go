package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Cogwheel-Validator/spectra-sor/sor/service"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/pelletier/go-toml/v2"
)

// LoadNetworks reads the chain table from a .json or .toml file.
func LoadNetworks(filePath string) ([]service.Network, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read networks file: %w", err)
	}

	var file networkFile
	if strings.HasSuffix(filePath, ".json") {
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON networks: %w", err)
		}
	} else {
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse TOML networks: %w", err)
		}
	}

	networks, err := convertNetworks(file.Networks)
	if err != nil {
		return nil, err
	}
	log.Info().Int("networks", len(networks)).Str("file", filePath).Msg("Loaded networks")
	return networks, nil
}

func convertNetworks(entries []networkEntry) ([]service.Network, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no networks in config")
	}

	seen := make(map[string]bool, len(entries))
	networks := make([]service.Network, 0, len(entries))
	var errs []error
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("network %d: name is required", i))
			continue
		}
		if seen[strings.ToLower(name)] {
			errs = append(errs, fmt.Errorf("network %s: duplicate name", name))
			continue
		}
		seen[strings.ToLower(name)] = true

		if e.ChainID <= 0 {
			errs = append(errs, fmt.Errorf("network %s: chain_id must be positive", name))
		}
		wrapped, err := tokens.ParseAddress(e.WrappedNative)
		if err != nil {
			errs = append(errs, fmt.Errorf("network %s: wrapped_native: %w", name, err))
		}
		if e.NativeDecimals < 0 || e.NativeDecimals > 18 {
			errs = append(errs, fmt.Errorf("network %s: native_decimals must be between 0 and 18", name))
		}

		networks = append(networks, service.Network{
			Name:            name,
			ChainID:         e.ChainID,
			WrappedNative:   wrapped,
			NativeSymbol:    e.NativeSymbol,
			NativeDecimals:  e.NativeDecimals,
			ExcludedPoolIDs: e.ExcludedPoolIDs,
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return networks, nil
}
