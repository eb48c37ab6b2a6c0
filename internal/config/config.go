// Package config provides configuration loading and path management.
//
// Configuration is merged from multiple sources (later sources win):
//
//  1. Global config (~/.config/pair-review/, XDG compatible)
//  2. Project config (pair-review.{json,jsonc,yaml} in the working directory)
//  3. PAIRREVIEW_CONFIG file override
//  4. PAIRREVIEW_* environment variables
//
// JSON files may carry JSONC comments; .yaml/.yml files are parsed as YAML.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// Load loads the merged configuration for a working directory.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	// 1. XDG-compatible global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "pair-review.json"))
	loadOnce(filepath.Join(globalPath, "pair-review.jsonc"))
	loadOnce(filepath.Join(globalPath, "pair-review.yaml"))

	// 2. Project config
	if directory != "" {
		for _, name := range []string{"pair-review.json", "pair-review.jsonc", "pair-review.yaml", "pair-review.yml"} {
			loadOnce(filepath.Join(directory, name))
		}
	}

	// 3. PAIRREVIEW_CONFIG file override
	if configPath := os.Getenv("PAIRREVIEW_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	// 4. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file into config.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	var fileConfig types.Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	default:
		// Strip JSONC comments before decoding
		if err := json.Unmarshal(jsonc.ToJSON(data), &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// mergeConfig merges source config into target, field by field.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if source.Server.DataDir != "" {
		target.Server.DataDir = source.Server.DataDir
	}
	if source.Server.EnableCORS {
		target.Server.EnableCORS = true
	}
	if source.Server.SessionTTLSeconds != 0 {
		target.Server.SessionTTLSeconds = source.Server.SessionTTLSeconds
	}
	if source.Client.BaseURL != "" {
		target.Client.BaseURL = source.Client.BaseURL
	}
	if source.Client.ReviewID != "" {
		target.Client.ReviewID = source.Client.ReviewID
	}
	if source.Client.ProviderHint != "" {
		target.Client.ProviderHint = source.Client.ProviderHint
	}
	if source.Client.ReconnectDelayMS != 0 {
		target.Client.ReconnectDelayMS = source.Client.ReconnectDelayMS
	}
	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.Pretty {
		target.Log.Pretty = true
	}
}

// applyEnvOverrides applies PAIRREVIEW_* environment variables.
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("PAIRREVIEW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("PAIRREVIEW_DATA_DIR"); v != "" {
		config.Server.DataDir = v
	}
	if v := os.Getenv("PAIRREVIEW_SESSION_TTL"); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil {
			config.Server.SessionTTLSeconds = ttl
		}
	}
	if v := os.Getenv("PAIRREVIEW_BASE_URL"); v != "" {
		config.Client.BaseURL = v
	}
	if v := os.Getenv("PAIRREVIEW_REVIEW_ID"); v != "" {
		config.Client.ReviewID = v
	}
	if v := os.Getenv("PAIRREVIEW_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("PAIRREVIEW_LOG_PRETTY"); v != "" {
		config.Log.Pretty = strings.EqualFold(v, "true") || v == "1"
	}
}
