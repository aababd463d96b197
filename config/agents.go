package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/researchmesh/core"
)

// LoadAgents reads every *.yaml / *.yml file in dir as one agent definition.
// Files starting with "." or "_" are skipped. A missing directory yields no
// agents. Definitions are validated with core.AgentConfig.Normalize and
// names must be unique.
func LoadAgents(dir string) ([]core.AgentConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	configs := make([]core.AgentConfig, 0, len(entries))
	seen := map[string]string{}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		cfg, err := LoadAgentFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[cfg.Name]; dup {
			return nil, core.NewConfigurationError("name", "agent %q defined in both %s and %s", cfg.Name, prev, path)
		}
		seen[cfg.Name] = path
		configs = append(configs, cfg)
	}
	return configs, nil
}

// LoadAgentFile parses and validates a single agent definition.
func LoadAgentFile(path string) (core.AgentConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return core.AgentConfig{}, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg core.AgentConfig
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return core.AgentConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	normalized, err := cfg.Normalize()
	if err != nil {
		return core.AgentConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return normalized, nil
}
