package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the optional YAML file tuning lifecycle behavior.
type Policy struct {
	Protected       []string      `yaml:"protected_packs"`
	FailFastKinds   []string      `yaml:"fail_fast_kinds"`
	RefPattern      string        `yaml:"ref_pattern"`
	RegisterTimeout time.Duration `yaml:"register_timeout"`
}

// LoadPolicy reads YAML from path. An empty path or a missing file yields nil.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return nil, nil
	}
	// #nosec G304 -- policy path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read packs policy %s: %w", path, err)
	}
	policy, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("parse packs policy %s: %w", path, err)
	}
	return policy, nil
}

// ParsePolicy validates and decodes a policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if err := validateConfigSchema("packs policy", policySchemaFile, data); err != nil {
		return nil, err
	}
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parse packs policy: %w", err)
	}
	return &policy, nil
}
