package packs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRefPattern restricts the characters allowed in a derived pack ref.
const DefaultRefPattern = `^[a-z0-9_-]+$`

var defaultDeriver = &Deriver{pattern: regexp.MustCompile(DefaultRefPattern)}

// Deriver computes canonical pack refs from metadata.
type Deriver struct {
	pattern *regexp.Regexp
}

// NewDeriver compiles the ref whitelist. An empty pattern selects DefaultRefPattern.
func NewDeriver(pattern string) (*Deriver, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return defaultDeriver, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile ref pattern: %w", err)
	}
	return &Deriver{pattern: re}, nil
}

// Pattern returns the whitelist expression.
func (d *Deriver) Pattern() string {
	return d.pattern.String()
}

// Valid reports whether value may be used as a derived ref.
func (d *Deriver) Valid(value string) bool {
	return value != "" && d.pattern.MatchString(value)
}

// DeriveRef picks the pack ref: an explicit metadata ref wins unvalidated, then a valid
// directory name, then a valid metadata name.
func (d *Deriver) DeriveRef(metadata map[string]any, directoryName string) (string, error) {
	if ref := stringField(metadata, "ref"); ref != "" {
		return ref, nil
	}
	if d.Valid(directoryName) {
		return directoryName, nil
	}
	name := stringField(metadata, "name")
	if d.Valid(name) {
		return name, nil
	}
	return "", &InvalidReferenceError{Name: name}
}

// DeriveRef derives a ref using DefaultRefPattern.
func DeriveRef(metadata map[string]any, directoryName string) (string, error) {
	return defaultDeriver.DeriveRef(metadata, directoryName)
}

// LoadMetadata reads pack.yaml (or pack.yml) from a pack directory.
func LoadMetadata(dir string) (map[string]any, error) {
	var data []byte
	var err error
	for _, name := range []string{"pack.yaml", "pack.yml"} {
		data, err = os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err != nil {
		return nil, fmt.Errorf("pack.yaml not found: %w", err)
	}
	metadata := map[string]any{}
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("parse pack.yaml: %w", err)
	}
	return metadata, nil
}

// RefFromDirectory loads the metadata in dir and derives its ref, using the directory's
// base name as the directory candidate.
func (d *Deriver) RefFromDirectory(dir string) (string, map[string]any, error) {
	metadata, err := LoadMetadata(dir)
	if err != nil {
		return "", nil, err
	}
	ref, err := d.DeriveRef(metadata, filepath.Base(filepath.Clean(dir)))
	if err != nil {
		return "", metadata, err
	}
	return ref, metadata, nil
}

func stringField(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	switch v := metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
