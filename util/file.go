package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveJson writes data as indented json, creating parent directories.
func SaveJson(path string, data interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	bs, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return os.WriteFile(path, bs, 0644)
}

// LoadYaml decodes the yaml file at path into out. Keys absent from the file
// leave the corresponding fields of out untouched.
func LoadYaml(path string, out interface{}) error {
	bs, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(bs, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
