// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package round

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into an Input.
func Parse(data []byte) (*Input, error) {
	stripped := jsonc.ToJSON(data)

	var input Input
	if err := json.Unmarshal(stripped, &input); err != nil {
		return nil, fmt.Errorf("parsing round: %w", err)
	}
	return &input, nil
}

// ParseYAML decodes a YAML round file. The document is converted to
// JSON first so the json field names apply to both formats.
func ParseYAML(data []byte) (*Input, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parsing round YAML: %w", err)
	}
	converted, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("converting round YAML: %w", err)
	}
	return Parse(converted)
}

// ReadFile reads a round file from disk. Files ending in .yaml or .yml
// are parsed as YAML; everything else as JSONC.
func ReadFile(path string) (*Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var input *Input
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		input, err = ParseYAML(data)
	default:
		input, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return input, nil
}
