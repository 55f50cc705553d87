// SPDX-License-Identifier: MPL-2.0

// Package jsonfile reads and writes schema-versioned JSON documents.
//
// Every document carries a "version" field. Readers reject documents whose
// version differs from the expected one instead of guessing at their layout.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// versionKey is the reserved top-level field holding the schema version.
const versionKey = "version"

// ErrSchemaVersion is returned when a document's schema version does not
// match the version the caller expects.
var ErrSchemaVersion = fmt.Errorf("unsupported schema version")

// Load reads the JSON document at path into v after verifying its schema
// version. A missing file, malformed JSON, a missing version field, or a
// version mismatch all return an error.
func Load(path string, v any, expectedVersion int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var envelope struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if envelope.Version == nil {
		return fmt.Errorf("%s: missing %q field: %w", path, versionKey, ErrSchemaVersion)
	}
	if *envelope.Version != expectedVersion {
		return fmt.Errorf("%s: schema version %d, expected %d: %w",
			path, *envelope.Version, expectedVersion, ErrSchemaVersion)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// Write marshals v to path with the schema version injected as a top-level
// "version" field. v must marshal to a JSON object.
func Write(path string, v any, version int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%s: document is not a JSON object: %w", path, err)
	}
	verData, err := json.Marshal(version)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	doc[versionKey] = verData

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	out = append(out, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
