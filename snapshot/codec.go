package snapshot

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Codec Interface
// =============================================================================

// Codec encodes snapshot lists for export and import.
type Codec interface {
	// Marshal converts a Go value to bytes
	Marshal(v any) ([]byte, error)

	// Unmarshal converts bytes back to a Go value
	Unmarshal(data []byte, target any) error

	// Name returns the codec name (for debugging/logging)
	Name() string
}

// =============================================================================
// JSONCodec Implementation
// =============================================================================

// JSONCodec is the default codec and the persistence format.
type JSONCodec struct {
	// Indent pretty-prints output when non-empty.
	Indent string
}

// NewJSONCodec creates a compact JSON codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

func (c *JSONCodec) Marshal(v any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if c.Indent != "" {
		data, err = json.MarshalIndent(v, "", c.Indent)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return data, nil
}

func (c *JSONCodec) Unmarshal(data []byte, target any) error {
	if target == nil {
		return fmt.Errorf("unmarshal target cannot be nil")
	}
	if len(data) == 0 {
		return fmt.Errorf("data is empty")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}
	return nil
}

func (c *JSONCodec) Name() string {
	return "json"
}

// =============================================================================
// YAMLCodec Implementation
// =============================================================================

// YAMLCodec writes human-editable recordings.
type YAMLCodec struct{}

// NewYAMLCodec creates a YAML codec.
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

func (c *YAMLCodec) Marshal(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml marshal failed: %w", err)
	}
	return data, nil
}

func (c *YAMLCodec) Unmarshal(data []byte, target any) error {
	if target == nil {
		return fmt.Errorf("unmarshal target cannot be nil")
	}
	if len(data) == 0 {
		return fmt.Errorf("data is empty")
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("yaml unmarshal failed: %w", err)
	}
	return nil
}

func (c *YAMLCodec) Name() string {
	return "yaml"
}

// CodecByName returns the codec for "json" or "yaml".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot codec %q", name)
	}
}
