package codec

import (
	"fmt"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// YAML encodes entities with gopkg.in/yaml.v3
type YAML struct{}

// Name returns the codec identifier
func (YAML) Name() string {
	return NameYAML
}

// Marshal encodes v
func (YAML) Marshal(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes data into v
func (YAML) Unmarshal(data []byte, v any) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("yaml unmarshal: %w", err)
	}
	return nil
}

// Char is a nullable single character. It is written as a one-character
// YAML scalar, or as "~" when null. Tag the field ",omitempty" to drop
// null characters from the output instead.
type Char struct {
	Value rune
	Valid bool
}

// NewChar returns a non-null Char
func NewChar(r rune) Char {
	return Char{Value: r, Valid: true}
}

// IsZero lets yaml omitempty skip null characters
func (c Char) IsZero() bool {
	return !c.Valid
}

// MarshalYAML implements yaml.Marshaler
func (c Char) MarshalYAML() (any, error) {
	if !c.Valid {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "~"}, nil
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(c.Value)}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (c *Char) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("char: expected scalar, got node kind %d at line %d", node.Kind, node.Line)
	}
	if node.ShortTag() == "!!null" {
		*c = Char{}
		return nil
	}
	if utf8.RuneCountInString(node.Value) != 1 {
		return fmt.Errorf("char: %q is not a single character (line %d)", node.Value, node.Line)
	}
	r, _ := utf8.DecodeRuneInString(node.Value)
	*c = NewChar(r)
	return nil
}
