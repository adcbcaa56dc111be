// Package codec serializes entity instances for storage backends.
package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Codec encodes and decodes entity values
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codec names accepted by ByName and the configuration file
const (
	NameMsgpack = "msgpack"
	NameJSON    = "json"
	NameYAML    = "yaml"
)

var registry = map[string]Codec{
	NameMsgpack: Msgpack{},
	NameJSON:    JSON{},
	NameYAML:    YAML{},
}

// Default returns the codec used when none is configured
func Default() Codec {
	return Msgpack{}
}

// ByName resolves a codec by its name; the empty name selects Default.
func ByName(name string) (Codec, error) {
	if name == "" {
		return Default(), nil
	}
	c, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names lists the registered codec names in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
