package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is the on-disk description of one test session.
type Scenario struct {
	Name      string  `yaml:"name"`
	TargetURL string  `yaml:"target_url"`
	Actions   Script  `yaml:"actions"`
	Options   Options `yaml:"options"`
}

// LoadFile reads a YAML scenario from path.
func LoadFile(path string) (*Scenario, error) {
	return LoadFileWithDefaults(path, DefaultOptions())
}

// LoadFileWithDefaults reads a YAML scenario from path. Options the file does
// not set keep their values from base.
func LoadFileWithDefaults(path string, base Options) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseWithDefaults(data, base)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a YAML scenario. Options not present in the document keep
// the values from DefaultOptions.
func Parse(data []byte) (*Scenario, error) {
	return ParseWithDefaults(data, DefaultOptions())
}

// ParseWithDefaults decodes a YAML scenario on top of base.
func ParseWithDefaults(data []byte, base Options) (*Scenario, error) {
	sc := &Scenario{Options: base.WithDefaults()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(sc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}

	if _, err := ParseTargetURL(sc.TargetURL); err != nil {
		return nil, err
	}
	if err := sc.Actions.Validate(); err != nil {
		return nil, err
	}
	sc.Options = sc.Options.WithDefaults()
	if err := sc.Options.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}
