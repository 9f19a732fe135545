package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tkjaer/tcplat/internal/shared"
)

// DefaultProbeConfiguration holds the values used for keys missing from a probe file
func DefaultProbeConfiguration() shared.ProbeConfiguration {
	return shared.ProbeConfiguration{
		Addresses:   append([]string(nil), DefaultAddresses...),
		IntervalMs:  3000,
		Repetitions: 3,
		PauseMs:     100,
	}
}

// LoadProbeFile reads and validates a YAML probe file
func LoadProbeFile(path string) (shared.ProbeConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return shared.ProbeConfiguration{}, fmt.Errorf("reading probe file: %w", err)
	}
	return ParseProbeFile(data)
}

// ParseProbeFile decodes a YAML probe file on top of the defaults
func ParseProbeFile(data []byte) (shared.ProbeConfiguration, error) {
	cfg := DefaultProbeConfiguration()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return shared.ProbeConfiguration{}, fmt.Errorf("parsing probe file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return shared.ProbeConfiguration{}, fmt.Errorf("invalid probe file: %w", err)
	}
	return cfg, nil
}
