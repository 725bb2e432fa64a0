package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/hyperwatch/pkg/types"
)

// destinationConfig is one destination entry in the YAML document. It
// embeds types.Config for the fields every Config already carries
// (interval, owner, host filters, ...) and adds the two fields that are
// meaningless on a source: which destination-worker variant to build, and
// which manager adapter to dispatch to.
type destinationConfig struct {
	types.Config `yaml:",inline"`
	Kind         string `yaml:"kind"`
	Manager      string `yaml:"manager"`
}

// document is the single YAML file cmd/hyperwatchd loads (SPEC_FULL.md §10:
// intentionally minimal, no env-var layering or CLI flag merging).
type document struct {
	Sources      []types.Config      `yaml:"sources"`
	Destinations []destinationConfig `yaml:"destinations"`
}

// loadDocument reads and parses the config file at path.
func loadDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &doc, nil
}

// destinationKind maps the document's free-text kind field to
// types.DestinationKind, defaulting to DestinationDefault (the
// batching/Satellite-6-shaped worker) when unset.
func destinationKind(raw string) (types.DestinationKind, error) {
	switch strings.ToLower(raw) {
	case "", "default", "satellite6":
		return types.DestinationDefault, nil
	case "satellite5":
		return types.DestinationSatellite5, nil
	default:
		return "", fmt.Errorf("unknown destination kind %q", raw)
	}
}
