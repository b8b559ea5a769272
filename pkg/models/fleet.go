package models

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FleetTarget is one screen address a worker run should process
type FleetTarget struct {
	Slug          string `yaml:"slug"`
	RecordSeconds int    `yaml:"record_seconds,omitempty"`
}

// Fleet is the YAML form of a worker target list
type Fleet struct {
	Screens []FleetTarget `yaml:"screens"`
}

// LoadFleet builds the target list from a comma-separated list and/or a file.
// Files ending in .yaml or .yml are parsed as a Fleet document, anything else
// as one slug per line with '#' comments. Duplicates keep their first position.
func LoadFleet(slugs, file string) ([]FleetTarget, error) {
	var targets []FleetTarget

	for _, s := range strings.Split(slugs, ",") {
		if s = strings.TrimSpace(s); s != "" {
			targets = append(targets, FleetTarget{Slug: s})
		}
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read fleet file %s: %w", file, err)
		}

		var fromFile []FleetTarget
		switch strings.ToLower(filepath.Ext(file)) {
		case ".yaml", ".yml":
			fromFile, err = parseFleetYAML(data)
		default:
			fromFile, err = parseFleetLines(data)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse fleet file %s: %w", file, err)
		}
		targets = append(targets, fromFile...)
	}

	return dedupeTargets(targets), nil
}

func parseFleetYAML(data []byte) ([]FleetTarget, error) {
	var fleet Fleet
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return nil, err
	}

	targets := make([]FleetTarget, 0, len(fleet.Screens))
	for i, t := range fleet.Screens {
		t.Slug = strings.TrimSpace(t.Slug)
		if t.Slug == "" {
			return nil, fmt.Errorf("screens[%d]: slug is required", i)
		}
		if t.RecordSeconds < 0 {
			return nil, fmt.Errorf("screens[%d]: record_seconds must not be negative", i)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func parseFleetLines(data []byte) ([]FleetTarget, error) {
	var targets []FleetTarget
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, FleetTarget{Slug: line})
	}
	return targets, scanner.Err()
}

func dedupeTargets(in []FleetTarget) []FleetTarget {
	seen := make(map[string]bool, len(in))
	out := make([]FleetTarget, 0, len(in))
	for _, t := range in {
		if seen[t.Slug] {
			continue
		}
		seen[t.Slug] = true
		out = append(out, t)
	}
	return out
}

// Slugs returns the bare slugs of targets.
func Slugs(targets []FleetTarget) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.Slug
	}
	return out
}
