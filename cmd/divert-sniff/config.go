package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"divert-shim/internal/adapter"
	"divert-shim/internal/divert"
	"divert-shim/internal/log"
)

const (
	defaultFilter   = "ip and (tcp or udp)"
	defaultLayer    = "network"
	defaultBuffer   = 1024
	defaultLogLevel = "info"
)

type fileConfig struct {
	Filter       *string       `yaml:"filter,omitempty"`
	Layer        *string       `yaml:"layer,omitempty"`
	Priority     *int          `yaml:"priority,omitempty"`
	Sniff        *bool         `yaml:"sniff,omitempty"`
	Recalc       *bool         `yaml:"recalc,omitempty"`
	Count        *int          `yaml:"count,omitempty"`
	Buffer       *int          `yaml:"buffer,omitempty"`
	WinDivertDir *string       `yaml:"windivert_dir,omitempty"`
	LogLevel     *log.LogLevel `yaml:"log_level,omitempty"`
}

type cliArgs struct {
	ConfigPath   string
	Filter       string
	Layer        string
	Priority     int
	Sniff        bool
	Recalc       bool
	Count        int
	Buffer       int
	WinDivertDir string
	LogLevel     string
}

type runConfig struct {
	Adapter      adapter.Options
	Recalc       bool
	Count        int
	WinDivertDir string
	LogLevel     log.LogLevel
}

func (c runConfig) sniffing() bool {
	return c.Adapter.Flags&divert.FlagSniff != 0
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// effectiveConfig overlays the config file (if any) with flags that were
// set explicitly on the command line.
func effectiveConfig(args cliArgs, setFlags map[string]bool) (runConfig, error) {
	if args.ConfigPath != "" {
		fc, err := loadFileConfig(args.ConfigPath)
		if err != nil {
			return runConfig{}, err
		}
		applyFileConfig(&args, fc, setFlags)
	}

	layer, err := parseLayer(args.Layer)
	if err != nil {
		return runConfig{}, err
	}
	level, err := log.ParseLevel(args.LogLevel)
	if err != nil {
		return runConfig{}, fmt.Errorf("log-level %q: %w", args.LogLevel, err)
	}

	cfg := runConfig{
		Adapter: adapter.Options{
			Filter: strings.TrimSpace(args.Filter),
			Layer:  layer,
			Buffer: args.Buffer,
		},
		Recalc:       args.Recalc,
		Count:        args.Count,
		WinDivertDir: strings.TrimSpace(args.WinDivertDir),
		LogLevel:     level,
	}
	if args.Sniff {
		cfg.Adapter.Flags = divert.FlagSniff | divert.FlagRecvOnly
	}
	if args.Priority < int(divert.PriorityLowest) || args.Priority > int(divert.PriorityHighest) {
		return runConfig{}, fmt.Errorf("priority must be in %d..%d", divert.PriorityLowest, divert.PriorityHighest)
	}
	cfg.Adapter.Priority = int16(args.Priority)

	if err := cfg.validate(); err != nil {
		return runConfig{}, err
	}
	return cfg, nil
}

func applyFileConfig(args *cliArgs, fc fileConfig, setFlags map[string]bool) {
	if fc.Filter != nil && !setFlags["filter"] {
		args.Filter = *fc.Filter
	}
	if fc.Layer != nil && !setFlags["layer"] {
		args.Layer = *fc.Layer
	}
	if fc.Priority != nil && !setFlags["priority"] {
		args.Priority = *fc.Priority
	}
	if fc.Sniff != nil && !setFlags["sniff"] {
		args.Sniff = *fc.Sniff
	}
	if fc.Recalc != nil && !setFlags["recalc"] {
		args.Recalc = *fc.Recalc
	}
	if fc.Count != nil && !setFlags["count"] {
		args.Count = *fc.Count
	}
	if fc.Buffer != nil && !setFlags["buffer"] {
		args.Buffer = *fc.Buffer
	}
	if fc.WinDivertDir != nil && !setFlags["windivert-dir"] {
		args.WinDivertDir = *fc.WinDivertDir
	}
	if fc.LogLevel != nil && !setFlags["log-level"] {
		args.LogLevel = fc.LogLevel.String()
	}
}

func parseLayer(s string) (divert.Layer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "network", "":
		return divert.LayerNetwork, nil
	case "network-forward", "forward":
		return divert.LayerNetworkForward, nil
	}
	return 0, fmt.Errorf("layer %q: only network and network-forward carry packets", s)
}

func (c runConfig) validate() error {
	if c.Adapter.Filter == "" {
		return errors.New("filter is empty")
	}
	if c.Adapter.Buffer < 1 {
		return errors.New("buffer must be >= 1")
	}
	if c.Count < 0 {
		return errors.New("count must be >= 0")
	}
	if c.Recalc && c.sniffing() {
		return errors.New("recalc needs a diverting handle; set -sniff=false")
	}
	return nil
}
