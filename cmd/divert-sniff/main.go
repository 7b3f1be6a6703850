// Command divert-sniff opens a WinDivert handle through the shim and logs
// one line per packet. With -sniff=false packets are diverted and
// reinjected, optionally after checksum recalculation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"divert-shim/internal/adapter"
	"divert-shim/internal/divert"
	"divert-shim/internal/driver"
	"divert-shim/internal/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config (flags set explicitly override it)")
	filter := flag.String("filter", defaultFilter, "WinDivert filter")
	layer := flag.String("layer", defaultLayer, "WinDivert layer: network or network-forward")
	priority := flag.Int("priority", 0, "handle priority")
	sniff := flag.Bool("sniff", true, "copy packets instead of diverting them")
	recalc := flag.Bool("recalc", false, "recalculate checksums before reinjecting (needs -sniff=false)")
	count := flag.Int("count", 0, "stop after this many packets (0=unlimited)")
	buffer := flag.Int("buffer", defaultBuffer, "receive buffer length in packets")
	dllDir := flag.String("windivert-dir", "", "directory containing WinDivert.dll (default: exe dir, then DLL search order)")
	logLevel := flag.String("log-level", defaultLogLevel, "silent, error, warning, info or debug")
	flag.Parse()

	setFlags := make(map[string]bool)
	flag.CommandLine.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := effectiveConfig(cliArgs{
		ConfigPath:   *configPath,
		Filter:       *filter,
		Layer:        *layer,
		Priority:     *priority,
		Sniff:        *sniff,
		Recalc:       *recalc,
		Count:        *count,
		Buffer:       *buffer,
		WinDivertDir: *dllDir,
		LogLevel:     *logLevel,
	}, setFlags)
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)

	if dir, err := driver.Locate(cfg.WinDivertDir, divert.DefaultModuleName); err != nil {
		if cfg.WinDivertDir != "" {
			return err
		}
		log.Debugf("%v; falling back to the DLL search order", err)
	} else {
		log.Debugf("using %s from %s", divert.DefaultModuleName, dir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := divert.Default()
	if err := api.Bind(); err != nil {
		return fmt.Errorf("bind %s failed: %w", api.ModuleName(), err)
	}
	ad, err := adapter.NewWinDivert(api, cfg.Adapter)
	if err != nil {
		return fmt.Errorf("WinDivert open failed: %w", err)
	}
	log.Infof("capturing %q on %s layer", cfg.Adapter.Filter, cfg.Adapter.Layer)

	n, err := capture(ctx, ad, cfg)
	if closeErr := ad.Close(); closeErr != nil {
		log.Errorf("close failed: %v", closeErr)
	}
	log.Infof("%d packets seen, %d reinjected by the adapter", n, ad.Reinjected())
	return err
}
