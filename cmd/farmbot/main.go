package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roman-kulish/ingress-farmbot/internal/config"
	"github.com/roman-kulish/ingress-farmbot/internal/farm"
	"github.com/roman-kulish/ingress-farmbot/internal/geo"
	"github.com/roman-kulish/ingress-farmbot/internal/geoindex"
	"github.com/roman-kulish/ingress-farmbot/internal/persistence/journal"
	"github.com/roman-kulish/ingress-farmbot/internal/store"
	"github.com/roman-kulish/ingress-farmbot/internal/telemetry"
	"github.com/roman-kulish/ingress-farmbot/internal/transport/rpc"
)

type flags struct {
	configPath string
	username   string
	minLevel   int
	faction    string
	lat, lng   float64
	set        map[string]bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "configs/farmbot.yaml", "config file")
	flag.StringVar(&f.username, "u", "", "account name, loads <accounts_dir>/<name>.yaml")
	flag.IntVar(&f.minLevel, "l", -1, "minimum target level (overrides config)")
	flag.StringVar(&f.faction, "f", "", "faction filter: any, aliens|green, resistance|blue")
	flag.Float64Var(&f.lat, "lat", 0, "start latitude")
	flag.Float64Var(&f.lng, "lng", 0, "start longitude")
	flag.Parse()
	f.set = map[string]bool{}
	flag.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	logger := log.New(os.Stdout, "[farmbot] ", log.LstdFlags|log.Lmicroseconds)
	if err := run(f, logger); err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(f flags, logger *log.Logger) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if f.username != "" {
		if err := cfg.LoadAccount(f.username); err != nil {
			return fmt.Errorf("account: %w", err)
		}
	}
	if f.minLevel >= 0 {
		cfg.MinLevel = f.minLevel
	}
	if f.faction != "" {
		cfg.Faction = f.faction
	}
	if f.set["lat"] || f.set["lng"] {
		if cfg.Location == nil {
			cfg.Location = &geo.LatLng{}
		}
		if f.set["lat"] {
			cfg.Location.Lat = f.lat
		}
		if f.set["lng"] {
			cfg.Location.Lng = f.lng
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	st, err := store.Open(cfg.StorePath(), cfg.Store.Schema, store.WithCooldowns(store.Cooldowns{
		Action:  cfg.Policy.HackInterval,
		Burnout: cfg.Policy.BurnoutInterval,
	}))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()
	logger.Printf("Cache %s", cfg.StorePath())

	opts := farm.Options{
		Location: cfg.Location,
		Faction:  cfg.FactionFilter(),
		MinLevel: cfg.MinLevel,
		Policy: farm.Policy{
			MinEnergy:    cfg.Policy.MinEnergy,
			StepMin:      cfg.Policy.StepMinM,
			StepMax:      cfg.Policy.StepMaxM,
			ScannerArea:  cfg.Policy.ScannerAreaM,
			PortalsRange: cfg.Policy.PortalsRangeM,
			Pace:         cfg.Policy.Pace,
		},
		Logger: logger,
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.JournalDir != "" {
		actions, err := journal.NewActions(cfg.JournalDir)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer actions.Close()
		opts.Journal = actions
	}
	rec, err := telemetry.NewRecorder(cfg.TelemetryDir)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer rec.Close()
	opts.Telemetry = rec

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := rpc.Dial(ctx, rpc.Config{
		URL:     cfg.Server.URL,
		Timeout: cfg.Server.Timeout,
		Credentials: rpc.Credentials{
			Username:   cfg.Account.Username,
			Password:   cfg.Account.Password,
			AppInfo:    cfg.Account.AppInfo,
			DeviceInfo: cfg.Account.DeviceInfo,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	engine := farm.New(client, geoindex.New(), st, opts)
	if err := engine.Run(ctx); err != nil {
		return err
	}
	logger.Printf("Done: %s", engine.Reason())
	return nil
}
