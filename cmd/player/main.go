// Package main provides the player entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/cadencefm/cadence/internal/app/autodj"
	"github.com/cadencefm/cadence/internal/app/coordinator"
	"github.com/cadencefm/cadence/internal/app/events"
	"github.com/cadencefm/cadence/internal/app/queue"
	"github.com/cadencefm/cadence/internal/app/sleeptimer"
	"github.com/cadencefm/cadence/internal/app/transport"
	"github.com/cadencefm/cadence/internal/infra/config"
	beepengine "github.com/cadencefm/cadence/internal/infra/engine/beep"
	"github.com/cadencefm/cadence/internal/infra/logger"
	"github.com/cadencefm/cadence/internal/infra/spotify"
)

var (
	app        = kingpin.New("cadence", "cadence playback core")
	configPath = app.Flag("config", "Path to config file").Default("config/player.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	// Bootstrap logging from flags alone so a config load failure is
	// still visible; the validated logger section applies right after.
	boot := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		boot.Level = "debug"
	}
	if err := logger.Init(boot); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := logger.Init(loggerConfig(cfg, *verbose, *logfile)); err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Player error: %v", err)
		os.Exit(1)
	}
}

// loggerConfig merges the config file's logger section with the CLI
// overrides; flags win over the file.
func loggerConfig(cfg *config.Config, verbose bool, logfile string) logger.Config {
	lc := logger.Config{
		Output: cfg.Logger.Output,
		Level:  cfg.Logger.Level,
		File:   cfg.Logger.File,
	}
	if lc.File != "" {
		lc.Output = lc.File
	}
	if verbose {
		lc.Level = "debug"
	}
	if logfile != "" {
		lc.Output = logfile
		lc.File = logfile
	}
	return lc
}

// run wires the playback core. A separate function ensures defers execute
// even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	if cfg.Library.Type != "spotify" {
		return fmt.Errorf("unsupported library type: %s", cfg.Library.Type)
	}
	librarySettings, err := spotify.ParseSettings(cfg.Library.Settings)
	if err != nil {
		return fmt.Errorf("invalid library settings: %w", err)
	}
	library, err := spotify.New(ctx, librarySettings)
	if err != nil {
		return fmt.Errorf("failed to create library source: %w", err)
	}

	if cfg.Engine.Type != "beep" {
		return fmt.Errorf("unsupported engine type: %s", cfg.Engine.Type)
	}
	engineSettings, err := beepengine.ParseSettings(cfg.Engine.Settings)
	if err != nil {
		return fmt.Errorf("invalid engine settings: %w", err)
	}
	slot1, err := beepengine.New(engineSettings)
	if err != nil {
		return fmt.Errorf("failed to create engine slot: %w", err)
	}
	defer slot1.Close()
	slot2, err := beepengine.New(engineSettings)
	if err != nil {
		return fmt.Errorf("failed to create engine slot: %w", err)
	}
	defer slot2.Close()

	bus := events.NewBus()
	defer bus.Close()

	store := queue.NewStore()
	store.SetRepeat(queue.ParseRepeatMode(cfg.Player.Repeat))
	store.ToggleShuffle(cfg.Player.Shuffle)

	coord := coordinator.New(slot1, slot2,
		coordinator.ParseStyle(cfg.Player.Transition), cfg.Player.CrossfadeSec)

	ctrl := transport.NewController(store, coord, library, library, bus, transport.Config{
		Volume:           cfg.Player.Volume,
		Speed:            cfg.Player.Speed,
		ProgressInterval: time.Duration(cfg.Player.ProgressIntervalMs) * time.Millisecond,
	})
	defer ctrl.Close()

	dj := autodj.NewEngine(store, library, autodj.Config{
		Enabled:   cfg.AutoDJ.Enabled,
		Threshold: cfg.AutoDJ.Threshold,
		Batch:     cfg.AutoDJ.Batch,
	})
	defer dj.Close()
	dj.Attach(bus)

	sleep := sleeptimer.New(ctrl)
	sleep.Attach(bus)

	// Mirror the event stream into the debug log
	bus.SubscribeAll(func(e events.Event) {
		if e.Type() == transport.TypeProgress {
			return
		}
		zlog.Debug().Msgf("event: %s: %+v", e.Type(), e)
	})

	zlog.Info().Msgf("cadence ready: transition=%s volume=%d autodj=%t",
		cfg.Player.Transition, cfg.Player.Volume, cfg.AutoDJ.Enabled)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	zlog.Info().Msgf("Shutting down")
	ctrl.Stop()
	return nil
}
