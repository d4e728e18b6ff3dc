package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/finshlink/internal/config"
	"codeberg.org/mutker/finshlink/internal/dispatch"
	"codeberg.org/mutker/finshlink/internal/logger"
	"codeberg.org/mutker/finshlink/internal/pid"
	"codeberg.org/mutker/finshlink/internal/source"
	"codeberg.org/mutker/finshlink/internal/statusapi"
	"codeberg.org/mutker/finshlink/internal/telemetry"
	"codeberg.org/mutker/finshlink/internal/transport"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to claim pid file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove pid file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	poller := buildPoller(ctx, cfg)

	tr := transport.NewManager(transport.NewSerialOpener(), transport.NewSerialLister())
	trCfg := transport.Config{
		Device:       cfg.Device,
		BaudRate:     cfg.BaudRate,
		WriteTimeout: cfg.ResponseTimeout(),
	}

	var repo telemetry.Repository
	if cfg.Telemetry {
		repo, err = telemetry.NewRepository(telemetry.Config{DBPath: cfg.TelemetryDBPath}, logger.Default())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize telemetry")
		}
		defer func() {
			if err := repo.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close telemetry")
			}
		}()
	}

	var server *statusapi.Server
	onResult := func(result dispatch.CycleResult) {
		if repo != nil {
			if err := repo.Record(result); err != nil {
				logger.Error().Err(err).Msg("failed to record dispatch outcome")
			}
		}
		if server != nil {
			server.Broadcast(result)
		}
	}

	scheduler, err := dispatch.NewScheduler(dispatch.Config{
		Interval:        cfg.Interval(),
		ResponseTimeout: cfg.ResponseTimeout(),
		MaxRetries:      cfg.MaxRetries,
		HistorySize:     cfg.HistorySize,
	}, nil, poller, tr, onResult)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build scheduler")
	}

	server = statusapi.NewServer(statusapi.Config{
		Addr:             cfg.StatusAddr,
		DefaultTransport: trCfg,
	}, scheduler, tr, repo)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("status API failed")
			cancel()
		}
	}()

	if cfg.AutoConnect {
		if err := tr.Connect(trCfg); err != nil {
			// The status API can still connect later
			logger.Warn().Err(err).Str("device", cfg.Device).Msg("Initial connect failed")
		}
	}

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start dispatch")
	}

	<-ctx.Done()
	shutdown(scheduler, server, tr)
}

// buildPoller assembles the metric sources the config enables
func buildPoller(ctx context.Context, cfg *config.Config) *source.Poller {
	var gpuReader source.GPUReader
	if cfg.GPUIndex >= 0 {
		reader, release, err := source.NewNVMLReader(cfg.GPUIndex)
		if err != nil {
			logger.Warn().Err(err).Msg("GPU metrics unavailable")
		} else {
			gpuReader = reader
			go func() {
				<-ctx.Done()
				release()
			}()
		}
	}

	sources := []source.Source{source.NewHardwareSource(gpuReader)}

	if cfg.Weather.Enabled {
		ws, err := source.NewWeatherSource(source.WeatherConfig{
			APIKey:  cfg.Weather.APIKey,
			Host:    cfg.Weather.Host,
			City:    cfg.Weather.City,
			Refresh: time.Duration(cfg.Weather.RefreshMin) * time.Minute,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build weather source")
		}
		go ws.Run(ctx)
		sources = append(sources, ws)
	}

	if cfg.Stock.Enabled {
		ss, err := source.NewStockSource(source.StockConfig{
			AppKey:  cfg.Stock.AppKey,
			Sign:    cfg.Stock.Sign,
			Host:    cfg.Stock.Host,
			Index:   cfg.Stock.Index,
			Refresh: time.Duration(cfg.Stock.RefreshMin) * time.Minute,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build stock source")
		}
		go ss.Run(ctx)
		sources = append(sources, ss)
	}

	return source.NewPoller(cfg.Interval()/2, sources...)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func shutdown(scheduler *dispatch.Scheduler, server *statusapi.Server, tr transport.Manager) {
	if err := scheduler.Stop(); err != nil {
		logger.Error().Err(err).Msg("failed to stop dispatch")
	}
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("failed to stop status API")
	}
	if err := tr.Disconnect(); err != nil {
		logger.Error().Err(err).Msg("failed to close serial port")
	}
	logger.Info().Msg("Exiting...")
}
