// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command labsync runs the instrument workers: it connects the configured
// devices, keeps the instrument cache current, serves metrics and shuts
// every device down cleanly on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync"
	"github.com/hqe-lab/labsync/lib/cache"
	"github.com/hqe-lab/labsync/lib/config"
	"github.com/hqe-lab/labsync/lib/connutil"
	"github.com/hqe-lab/labsync/lib/ecovario"
	"github.com/hqe-lab/labsync/lib/fsv"
	"github.com/hqe-lab/labsync/lib/luxx"
	"github.com/hqe-lab/labsync/lib/mirror"
	"github.com/hqe-lab/labsync/lib/monitor"
	"github.com/hqe-lab/labsync/lib/preset"
	"github.com/hqe-lab/labsync/lib/tga"
)

var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		configFile  string
		simulate    bool
		presetFile  string
		savePreset  string
		showVersion bool
	)
	flag.StringVar(&configFile, "config", "labsync.yaml", "configuration file")
	flag.BoolVar(&simulate, "simulate", false, "use simulated instruments")
	flag.StringVar(&presetFile, "preset", "", ".lab preset loaded into the cache at startup")
	flag.StringVar(&savePreset, "save-preset", "", "write the cache to this .lab file on shutdown")
	flag.BoolVar(&showVersion, "version", false, "print the version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("labsync %s\n", Version)
		return
	}

	cfg, err := config.Load(configFile)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "%v, using defaults\n", err)
		cfg = config.Default()
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if simulate {
		cfg.Simulate = true
	}

	log := setupLogger(cfg.Log)
	log.Infof("labsync %s starting, config %s", Version, configFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log, presetFile, savePreset); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, presetFile, savePreset string) error {
	ic := cache.New()

	monitor.Register(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		go func() {
			if err := monitor.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	if cfg.Redis.Enabled {
		m, err := mirror.Dial(ctx, mirror.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, log)
		if err != nil {
			log.Warnf("redis mirror disabled: %v", err)
		} else {
			// Runs past ctx so results committed while devices shut down still reach redis.
			mctx, mcancel := context.WithCancel(context.Background())
			defer mcancel()
			ic.Subscribe(m.OnChange)
			go m.Run(mctx)
		}
	}

	coord := labsync.NewCoordinator(ic, labsync.WithCoordinatorLogger(log))
	conn := &connutil.Conn{
		Backend:     connutil.Backend(cfg.Serial.Backend),
		ReadTimeout: cfg.Serial.ReadTimeout,
		Trace:       cfg.Trace,
		Log:         log,
	}
	profiles := labsync.Profiles()
	var auto []string
	for _, id := range cfg.DeviceIDs() {
		dc := cfg.Devices[id]
		d, err := newDriver(id, cfg.Simulate, conn, log)
		if err != nil {
			return err
		}
		w := labsync.NewWorker(id, d, profiles[id],
			labsync.WithLogger(log),
			labsync.WithEndpoint(dc.Endpoint()),
			labsync.WithDefaultPollInterval(cfg.PollInterval),
		)
		coord.Add(labsync.NewHandler(w, labsync.WithHandlerLogger(log)))
		if dc.AutoConnect {
			auto = append(auto, id)
		}
	}
	if cfg.Simulate {
		log.Info("running against simulated instruments")
	}

	// Workers outlive ctx so Shutdown can still drain them.
	coord.Start(context.Background())

	if presetFile != "" {
		entries, err := preset.Load(presetFile)
		if err != nil {
			log.Warnf("preset %s: %v", presetFile, err)
		}
		if len(entries) > 0 {
			log.Infof("preset %s: %d values restored", presetFile, ic.Restore(entries))
		}
	}

	if err := coord.AutoConnect(auto...); err != nil {
		log.Warnf("auto connect: %v", err)
	}

	<-ctx.Done()
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := coord.Shutdown(sctx)

	if savePreset != "" {
		if perr := preset.Save(savePreset, ic.Snapshot()); perr != nil {
			log.Errorf("save preset: %v", perr)
		} else {
			log.Infof("cache written to %s", savePreset)
		}
	}
	return err
}

func newDriver(id string, simulate bool, conn *connutil.Conn, log logrus.FieldLogger) (labsync.Driver, error) {
	switch id {
	case labsync.StageID:
		opener := conn.Serial()
		if simulate {
			opener = ecovario.NewSimulator().Opener()
		}
		return ecovario.New(id, opener, ecovario.WithLogger(log)), nil
	case labsync.Laser1ID, labsync.Laser2ID:
		opener := conn.Serial()
		if simulate {
			opener = luxx.NewSimulator().Opener()
		}
		return luxx.New(id, opener, luxx.WithLogger(log)), nil
	case labsync.GeneratorID:
		opener := conn.Serial()
		if simulate {
			opener = (&tga.Recorder{}).Opener()
		}
		return tga.New(id, opener, tga.WithLogger(log)), nil
	case labsync.AnalyzerID:
		opener := conn.TCP()
		if simulate {
			opener = fsv.NewSimulator().Opener()
		}
		return fsv.New(id, opener, fsv.WithLogger(log)), nil
	}
	return nil, fmt.Errorf("%w: %s", labsync.ErrUnknownDevice, id)
}

func setupLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("open log file: %v, logging to stdout", err)
		}
	}
	return log
}
