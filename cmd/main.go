package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"streamnav/config"
	"streamnav/dashboard"
	"streamnav/metrics"
	"streamnav/monitor"
	"streamnav/partition"
	"streamnav/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/config.json", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		kitlog.NewLogfmtLogger(os.Stderr).Log("msg", "failed to load configuration", "err", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := setupLogger(cfg.Service.LogLevel)
	level.Info(logger).Log("msg", "starting", "service", cfg.Service.Name, "session", cfg.Session.Name)

	// Metrics registry shared by the monitors and the dashboard
	registry := prometheus.NewRegistry()
	monitorMetrics := metrics.New(registry)

	// Single delivery context for all tree and metadata mutation
	dispatcher := monitor.NewDispatcher(256)

	monitorOpts, err := monitorOptions(cfg.Monitor)
	if err != nil {
		level.Error(logger).Log("msg", "invalid monitor configuration", "err", err)
		os.Exit(1)
	}

	// Open the partition stores and build the session
	session := partition.NewSession(cfg.Session.Name)
	stores := make(map[string]*store.Store)
	for _, pc := range cfg.Session.Partitions {
		st, err := store.Open(pc.Name, pc.Path, kitlog.With(logger, "store", pc.Name))
		if err != nil {
			level.Error(logger).Log("msg", "failed to open store", "partition", pc.Name, "err", err)
			os.Exit(1)
		}
		stores[pc.Name] = st

		part := partition.New(pc.Name, pc.Path,
			partition.WithLogger(logger),
			partition.WithMetrics(monitorMetrics))

		streams, err := st.Streams()
		if err != nil {
			level.Error(logger).Log("msg", "failed to list streams", "partition", pc.Name, "err", err)
			os.Exit(1)
		}
		if err := part.LoadStreams(streams); err != nil {
			level.Error(logger).Log("msg", "failed to index streams", "partition", pc.Name, "err", err)
			os.Exit(1)
		}
		session.Add(part)
	}

	// Start the dashboard
	var dash *dashboard.Manager
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewManager(cfg.Dashboard, session, registry, kitlog.With(logger, "component", "dashboard"))
		if err := dash.Start(); err != nil {
			level.Error(logger).Log("msg", "failed to start dashboard", "err", err)
			os.Exit(1)
		}
		for _, part := range session.Partitions() {
			name := part.Name()
			part.OnLiveChanged(func(live bool) {
				dash.BroadcastLiveness(name, live)
			})
		}
	}

	// Probe liveness periodically and start a monitor whenever a partition
	// flips to live
	probeInterval, _ := cfg.Monitor.ProbeIntervalDuration()
	if probeInterval <= 0 {
		probeInterval = 2 * time.Second
	}
	stopProbing := make(chan struct{})
	go probeLoop(session, stores, dispatcher, dash, monitorOpts, probeInterval, logger, stopProbing)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	level.Info(logger).Log("msg", "received signal, shutting down", "signal", sig)

	// Shutdown components in reverse order
	close(stopProbing)
	for _, part := range session.Partitions() {
		if err := part.StopMonitoring(); err != nil {
			level.Warn(logger).Log("msg", "error stopping monitor", "partition", part.Name(), "err", err)
		}
	}
	dispatcher.Close()
	if dash != nil {
		dash.Stop()
	}
	for name, st := range stores {
		if err := st.Close(); err != nil {
			level.Warn(logger).Log("msg", "error closing store", "store", name, "err", err)
		}
	}

	level.Info(logger).Log("msg", "shutdown complete")
}

// probeLoop re-issues the liveness probe for every partition and starts
// monitoring on a flip to live.
func probeLoop(
	session *partition.Session,
	stores map[string]*store.Store,
	dispatcher *monitor.Dispatcher,
	dash *dashboard.Manager,
	opts monitor.Options,
	interval time.Duration,
	logger kitlog.Logger,
	stop <-chan struct{},
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := func() {
		for _, part := range session.Partitions() {
			wasLive := part.IsLive()
			if !part.ProbeLiveness() || wasLive {
				continue
			}

			st := stores[part.Name()]
			reader, err := st.NewLiveReader()
			if err != nil {
				level.Warn(logger).Log("msg", "failed to open live reader", "partition", part.Name(), "err", err)
				continue
			}

			partOpts := opts
			if dash != nil {
				name := part.Name()
				partOpts.OnEntry = func(e *store.Entry) { dash.BroadcastEntry(name, e) }
				partOpts.OnMetadata = func(u store.MetadataUpdate) { dash.BroadcastMetadata(name, u) }
			}
			if err := part.StartMonitoring(reader, dispatcher, partOpts); err != nil {
				level.Warn(logger).Log("msg", "failed to start monitor", "partition", part.Name(), "err", err)
				reader.Close()
			}
		}
	}

	probe()
	for {
		select {
		case <-ticker.C:
			probe()
		case <-stop:
			return
		}
	}
}

func monitorOptions(mc config.MonitorConfig) (monitor.Options, error) {
	var opts monitor.Options
	var err error
	if opts.PollInterval, err = mc.PollIntervalDuration(); err != nil {
		return opts, err
	}
	if opts.DeliveryInterval, err = mc.DeliveryIntervalDuration(); err != nil {
		return opts, err
	}
	if opts.StopTimeout, err = mc.StopTimeoutDuration(); err != nil {
		return opts, err
	}
	return opts, nil
}

func setupLogger(logLevel string) kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stdout))
	switch logLevel {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}
