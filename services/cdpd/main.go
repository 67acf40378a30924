package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"cdpchain/core/events"
	"cdpchain/native/cdp"
	nativecommon "cdpchain/native/common"
	"cdpchain/observability/logging"
	"cdpchain/observability/metrics"
	telemetry "cdpchain/observability/otel"
	"cdpchain/services/cdpd/archive"
	"cdpchain/services/cdpd/config"
	"cdpchain/services/cdpd/middleware"
	"cdpchain/services/cdpd/server"
	"cdpchain/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/cdpd/config.yaml", "path to cdpd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("cdpd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	env := strings.TrimSpace(os.Getenv("CDP_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, logCloser := logging.SetupWithOptions("cdpd", env, logging.Options{
		Level:      logging.ParseLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("cdpd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	protocol, err := cdp.LoadConfig(cfg.ProtocolConfig)
	if err != nil {
		return fmt.Errorf("load protocol config: %w", err)
	}
	params, err := protocol.Params()
	if err != nil {
		return fmt.Errorf("protocol params: %w", err)
	}
	price, err := cdp.ParseDecimal(cfg.InitialPrice)
	if err != nil {
		return fmt.Errorf("initial_price: %w", err)
	}
	feed := cdp.NewStaticPriceFeed(price)
	pauses := nativecommon.NewPauseSet(protocol.PausedModules())

	hub := server.NewHub(logger)
	emitters := events.Multi{hub}
	var eventArchive *archive.Archive
	if cfg.Archive.Driver != "" {
		db, err := archive.Open(cfg.Archive.Driver, cfg.Archive.DSN)
		if err != nil {
			return err
		}
		if eventArchive, err = archive.New(db, logger); err != nil {
			return err
		}
		emitters = append(emitters, eventArchive)
		logger.Info("event archive enabled", "driver", cfg.Archive.Driver, logging.MaskField("dsn", cfg.Archive.DSN))
	}

	engine, err := cdp.NewEngine(params, feed,
		cdp.WithEmitter(emitters),
		cdp.WithPauses(pauses),
		cdp.WithLogger(logger),
		cdp.WithMetrics(metrics.CDP()),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	var snapshots storage.Database
	if cfg.DataDir != "" {
		path := filepath.Join(cfg.DataDir, "snapshots")
		if cfg.SnapshotStore == storage.BackendBolt {
			path += ".db"
		}
		db, err := storage.Open(cfg.SnapshotStore, path)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		defer db.Close()
		snapshots = db
		info, err := engine.LoadSnapshot(db)
		switch {
		case err == nil:
			logger.Info("restored snapshot", "seq", info.Seq, "size", info.Size)
		case errors.Is(err, cdp.ErrSnapshotNotFound):
			logger.Info("no snapshot found, starting empty")
		default:
			return fmt.Errorf("restore snapshot: %w", err)
		}
	}

	srv, err := server.New(server.Config{
		Engine:    engine,
		Feed:      feed,
		Pauses:    pauses,
		Hub:       hub,
		Snapshots: snapshots,
		Archive:   eventArchive,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret:     cfg.Auth.HMACSecret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			AllowAnonymous: cfg.Auth.AllowAnonymous,
			ClockSkew:      cfg.Auth.ClockSkew,
		}, logger),
		Limiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, logger),
		Obs: middleware.NewObservability("cdpd", strings.EqualFold(env, "dev"), logger),
		Quota: nativecommon.Quota{
			MaxRequestsPerWindow: cfg.Quota.MaxRequestsPerWindow,
			MaxBorrowPerWindow:   cfg.Quota.MaxBorrowPerWindow,
			WindowSeconds:        cfg.Quota.WindowSeconds,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			listener.Close()
			return fmt.Errorf("plaintext cdpd mode is restricted to loopback listeners or dev environment")
		}
	}
	if cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConnections)
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLS.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			listener.Close()
			return fmt.Errorf("load tls keypair: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
		listener = tls.NewListener(listener, httpServer.TLSConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if snapshots != nil && cfg.SnapshotEvery > 0 {
		go snapshotLoop(ctx, engine, snapshots, cfg.SnapshotEvery, logger)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("cdpd listening", "address", cfg.ListenAddress)
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
	}
	if snapshots != nil {
		info, err := engine.SaveSnapshot(snapshots)
		if err != nil {
			return fmt.Errorf("final snapshot: %w", err)
		}
		logger.Info("final snapshot written", "seq", info.Seq)
	}
	return nil
}

func snapshotLoop(ctx context.Context, engine *cdp.Engine, db storage.Database, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := engine.SaveSnapshot(db)
			if err != nil {
				logger.Error("periodic snapshot", "error", err)
				continue
			}
			logger.Debug("periodic snapshot", "seq", info.Seq, "size", info.Size)
		}
	}
}
