package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/BrandonDHaskell/Rollcall/server/internal/app"
	"github.com/BrandonDHaskell/Rollcall/server/internal/config"
	"github.com/BrandonDHaskell/Rollcall/server/internal/grpcapi"
	"github.com/BrandonDHaskell/Rollcall/server/internal/httpapi"
	"github.com/BrandonDHaskell/Rollcall/server/internal/logging"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/capture"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/scanner"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.LogJSON, logging.ParseLevel(cfg.LogLevel)).With("app", "rollcall-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	fsys := afero.NewOsFs()

	// Storage
	storage, err := app.OpenStorage(ctx, cfg, fsys, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Warn("storage close", "error", err)
		}
	}()

	// Session history: repair before the scanner exists, then trim in the
	// background until shutdown.
	history := service.NewSessionHistory(storage.Sessions, service.HistoryConfig{
		Retention: time.Duration(cfg.SessionRetentionDays) * 24 * time.Hour,
		TrimEvery: time.Duration(cfg.PruneIntervalHours) * time.Hour,
	}, logger)
	if _, err := history.Recover(ctx); err != nil {
		logger.Warn("session recovery", "error", err)
	}
	historyCtx, stopHistory := context.WithCancel(ctx)
	historyDone := make(chan struct{})
	go func() {
		defer close(historyDone)
		history.Run(historyCtx)
	}()
	defer func() {
		stopHistory()
		<-historyDone
	}()

	// Services
	book, err := app.OpenBook(ctx, cfg, storage.Records)
	if err != nil {
		return err
	}
	logger.Info("attendance loaded", "records", book.Len(), "timezone", book.Location().String())

	scanSvc := service.NewScanService(book, logger)
	exporter := service.NewExporter(book, fsys, logger)

	opener, err := app.NewOpener(cfg.Scanner, fsys)
	if err != nil {
		return err
	}

	// gRPC health; the loop reports start/stop to it.
	grpcSrv := grpcapi.NewServer(logger)

	loop := scanner.New(opener, capture.NewQRDecoder(true), scanSvc, scanner.Config{
		FrameInterval: cfg.Scanner.FrameInterval(),
		Cooldown:      cfg.Scanner.Cooldown(),
	}, logger,
		scanner.WithSessionStore(storage.Sessions),
		scanner.WithObserver(grpcSrv),
	)
	defer func() {
		if err := loop.Stop(); err != nil {
			logger.Warn("scanner stop", "error", err)
		}
	}()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        cfg.HTTPAddr,
		Book:        book,
		ScanService: scanSvc,
		Exporter:    exporter,
		Scanner:     loop,
		Sessions:    storage.Sessions,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("grpc listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("grpc server error", "error", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.Shutdown(shutdownCtx)
	return nil
}
