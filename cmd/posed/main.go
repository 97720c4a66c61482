package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/server"
)

// Posed binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// poseMain is the true entry point for posed. This function is required since
// defers created in the top-level scope of a main method aren't executed if
// os.Exit() is called.
func poseMain() error {
	var err error
	// Start with a default Config with sane settings
	cfg := server.DefaultConfig()
	// Pre-parse the command line to check for an alternative Config file
	cfg, err = server.ParseFlags(cfg)
	if err != nil {
		return err
	}
	// Load configuration file overwriting defaults with any specified options
	cfg, err = server.ReadConfigFile(cfg)
	if err != nil {
		return err
	}
	// Parse the command line again so flags take precedence over the file.
	cfg, err = server.ParseFlags(cfg)
	if err != nil {
		return err
	}
	cfg, err = server.SetupConfig(cfg)
	if err != nil {
		return err
	}

	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.New(logLevel, cfg.JSONLog, &logging.File{
		Path:       cfg.LogFile(),
		MaxSizeMB:  cfg.MaxLogFileSize,
		MaxBackups: cfg.MaxLogFiles,
	})
	ctx := logging.NewContext(context.Background(), logger)

	defer func() {
		logger.Info("shutdown complete")
		_ = logger.Sync()
	}()

	logger.Info("starting posed", zap.String("version", version), zap.Object("config", cfg))

	// Enable http profiling server if requested.
	if cfg.Profile != "" {
		logger.Sugar().Infof("starting HTTP profiling on port %v", cfg.Profile)
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			profileRedirect := http.RedirectHandler("/debug/pprof", http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			logger.Error("profiling server stopped", zap.Error(http.ListenAndServe(listenAddr, nil)))
		}()
	} else {
		// Disable go default unbounded memory profiler.
		runtime.MemProfileRate = 0
	}

	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			return fmt.Errorf("creating CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("starting CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv, err := server.New(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error("failed to close server", zap.Error(err))
		}
	}()
	logger.Info("node identity", zap.Stringer("node_id", srv.NodeID()))
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failure in server: %w", err)
	}

	return nil
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := poseMain(); err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
