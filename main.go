package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	go2tvadapters "github.com/alexballas/mcp-jellyfin/internal/adapters/go2tv"
	"github.com/alexballas/mcp-jellyfin/internal/buildinfo"
	"github.com/alexballas/mcp-jellyfin/internal/cast"
	"github.com/alexballas/mcp-jellyfin/internal/config"
	"github.com/alexballas/mcp-jellyfin/internal/diagnostics"
	"github.com/alexballas/mcp-jellyfin/internal/discovery"
	"github.com/alexballas/mcp-jellyfin/internal/jellyfin"
	"github.com/alexballas/mcp-jellyfin/internal/lifecycle"
	"github.com/alexballas/mcp-jellyfin/internal/mcpserver"
	"github.com/alexballas/mcp-jellyfin/internal/session"
	"github.com/alexballas/mcp-jellyfin/internal/tools"
)

const serverName = "mcp-jellyfin"

func main() {
	selfTest := flag.Bool("self-test", false, "print configuration and Jellyfin reachability diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	for _, warning := range cfg.Warnings {
		logger.Warn("config_value_ignored", slog.String("detail", warning))
	}

	client := jellyfin.New(jellyfin.Config{
		BaseURL:    cfg.APIURL,
		APIKey:     cfg.APIKey,
		UserID:     cfg.UserID,
		Version:    buildinfo.Version,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RateLimit:  cfg.RateLimitRPS,
		Logger:     logger,
	})

	var bundle go2tvadapters.Bundle
	if cfg.EnableCast {
		bundle = go2tvadapters.NewBundle()
	}

	if *selfTest {
		report := diagnostics.Run(context.Background(), diagnostics.Options{
			ServerName:    serverName,
			ServerVersion: buildinfo.Version,
			Config:        cfg,
			Jellyfin:      client,
			Cast: diagnostics.CastStatus{
				Enabled:        cfg.EnableCast,
				DiscoveryWired: bundle.Discovery != nil,
				CastWired:      bundle.CastFactory != nil,
			},
		})

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if !report.OK {
			os.Exit(1)
		}
		return
	}

	runCtx, stopSignals := lifecycle.RunContext(context.Background())
	defer stopSignals()

	logger.Info(
		"mcp_server_start",
		slog.String("server", serverName),
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
		slog.String("session_strategy", string(cfg.Strategy)),
		slog.Bool("cast_enabled", cfg.EnableCast),
	)

	resolver := session.NewResolver(client, session.ResolverConfig{
		Strategy:   cfg.Strategy,
		DeviceHint: cfg.DeviceHint,
	})

	var castManager *cast.Manager
	toolCfg := tools.Config{
		Catalog:  client,
		Sessions: resolver,
		Logger:   logger,
	}
	if cfg.EnableCast {
		discoverySvc := discovery.NewService(bundle.Discovery, runCtx, logger)
		castManager = cast.NewManager(discoverySvc, bundle.CastFactory, logger)
		toolCfg.Cast = castManager
	}

	runner, err := tools.NewRunner(toolCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	srv := mcpserver.New(os.Stdin, os.Stdout, mcpserver.Config{
		ServerName:    serverName,
		ServerVersion: buildinfo.Version,
		Logger:        logger,
		Tools:         runner,
		MaxFrameBytes: cfg.MaxFrameBytes,
	})

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- srv.Run(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
	case <-runCtx.Done():
		runErr = runCtx.Err()
	}
	if runErr != nil {
		logger.Warn("mcp_server_stopping", slog.String("reason", runErr.Error()))
	} else {
		logger.Info("mcp_server_stopping", slog.String("reason", "clean_eof"))
	}

	if castManager != nil {
		shutdownCtx, cancelShutdown := lifecycle.ShutdownContext()
		defer cancelShutdown()
		if err := castManager.Close(shutdownCtx); err != nil {
			logger.Error("cast_shutdown_failed", slog.String("error", err.Error()))
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid %s=%q; defaulting to info\n", config.EnvLogLevel, raw)
		return slog.LevelInfo
	}
}
