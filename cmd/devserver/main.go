// Command devserver runs the reference chat backend: session REST routes and the streaming endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/chatcore/internal/backend/api"
	"github.com/xiaot623/gogo/chatcore/internal/backend/hub"
	"github.com/xiaot623/gogo/chatcore/internal/backend/policy"
	"github.com/xiaot623/gogo/chatcore/internal/backend/repository"
	"github.com/xiaot623/gogo/chatcore/internal/config"
	"github.com/xiaot623/gogo/chatcore/internal/logging"
)

func main() {
	envFile := flag.String("env-file", "", "optional .env file to load before reading the environment")
	policyFile := flag.String("policy", "", "optional rego file replacing the default chat type policy")
	flag.Parse()

	if err := run(*envFile, *policyFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(envFile, policyFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.LoadDevServer()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	rules := policy.DefaultPolicy
	if policyFile != "" {
		data, err := os.ReadFile(policyFile)
		if err != nil {
			return fmt.Errorf("read policy: %w", err)
		}
		rules = string(data)
	}
	engine, err := policy.NewEngine(ctx, rules)
	if err != nil {
		return err
	}

	connectionHub := hub.New(logging.Component(logger, "hub"))
	go connectionHub.Run(ctx)

	handler := api.NewHandler(repo, engine, connectionHub, cfg.APITokens, uuid.NewString, logging.Component(logger, "api"))
	streams := api.NewServer(cfg, handler, api.EchoResponder, logging.Component(logger, "ws"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	handler.RegisterRoutes(e, streams)

	if len(cfg.APITokens) == 0 {
		logger.Warn().Msg("DEV_API_TOKENS is empty, any bearer token is accepted")
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info().Str("addr", addr).Str("database", cfg.DatabaseURL).Msg("dev server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("dev server stopped")
	return nil
}
