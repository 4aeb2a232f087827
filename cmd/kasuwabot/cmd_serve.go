package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/kasuwabot/internal/delivery"
	"github.com/user/kasuwabot/internal/gateway"
	"github.com/user/kasuwabot/internal/live"
	"github.com/user/kasuwabot/internal/match"
	"github.com/user/kasuwabot/internal/media"
	"github.com/user/kasuwabot/internal/normalize"
	"github.com/user/kasuwabot/internal/orchestrator"
	"github.com/user/kasuwabot/internal/scheduler"
	"github.com/user/kasuwabot/internal/state"
	"github.com/user/kasuwabot/internal/tenant"
	"github.com/user/kasuwabot/internal/twilio"
	"github.com/user/kasuwabot/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kasuwabot daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "kasuwabot.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	sessions, err := state.NewSessionStore(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessions.Close()
	catalog := state.NewCatalogStore(cfg.DataDir)

	// Transport
	transport, err := twilio.New(twilio.Options{
		AccountSID:        cfg.Twilio.AccountSID,
		AuthToken:         cfg.Twilio.AuthToken,
		From:              cfg.Twilio.WhatsAppFrom,
		StatusCallbackURL: cfg.Twilio.StatusCallbackURL,
	})
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	manager := delivery.NewManager(transport, delivery.Options{
		MaxRetries:     cfg.Delivery.MaxRetries,
		BaseDelay:      time.Duration(cfg.Delivery.BaseDelayMS) * time.Millisecond,
		ConfirmTimeout: time.Duration(cfg.Delivery.ConfirmTimeoutMS) * time.Millisecond,
		PollInterval:   time.Duration(cfg.Delivery.PollIntervalMS) * time.Millisecond,
		TemplateDelay:  time.Duration(cfg.Delivery.TemplateDelayMS) * time.Millisecond,
		TextDelay:      time.Duration(cfg.Delivery.TextDelayMS) * time.Millisecond,
		MediaDelay:     time.Duration(cfg.Delivery.MediaDelayMS) * time.Millisecond,
	})

	// Tenants. A single-business deployment is just the default tenant.
	tenants := tenant.NewRegistry()
	err = tenants.Register(&tenant.Runtime{
		Key:                 tenant.DefaultTenant,
		Sessions:            sessions,
		Catalog:             catalog,
		Delivery:            manager,
		WelcomeTemplateSID:  cfg.Twilio.WelcomeTemplateSID,
		ReengageTemplateSID: cfg.Twilio.ReengageTemplateSID,
		FallbackReply:       cfg.FallbackReply,
	})
	if err != nil {
		return fmt.Errorf("register tenant: %w", err)
	}

	hub := live.NewHub()
	dormancyWindow := time.Duration(cfg.Dormancy.WindowHours) * time.Hour

	orch := orchestrator.New(orchestrator.Options{
		Tenants:    tenants,
		Normalizer: normalize.New(),
		Engine: match.NewEngine(match.Thresholds{
			Accept:     cfg.Matching.AcceptThreshold,
			Cosine:     cfg.Matching.CosineThreshold,
			ShortInput: cfg.Matching.ShortInputThreshold,
		}),
		Media:          media.NewChecker(cfg.PublicBaseURL, nil),
		Hub:            hub,
		DormancyWindow: dormancyWindow,
	})

	gw := gateway.New(int64(cfg.MaxConcurrent))
	gw.Queue.SetProcessor(orch.ProcessRun)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("kasuwabot started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"dormancy_window", dormancyWindow,
		"pid_file", pidPath,
	)

	// Dormancy sweep
	sched := scheduler.New(tenants, dormancyWindow, cfg.Dormancy.SweepSchedule)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Webhook HTTP server
	if cfg.HTTP.Enabled {
		webhookSrv := webhook.NewServer(gw, tenants, hub)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: webhookSrv,
		}
		go func() {
			slog.Info("webhook server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("webhook server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
