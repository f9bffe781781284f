package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dopchat/config"
	"dopchat/inference"
	"dopchat/metrics"
	"dopchat/model"
	"dopchat/storage"
	"dopchat/ui"
)

const (
	Version = "v0.1.0"
	License = "Apache-2.0"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		showFatal("Configuration Error", err.Error())
		os.Exit(1)
	}

	config.InitDebugLog(cfg.DataDir())
	config.Log.Info().Str("version", Version).Str("api", cfg.APIBaseURL).Msg("starting dopchat")

	kv, err := storage.NewSQLiteKV(config.GetSessionDir())
	if err != nil {
		showFatal("Storage Error", fmt.Sprintf("Failed to open session storage:\n\n%v", err))
		os.Exit(1)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			config.Log.Warn().Err(err).Msg("failed to close session storage")
		}
	}()
	store := storage.NewConversationStore(kv, cfg.TitleLength)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	timeouts := inference.DefaultTimeouts()
	timeouts.Submit = cfg.SubmitTimeout
	timeouts.Poll = cfg.PollTimeout
	timeouts.Feedback = cfg.FeedbackTimeout
	timeouts.Health = cfg.HealthTimeout

	client, err := inference.NewClient(cfg.APIBaseURL,
		inference.WithTimeouts(timeouts),
		inference.WithBackoff(inference.NewBackoff(inference.BackoffConfig{
			Initial:     cfg.BackoffInitial,
			Multiplier:  cfg.BackoffMultiplier,
			Max:         cfg.BackoffMax,
			Jitter:      cfg.BackoffJitter,
			MaxAttempts: cfg.BackoffMaxAttempts,
		}, nil)),
		inference.WithMetrics(m),
	)
	if err != nil {
		showFatal("Configuration Error", err.Error())
		os.Exit(1)
	}

	// p is set before any background work can call notify
	var p *tea.Program
	notify := func(e model.Event) {
		// Send blocks until the update loop reads it, and the update loop
		// may itself be waiting on the goroutine that called us
		go p.Send(ui.EventMsg(e))
	}

	monitor := model.NewServerMonitor(client, cfg.HealthCheckInterval, cfg.WakeEstimate, func() {
		notify(model.Event{Kind: model.EventServer})
	})

	opts := model.OptionsFromConfig(cfg)
	opts.Metrics = m
	opts.Monitor = monitor
	opts.Notify = notify
	chat := model.NewChat(client, store, opts)
	defer chat.OnTeardown()

	p = tea.NewProgram(
		ui.NewAppView(chat, Version),
		tea.WithAltScreen(),
	)

	if err := monitor.Start(); err != nil {
		config.Log.Warn().Err(err).Msg("server monitor not started")
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		chat.OnTeardown()
		_ = kv.Close()
		os.Exit(1)
	}
	chat.OnSuspend()
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			config.Log.Error().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
	config.Log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

// showFatal shows an error screen before the chat UI exists.
func showFatal(title, message string) {
	p := tea.NewProgram(ui.NewErrorModal(title, message), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", title, message)
	}
}
