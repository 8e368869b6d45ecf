package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dsp/store"
	"dsp/store/rest"
	sqlstore "dsp/store/sql"
	"dsp/store/system"
)

type serveOptions struct {
	migrate       bool
	adminEmail    string
	adminPassword string
}

func newServeCommand(e *env) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /rest/system over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e, opts)
		},
	}
	flags := cmd.Flags()
	flags.String("http.addr", ":8080", "listen address")
	flags.Bool("auth.disabled", false, "trust every request as a system administrator")
	flags.BoolVar(&opts.migrate, "migrate", false, "apply pending migrations before serving")
	flags.StringVar(&opts.adminEmail, "admin-email", "", "create this system administrator when missing")
	flags.StringVar(&opts.adminPassword, "admin-password", "", "password of the bootstrap administrator")
	return cmd
}

func serve(ctx context.Context, e *env, opts serveOptions) error {
	records, b, err := e.records(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	if opts.migrate && b.sql != nil {
		if _, err := sqlstore.NewMigrator(b.sql, e.log).Up(ctx); err != nil {
			return err
		}
	}
	sessions := system.NewSessions(records, e.log)
	if opts.adminEmail != "" {
		if err := bootstrapAdmin(ctx, records, sessions, opts.adminEmail, opts.adminPassword); err != nil {
			return err
		}
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := e.config
	routerConfig := rest.RouterConfig{
		Log:         e.log,
		Records:     records,
		Pagination:  cfg.Pagination(),
		MaxBodySize: cfg.HTTP.MaxBodySize,
		GzipMinSize: cfg.HTTP.GzipMinSize,
	}
	if cfg.HTTP.Metrics {
		routerConfig.Registry = metrics
	}
	if !cfg.Auth.Disabled {
		tokens, err := rest.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		routerConfig.Auth = sessions
		routerConfig.Tokens = tokens
		routerConfig.Gate = system.NewRoleGate(records, e.log, cfg.Auth.OpenResources...)
	}
	handler, err := rest.NewRouter(routerConfig)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		e.log.Info("Listening", zap.String("addr", server.Addr), zap.String("backend", b.Name()))
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	e.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// bootstrapAdmin creates a system administrator unless a user with email
// already exists.
func bootstrapAdmin(ctx context.Context, records *store.RecordStore, sessions *system.Sessions, email, password string) error {
	_, err := sessions.ResolveEmail(ctx, email)
	switch {
	case err == nil, store.IsPermissionDeniedError(err):
		// The user exists, possibly deactivated.
		return nil
	case !store.IsRecordNotFoundError(err):
		return err
	}
	if password == "" {
		return store.NewConfigErrorForField("admin-password", "", "a password is required to create the administrator")
	}

	users, err := records.Registry().Lookup(system.User)
	if err != nil {
		return err
	}
	// The bootstrap write has no session of its own.
	rc := &store.RequestContext{SysAdmin: true}
	_, err = records.Insert(ctx, rc, users, store.RecordOf(
		"email", email,
		"password", password,
		"first_name", "System",
		"last_name", "Administrator",
		"is_active", true,
		"is_sys_admin", true,
	))
	return err
}
