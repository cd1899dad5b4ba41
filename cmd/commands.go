package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docgateway/internal/datastore/adapter/security"
	"docgateway/internal/datastore/config"
	"docgateway/internal/datastore/domain/model"
	"docgateway/internal/di"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newContainer() (*di.Container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return di.NewContainer(cfg)
}

func closeContainer(c *di.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		c.Logger.Errorf("failed to close container: %v", err)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer()
			if err != nil {
				return err
			}
			defer closeContainer(c)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app := c.HTTPApp()
			addr := c.Config.Server.Addr()
			listenErr := make(chan error, 1)
			go func() {
				c.Logger.Infof("listening on %s", addr)
				listenErr <- app.Listen(addr)
			}()

			select {
			case err := <-listenErr:
				return fmt.Errorf("server stopped: %w", err)
			case <-ctx.Done():
			}

			c.Logger.Info("shutting down")
			return app.ShutdownWithTimeout(shutdownTimeout)
		},
	}
}

type datasetFlags struct {
	tenant string
	perApp bool
	path   string
}

func (f *datasetFlags) tenantContext() model.TenantContext {
	return model.TenantContext{TenantID: f.tenant, PerAppDatabase: f.perApp}
}

func (f *datasetFlags) bind(cmd *cobra.Command, pathFlag, pathUsage string) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "Tenant id (required)")
	cmd.Flags().BoolVar(&f.perApp, "per-app", false, "Tenant data lives in its own database")
	cmd.Flags().StringVar(&f.path, pathFlag, "", pathUsage)
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired(pathFlag)
}

func newExportCmd() *cobra.Command {
	var flags datasetFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every collection of a tenant to a zip archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer()
			if err != nil {
				return err
			}
			defer closeContainer(c)

			res, err := c.Gateway.Export(cmd.Context(), &model.Action{TenantContext: flags.tenantContext()})
			if err != nil {
				return err
			}
			if err := os.WriteFile(flags.path, res.Archive, 0o644); err != nil {
				return fmt.Errorf("writing archive: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records from %d collections to %s\n",
				res.Count, len(res.Imported), flags.path)
			return nil
		},
	}
	flags.bind(cmd, "out", "Archive file to write (required)")
	return cmd
}

func newImportCmd() *cobra.Command {
	var flags datasetFlags
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a zip archive into a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(flags.path)
			if err != nil {
				return fmt.Errorf("reading archive: %w", err)
			}

			c, err := newContainer()
			if err != nil {
				return err
			}
			defer closeContainer(c)

			res, err := c.Gateway.Import(cmd.Context(), &model.Action{
				TenantContext: flags.tenantContext(),
				Archive:       data,
			})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(res.Body(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	flags.bind(cmd, "in", "Archive file to read (required)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		tenant  string
		subject string
		caps    []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if !cfg.AuthEnabled() {
				return errors.New("JWT_SECRET_KEY is not set; authentication is disabled")
			}

			perms := make([]model.Permission, 0, len(caps))
			for _, p := range caps {
				switch perm := model.Permission(strings.ToLower(p)); perm {
				case model.PermissionRead, model.PermissionWrite:
					perms = append(perms, perm)
				default:
					return fmt.Errorf("unknown capability %q (want read or write)", p)
				}
			}

			tokens, err := security.NewTokenService(cfg.JWTSecretKey, cfg.JWTIssuer, ttl)
			if err != nil {
				return err
			}
			token, err := tokens.GenerateToken(subject, tenant, perms...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant the token is scoped to; empty covers every tenant")
	cmd.Flags().StringVar(&subject, "subject", "docgateway-cli", "Token subject")
	cmd.Flags().StringSliceVar(&caps, "cap", []string{"read"}, "Capabilities: read, write")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
