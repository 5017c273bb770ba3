package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/congo-pay/streampay/internal/config"
	"github.com/congo-pay/streampay/internal/infra"
	"github.com/congo-pay/streampay/internal/logging"
	"github.com/congo-pay/streampay/internal/server"
	"github.com/congo-pay/streampay/internal/store"
)

type session struct {
	cfg    config.Config
	logger *slog.Logger
	svc    server.Services
	close  func()
}

func open(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.StoreDriver != config.StorePostgres {
		return nil, fmt.Errorf("ledgerctl needs STORE_DRIVER=%s", config.StorePostgres)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	backends, closeBackends, err := server.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc, err := server.NewServices(cfg, backends, logger)
	if err != nil {
		closeBackends()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, svc: svc, close: closeBackends}, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := infra.NewPostgresPool(cmd.Context(), cfg.DatabaseURL, cfg.AppName+"-ctl")
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := store.Migrate(pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [account-id]",
		Short: "Print an account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			bal, err := s.svc.Ledger.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(bal)
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [account-id...]",
		Short: "Replay ledger entries and compare them with stored balances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			failed := 0
			for _, id := range args {
				if err := s.svc.Ledger.Reconcile(cmd.Context(), id); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s  FAILED  %v\n", id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  ok\n", id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d accounts failed reconciliation", failed, len(args))
			}
			return nil
		},
	}
}

func healthPassCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health-pass",
		Short: "Run one stream health pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.svc.Monitor.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d changed=%d failed=%d\n", res.Checked, res.Changed, res.Failed)
			return nil
		},
	}
}
