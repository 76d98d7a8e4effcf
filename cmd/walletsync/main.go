package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/syncserver"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/walletd"
	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagTo         = "to"
	flagToUsername = "to-username"
	flagAmount     = "amount"
	flagBalance    = "balance"
	flagUser       = "user"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletsync: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "walletsync",
		Short:         "Offline wallet queue and sync reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCommand(),
		newTokenCommand(),
		newTransferCommand(),
		newSyncCommand(),
		newStatusCommand(),
		newConfirmBalanceCommand(),
		newRefreshCommand(),
		newClearCommand(),
		newWatchCommand(),
	)
	return cmd
}

func newServeCommand() *cobra.Command {
	cfg := &serverConfig{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync HTTP server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadServerConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	addServerFlags(cmd)
	return cmd
}

func runServer(ctx context.Context, cfg *serverConfig) error {
	gormDB, cleanup, _, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(gormDB); err != nil {
		return err
	}
	return syncserver.Run(ctx, cfg.Server, gormstore.New(gormDB))
}

func newTokenCommand() *cobra.Command {
	cfg := &syncserver.Config{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadTokenConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString(flagUser)
			authority, err := syncserver.NewTokenAuthority(cfg.TokenSigningKey, cfg.TokenIssuer, cfg.TokenTTL, time.Now)
			if err != nil {
				return err
			}
			token, err := authority.Issue(userID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"userId": strings.TrimSpace(userID), "token": token})
		},
	}
	addTokenFlags(cmd)
	cmd.Flags().String(flagUser, "", "user id the token is issued for (required)")
	_ = cmd.MarkFlagRequired(flagUser)
	return cmd
}

func newTransferCommand() *cobra.Command {
	return newDeviceCommand("transfer", "Queue an offline transfer and debit the shadow balance",
		func(cmd *cobra.Command) {
			cmd.Flags().String(flagTo, "", "receiver user id (required)")
			cmd.Flags().String(flagToUsername, "", "receiver display name")
			cmd.Flags().String(flagAmount, "", "amount to transfer (required)")
			_ = cmd.MarkFlagRequired(flagTo)
			_ = cmd.MarkFlagRequired(flagAmount)
		},
		func(ctx context.Context, cmd *cobra.Command, session *walletd.Session) error {
			receiverID, _ := cmd.Flags().GetString(flagTo)
			receiverUsername, _ := cmd.Flags().GetString(flagToUsername)
			rawAmount, _ := cmd.Flags().GetString(flagAmount)
			amount, err := offline.ParseAmount(rawAmount)
			if err != nil {
				return err
			}
			transaction, err := session.Wallet.TransferOffline(ctx, receiverID, receiverUsername, amount)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), transaction)
		},
	)
}

func newSyncCommand() *cobra.Command {
	return newDeviceCommand("sync", "Submit PENDING transfers to the wallet API", nil,
		func(ctx context.Context, cmd *cobra.Command, session *walletd.Session) error {
			result, err := session.Sync(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newSyncView(result))
		},
	)
}

func newStatusCommand() *cobra.Command {
	return newDeviceCommand("status", "Show the offline queue, balances and limits", nil,
		func(ctx context.Context, cmd *cobra.Command, session *walletd.Session) error {
			snapshot, err := session.Wallet.Snapshot(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newStatusView(snapshot))
		},
	)
}

func newConfirmBalanceCommand() *cobra.Command {
	return newDeviceCommand("confirm-balance", "Record a server-confirmed balance",
		func(cmd *cobra.Command) {
			cmd.Flags().String(flagBalance, "", "confirmed balance (required)")
			_ = cmd.MarkFlagRequired(flagBalance)
		},
		func(ctx context.Context, cmd *cobra.Command, session *walletd.Session) error {
			rawBalance, _ := cmd.Flags().GetString(flagBalance)
			balance, err := offline.ParseBalance(rawBalance)
			if err != nil {
				return err
			}
			if err := session.Wallet.ConfirmBalance(ctx, balance); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]offline.Balance{"balance": balance})
		},
	)
}

func newRefreshCommand() *cobra.Command {
	return newDeviceCommand("refresh", "Fetch the authoritative balance from the wallet API", nil,
		func(ctx context.Context, cmd *cobra.Command, session *walletd.Session) error {
			balance, err := session.RefreshBalance(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]offline.Balance{"balance": balance})
		},
	)
}

func newClearCommand() *cobra.Command {
	return newDeviceCommand("clear", "Discard every queued transaction", nil,
		func(ctx context.Context, cmd *cobra.Command, session *walletd.Session) error {
			if err := session.Wallet.ClearQueue(ctx); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]bool{"cleared": true})
		},
	)
}

func newWatchCommand() *cobra.Command {
	return newDeviceCommand("watch", "Probe connectivity and sync on every reconnect", nil,
		func(ctx context.Context, cmd *cobra.Command, session *walletd.Session) error {
			return session.Watch(ctx)
		},
	)
}

type deviceAction func(ctx context.Context, cmd *cobra.Command, session *walletd.Session) error

func newDeviceCommand(use string, short string, extraFlags func(cmd *cobra.Command), action deviceAction) *cobra.Command {
	cfg := &walletd.Config{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDeviceConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("zap init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			session, err := walletd.Open(ctx, *cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = session.Close() }()
			return action(ctx, cmd, session)
		},
	}
	addDeviceFlags(cmd)
	if extraFlags != nil {
		extraFlags(cmd)
	}
	return cmd
}

type syncView struct {
	SyncedTransactions []offline.SyncedTransaction   `json:"syncedTransactions"`
	Failures           []offline.SyncFailure         `json:"failures"`
	StillPending       []offline.ClientTransactionID `json:"stillPending"`
	NewBalance         *offline.Balance              `json:"newBalance,omitempty"`
}

func newSyncView(result offline.SyncResult) syncView {
	return syncView{
		SyncedTransactions: result.SyncedTransactions,
		Failures:           result.Failures,
		StillPending:       result.StillPending,
		NewBalance:         result.Balance,
	}
}

type limitsView struct {
	MaxTransactionAmount string `json:"maxTransactionAmount"`
	MaxDailySpend        string `json:"maxDailySpend"`
	MaxTransactionCount  int    `json:"maxTransactionCount"`
}

type statusView struct {
	Online           bool                         `json:"online"`
	PendingCount     int                          `json:"pendingCount"`
	ShadowBalance    offline.Balance              `json:"shadowBalance"`
	LastKnownBalance offline.Balance              `json:"lastKnownBalance"`
	Transactions     []offline.OfflineTransaction `json:"transactions"`
	Limits           limitsView                   `json:"limits"`
}

func newStatusView(snapshot offline.Snapshot) statusView {
	transactions := snapshot.Transactions
	if transactions == nil {
		transactions = []offline.OfflineTransaction{}
	}
	return statusView{
		Online:           snapshot.Online,
		PendingCount:     snapshot.PendingCount,
		ShadowBalance:    snapshot.ShadowBalance,
		LastKnownBalance: snapshot.LastKnownBalance,
		Transactions:     transactions,
		Limits: limitsView{
			MaxTransactionAmount: snapshot.Limits.MaxTransactionAmount().String(),
			MaxDailySpend:        snapshot.Limits.MaxDailySpend().String(),
			MaxTransactionCount:  snapshot.Limits.MaxTransactionCount(),
		},
	}
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
