// Command moodctl talks to a running gateway through the client session
// layer: it keeps the admin session in a local SQLite file between runs.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/client/session"
	"github.com/zhouzirui/moodcycle-gateway/internal/logging"
)

var (
	serverURL string
	statePath string
	timeout   time.Duration
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "moodctl",
	Short: "Command-line client for the MoodCycle gateway",
	Long: `moodctl logs in to the gateway admin API, keeps the session on disk
and issues authenticated calls with it.

A rejected call ends the stored session; run 'moodctl login' again.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("MOODCTL_SERVER", "http://localhost:8080/api"), "Gateway API base URL")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", defaultStatePath(), "Session database path")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Per-command timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// client bundles a bootstrapped session manager and its gateway.
type client struct {
	manager *session.Manager
	gateway *session.Gateway
	storage *session.SQLiteStorage
	logger  *zap.Logger
}

// openClient restores the stored session. The caller must Close it.
func openClient(ctx context.Context, cmd *cobra.Command) (*client, error) {
	logger := zap.NewNop()
	if verbose {
		l, err := logging.New("debug", "console")
		if err != nil {
			return nil, err
		}
		logger = l
	}

	storage, err := session.OpenSQLite(ctx, statePath)
	if err != nil {
		return nil, err
	}

	stderr := cmd.ErrOrStderr()
	manager := session.NewManager(storage,
		session.WithManagerLogger(logger),
		session.WithNavigator(session.NavigatorFunc(func() {
			fmt.Fprintln(stderr, "Session terminée. Reconnectez-vous avec 'moodctl login'.")
		})),
	)
	gateway := session.NewGateway(serverURL, manager,
		session.WithGatewayLogger(logger),
	)

	if err := manager.Bootstrap(ctx, gateway); err != nil {
		_ = storage.Close()
		return nil, err
	}
	logger.Debug("session restored", zap.Stringer("state", manager.State()))

	return &client{manager: manager, gateway: gateway, storage: storage, logger: logger}, nil
}

func (c *client) Close() {
	_ = c.storage.Close()
	_ = c.logger.Sync()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "moodctl", "session.db")
}
