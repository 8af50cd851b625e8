package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/presencegate/server/internal/config"
	"github.com/presencegate/server/internal/crypto"
	"github.com/presencegate/server/internal/kv"
	"github.com/presencegate/server/internal/services"
	"github.com/presencegate/server/internal/storage"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gatectl",
		Short: "Presence gateway admin tool",
		Long:  `Operational commands for the presence gateway: migrations, decoy injection, pool inspection and key derivation checks.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.toml)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(injectFakesCmd())
	rootCmd.AddCommand(poolStatsCmd())
	rootCmd.AddCommand(deriveKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	if cfg != nil {
		return cfg
	}
	path := cfgFile
	if path == "" {
		path = "config.toml"
	}
	loaded, err := config.Load(path)
	if err != nil {
		loaded = config.DefaultConfig()
	}
	cfg = loaded
	return cfg
}

func openStore(ctx context.Context) (*kv.RedisStore, error) {
	c := loadConfig()
	return kv.NewRedisStore(ctx, c.Redis.Addr, c.Redis.Password, c.Redis.DB)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			c := loadConfig()
			db, err := storage.New(cmd.Context(), c.Database.DatabaseURL(), c.Database.MaxConns)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(path); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
	cmd.Flags().String("path", "./migrations", "migrations directory")
	return cmd
}

func injectFakesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inject-fakes <session-id>",
		Short: "Force decoy codes into a session pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			c := loadConfig()
			pool := services.NewPoolService(store, c.Attendance.MinPoolSize, c.Attendance.MaxRounds)

			if err := pool.InjectFakes(ctx, args[0], count); err != nil {
				return err
			}
			fmt.Printf("injected %d decoys into session %s\n", count, args[0])
			return nil
		},
	}
	cmd.Flags().Int("count", 5, "number of decoys to inject")
	return cmd
}

func poolStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool-stats <session-id>",
		Short: "Show the pool composition for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			c := loadConfig()
			pool := services.NewPoolService(store, c.Attendance.MinPoolSize, c.Attendance.MaxRounds)

			stats, err := pool.PoolStats(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("total=%d students=%d fakes=%d\n", stats.Total, stats.Students, stats.Fakes)
			return nil
		},
	}
}

func deriveKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive-key <shared-secret-b64> <credential-id>",
		Short: "Derive a session key for cross-implementation verification",
		Long:  `Derives the session key from a base64 shared secret and a credential id and prints it hex-encoded, for checking a client-side derivation against the server's.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := base64.StdEncoding.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("invalid shared secret: %w", err)
			}
			key, err := crypto.DeriveSessionKey(secret, args[1])
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(key))
			return nil
		},
	}
}
