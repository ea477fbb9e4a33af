// Package main provides the operator CLI for maintenance jobs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zatekoja/voiceshop/backend/internal/adapters/cache"
	"github.com/zatekoja/voiceshop/backend/internal/adapters/database"
	"github.com/zatekoja/voiceshop/backend/internal/adapters/search"
	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	"github.com/zatekoja/voiceshop/backend/migrations"
	"github.com/zatekoja/voiceshop/backend/pkg/config"
)

var (
	outputJSON bool

	cfg    *config.Config
	logger *zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "voiceshop-admin",
	Short: "Maintenance jobs for the voice shopping backend",
	Long: `voiceshop-admin runs jobs the API server does not need to run inline:

- migrate applies the embedded PostgreSQL schema migrations
- sweep-preferences removes expired preferences from storage
- reindex-catalog re-indexes stored products into the fallback catalog`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		observability.InitLogger(cfg.OTEL.ServiceName+"-admin", cfg.Env)
		logger = observability.GetLogger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSweepPreferencesCmd())
	rootCmd.AddCommand(newReindexCatalogCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pgClient, err := postgres.NewClient(&cfg.Database)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pgClient.Close()

			applied, err := pgClient.Migrate(ctx, migrations.Files)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if applied == nil {
				applied = []string{}
			}
			return report(map[string]interface{}{"applied": applied}, fmt.Sprintf("Applied %d migrations", len(applied)))
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "maximum run time")
	return cmd
}

func newSweepPreferencesCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sweep-preferences",
		Short: "Delete expired preferences",
		Long: `Physically deletes preferences whose expiry has passed. Reads already
ignore expired preferences, so running this is never required for correctness.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pgClient, err := postgres.NewClient(&cfg.Database)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pgClient.Close()

			store := services.NewPreferenceStore(
				database.NewPreferenceAdapter(pgClient),
				nil,
				cache.NewMemoryLocker(),
				services.PreferenceSettings{
					MaxPerUser:      cfg.Preferences.MaxPerUser,
					ExpiryWindow:    cfg.Preferences.ExpiryWindow,
					ConfidenceFloor: cfg.Preferences.ConfidenceFloor,
					Currency:        cfg.Search.Currency,
				},
				nil,
			)

			removed, err := services.NewPreferenceSweepService(store).Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep preferences: %w", err)
			}
			return report(map[string]interface{}{"removed": removed}, fmt.Sprintf("Removed %d expired preferences", removed))
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum run time")
	return cmd
}

func newReindexCatalogCmd() *cobra.Command {
	var (
		since     string
		batchSize int
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reindex-catalog",
		Short: "Re-index stored products into the fallback catalog",
		Long: `Reads products stored since the given point and upserts them into the
Typesense catalog that serves degraded searches. --since accepts an RFC 3339
timestamp or a duration such as 72h, read as "that long ago".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pgClient, err := postgres.NewClient(&cfg.Database)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pgClient.Close()

			tsClient, err := typesense.NewClient(&cfg.Typesense)
			if err != nil {
				return fmt.Errorf("connect typesense: %w", err)
			}
			if err := tsClient.InitSchema(ctx); err != nil {
				return fmt.Errorf("init catalog schema: %w", err)
			}

			indexer := services.NewCatalogIndexService(
				database.NewProductAdapter(pgClient),
				search.NewCatalogAdapter(tsClient),
				batchSize,
			)

			started := time.Now()
			indexed, err := indexer.Reindex(ctx, from)
			if err != nil {
				logger.Error().Err(err).Int("indexed", indexed).Msg("Reindex stopped early")
				return fmt.Errorf("reindex catalog: %w", err)
			}
			return report(map[string]interface{}{
				"indexed":  indexed,
				"since":    from.Format(time.RFC3339),
				"duration": time.Since(started).String(),
			}, fmt.Sprintf("Indexed %d products stored since %s", indexed, from.Format(time.RFC3339)))
		},
	}

	cmd.Flags().StringVar(&since, "since", "24h", "RFC 3339 timestamp or look-back duration")
	cmd.Flags().IntVar(&batchSize, "batch", 500, "products read per page")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "maximum run time")
	return cmd
}

// parseSince accepts an RFC 3339 timestamp or a look-back duration
func parseSince(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC 3339 timestamp or positive duration", raw)
	}
	return now.Add(-d), nil
}

func report(payload map[string]interface{}, text string) error {
	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(payload)
	}
	fmt.Println(text)
	return nil
}
