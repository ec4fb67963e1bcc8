package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/repository"
	"github.com/michal-majer/s4kit-gateway/app/service"
	"github.com/michal-majer/s4kit-gateway/config"
)

var (
	apiKeyOrganization string
	apiKeyEnvironment  string
	apiKeyRatePerMin   int
	apiKeyRatePerDay   int
	apiKeyExpiresDays  int
)

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage gateway API keys",
}

var apiKeyGenerateCmd = &cobra.Command{
	Use:   "generate <name>",
	Short: "Generate an API key for an organization",
	Long:  `Generate a new API key. The raw key is printed exactly once; only its hash is stored.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, db, err := newAPIKeyRepositoryForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if apiKeyRatePerMin == 0 {
			apiKeyRatePerMin = cfg.DefaultKeyRatePerMinute
		}
		if apiKeyRatePerDay == 0 {
			apiKeyRatePerDay = cfg.DefaultKeyRatePerDay
		}

		rawKey, prefix, hash, err := service.GenerateAPIKey(apiKeyEnvironment)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		key := &entity.APIKey{
			ID:             uuid.NewString(),
			OrganizationID: apiKeyOrganization,
			Name:           args[0],
			KeyPrefix:      prefix,
			KeyHash:        hash,
			RatePerMinute:  apiKeyRatePerMin,
			RatePerDay:     apiKeyRatePerDay,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if apiKeyExpiresDays > 0 {
			expiresAt := now.AddDate(0, 0, apiKeyExpiresDays)
			key.ExpiresAt = &expiresAt
		}

		if err := repo.Create(context.Background(), key); err != nil {
			return err
		}

		fmt.Printf("name: %s\n", key.Name)
		fmt.Printf("organization_id: %s\n", key.OrganizationID)
		fmt.Printf("key_prefix: %s\n", key.KeyPrefix)
		fmt.Printf("api_key: %s\n", rawKey)
		fmt.Printf("rate_per_minute: %d\n", key.RatePerMinute)
		fmt.Printf("rate_per_day: %d\n", key.RatePerDay)
		if key.ExpiresAt != nil {
			fmt.Printf("expires_at: %s\n", key.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key_prefix>",
	Short: "Revoke an API key by its public prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, db, err := newAPIKeyRepositoryForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		count, err := repo.Revoke(context.Background(), args[0], time.Now().UTC())
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("no active key with prefix %q", args[0])
		}

		fmt.Printf("revoked %d key(s) with prefix %s\n", count, args[0])
		return nil
	},
}

func newAPIKeyRepositoryForCommands() (*repository.APIKeyRepository, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewAPIKeyRepository(db), db, nil
}

func init() {
	apiKeyGenerateCmd.Flags().StringVar(&apiKeyOrganization, "org", "", "owning organization id (required)")
	apiKeyGenerateCmd.Flags().StringVar(&apiKeyEnvironment, "env", "live", "key environment tag: live or test")
	apiKeyGenerateCmd.Flags().IntVar(&apiKeyRatePerMin, "rate-minute", 0, "per-minute quota (0 = configured default)")
	apiKeyGenerateCmd.Flags().IntVar(&apiKeyRatePerDay, "rate-day", 0, "per-day quota (0 = configured default)")
	apiKeyGenerateCmd.Flags().IntVar(&apiKeyExpiresDays, "expires-days", 0, "days until expiry (0 = never)")
	_ = apiKeyGenerateCmd.MarkFlagRequired("org")

	apiKeyCmd.AddCommand(apiKeyGenerateCmd)
	apiKeyCmd.AddCommand(apiKeyRevokeCmd)
	rootCmd.AddCommand(apiKeyCmd)
}
