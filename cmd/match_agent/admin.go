package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/match-orchestrator/internal/server"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a user",
	Long:  "Signs a bearer token with JWT_SECRET. Without --user a new user ID is generated.",
	RunE:  runToken,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired cache entries",
	RunE:  runCachePurge,
}

var (
	usageEvaluation string
	usageUser       string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded token usage and cost",
	Long:  "Lists the agent calls of one evaluation, or sums the spend of a user. Requires DATABASE_URL.",
	RunE:  runUsage,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User ID (UUID)")
	rootCmd.AddCommand(tokenCmd)

	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)

	usageCmd.Flags().StringVar(&usageEvaluation, "evaluation", "", "Evaluation ID")
	usageCmd.Flags().StringVar(&usageUser, "user", "", "User ID")
	usageCmd.MarkFlagsOneRequired("evaluation", "user")
	usageCmd.MarkFlagsMutuallyExclusive("evaluation", "user")
	rootCmd.AddCommand(usageCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if err := cfg.JWT.RequireSecret(); err != nil {
		return err
	}

	userID := uuid.New()
	if tokenUser != "" {
		if userID, err = uuid.Parse(tokenUser); err != nil {
			return fmt.Errorf("invalid user ID: %w", err)
		}
	}

	token, err := server.NewJWTService(cfg.JWT).GenerateToken(userID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user:  %s\n", userID)               //nolint:errcheck
	fmt.Fprintf(out, "token: %s\n", token)                //nolint:errcheck
	fmt.Fprintf(out, "valid: %s\n", cfg.JWT.Expiration()) //nolint:errcheck
	return nil
}

func runCachePurge(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newStorage(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cache == nil {
		return errors.New("cache is disabled")
	}
	n, err := a.cache.PurgeExpired(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired entries\n", n) //nolint:errcheck
	return nil
}

func runUsage(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newStorage(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if a.db == nil {
		return errors.New("usage history requires DATABASE_URL")
	}
	recorder := a.db.UsageRecorder()
	out := cmd.OutOrStdout()

	if usageUser != "" {
		summary, err := recorder.SummarizeUserUsage(cmd.Context(), usageUser)
		if err != nil {
			return err
		}
		return printJSON(out, summary)
	}

	events, err := recorder.ListUsageEvents(cmd.Context(), usageEvaluation)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no usage recorded for evaluation %s", usageEvaluation)
	}
	return printJSON(out, events)
}
