package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/owaiken/os/internal/config"
	"github.com/owaiken/os/internal/ratelimit"
)

var (
	checkTier     string
	checkEndpoint string
	checkCount    int
)

var checkCmd = &cobra.Command{
	Use:   "check <identifier>",
	Short: "Evaluate rate limit checks for an identifier",
	Long: `Evaluate one or more checks for an identifier against the
configured backend and tier policy, printing the last decision as JSON.
Against a shared backend this consumes real quota.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkTier, "tier", ratelimit.DefaultTier, "subscription tier to evaluate against")
	checkCmd.Flags().StringVar(&checkEndpoint, "endpoint", "", "optional endpoint label scoping the counters")
	checkCmd.Flags().IntVar(&checkCount, "n", 1, "number of checks to run")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	limiter, store, pool, err := buildLimiter(cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}
	if store != nil {
		defer store.Close()
	}

	if checkCount < 1 {
		checkCount = 1
	}

	var decision ratelimit.Decision
	for i := 0; i < checkCount; i++ {
		decision = limiter.CheckEndpoint(context.Background(), args[0], checkEndpoint, checkTier)
	}

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
