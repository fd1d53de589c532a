package main

import (
	"encoding/json"
	"fmt"

	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/aretw0/sessionflow/pkg/adapters/redis"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect degraded-mode reports stored in Redis",
	Long:  `List or clear the degraded-mode reports a Release-mode engine pushed to redis.addr.`,
}

var reportsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		reporter, closeFn, err := openReporter(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		limit, _ := cmd.Flags().GetInt64("limit")
		reports, err := reporter.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No degraded reports found.")
			return nil
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		}
		for _, r := range reports {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-28s %-20s %s\n",
				r.At.Format("2006-01-02T15:04:05"), r.Mode, r.Feature, r.Reason, r.Detail)
		}
		return nil
	},
}

var reportsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stored report",
	RunE: func(cmd *cobra.Command, args []string) error {
		reporter, closeFn, err := openReporter(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := reporter.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Degraded reports cleared.")
		return nil
	},
}

func openReporter(cmd *cobra.Command) (*redis.Reporter, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, nil, fmt.Errorf("redis.addr is not configured (set SESSIONFLOW_REDIS_ADDR)")
	}
	client := backend.NewClient(&backend.Options{Addr: cfg.Redis.Addr})
	reporter := redis.NewReporter(client,
		redis.WithKey(cfg.Redis.Key),
		redis.WithMaxEntries(cfg.Redis.MaxEntries),
	)
	return reporter, func() { _ = client.Close() }, nil
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(reportsLsCmd)
	reportsCmd.AddCommand(reportsClearCmd)

	reportsLsCmd.Flags().Int64("limit", 50, "How many of the newest reports to show (0 for all)")
	reportsLsCmd.Flags().Bool("json", false, "Print reports as JSON")
}
