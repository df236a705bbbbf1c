package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/loadlab/benchsuite/pkg/config"
	"github.com/loadlab/benchsuite/pkg/store"
	"github.com/spf13/cobra"
)

var (
	compareApp      string
	compareEndpoint string
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare results across stages",
	Long: `Query persisted run summaries for an application and print them
side by side, ordered by stage and concurrency level. With --endpoint the
comparison drills into a single endpoint's per-run metrics instead.`,
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().StringVar(&compareApp, "app", "", "application name to compare (required)")
	compareCmd.Flags().StringVar(&compareEndpoint, "endpoint", "",
		"limit the comparison to a single endpoint path")

	if err := compareCmd.MarkFlagRequired("app"); err != nil {
		panic(err)
	}
}

func runCompare(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	if compareEndpoint != "" {
		rows, err := st.EndpointComparison(ctx, compareApp, compareEndpoint)
		if err != nil {
			return fmt.Errorf("querying endpoint comparison: %w", err)
		}

		if len(rows) == 0 {
			log.WithField("app", compareApp).Info("No endpoint metrics found")

			return nil
		}

		return printEndpointComparison(rows)
	}

	rows, err := st.StageComparison(ctx, compareApp)
	if err != nil {
		return fmt.Errorf("querying stage comparison: %w", err)
	}

	if len(rows) == 0 {
		log.WithField("app", compareApp).Info("No run summaries found")

		return nil
	}

	return printStageComparison(rows)
}

func printStageComparison(rows []store.StageComparisonRow) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "RUN ID\tSTAGE\tUSERS\tREQUESTS\tFAILURES\tFAIL %\tAVG MS\tP95 MS\tRPS\tCACHE HIT %\tDB HEALTH")

	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
			row.RunID, row.Stage, row.UserCount,
			row.TotalRequests, row.TotalFailures, row.FailureRate,
			row.AvgResponseTime, row.P95ResponseTime, row.RequestsPerSecond,
			formatOptional(row.DBCacheHitRate), formatOptional(row.DBOverallHealth))
	}

	return w.Flush()
}

func printEndpointComparison(rows []store.EndpointComparisonRow) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "RUN ID\tSTAGE\tUSERS\tMETHOD\tENDPOINT\tREQUESTS\tFAILURES\tAVG MS\tP95 MS\tRPS")

	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%d\t%d\t%.2f\t%.2f\t%.2f\n",
			row.RunID, row.Stage, row.UserCount, row.Method, row.Endpoint,
			row.RequestCount, row.FailureCount,
			row.AverageResponseTime, row.P95ResponseTime, row.RequestsPerSecond)
	}

	return w.Flush()
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}

	return fmt.Sprintf("%.2f", *v)
}
