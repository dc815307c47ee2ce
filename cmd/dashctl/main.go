package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/curiouslearning/cl-dashboard/internal/app"
	"github.com/curiouslearning/cl-dashboard/internal/config"
	"github.com/curiouslearning/cl-dashboard/internal/utils"
)

var rootFlags struct {
	config  string
	verbose bool
}

var rootCmd = &cobra.Command{
	Use:           "dashctl",
	Short:         "Operator commands for the engagement dashboard",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var ingestFlags struct{ since string }

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the warehouse once and print the dedup report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var since *time.Time
		if ingestFlags.since != "" {
			t, err := time.Parse("2006-01-02", ingestFlags.since)
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			since = &t
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			rep, err := a.ETL.Run(ctx, since)
			if err != nil {
				return err
			}
			return printJSON(rep)
		})
	},
}

var funnelFlags struct {
	apps      []string
	countries []string
	language  string
	from, to  string
	variant   string
}

var funnelCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Load the warehouse and print the funnel for a cohort",
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := url.Values{}
		for _, a := range funnelFlags.apps {
			v.Add("app", a)
		}
		if len(funnelFlags.countries) > 0 {
			v.Set("countries", strings.Join(funnelFlags.countries, ","))
		}
		setIf(v, "language", funnelFlags.language)
		setIf(v, "from", funnelFlags.from)
		setIf(v, "to", funnelFlags.to)
		setIf(v, "variant", funnelFlags.variant)

		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if _, err := a.ETL.Run(ctx, nil); err != nil {
				return err
			}
			chart, err := a.Service.Funnel(ctx, v)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STAGE\tTITLE\tCOUNT\t% PREV\t% SECOND")
			for _, s := range chart.Steps {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.Stage, s.Title, s.Count, pct(s.PercentOfPrevious), pct(s.PercentOfSecond))
			}
			return tw.Flush()
		})
	},
}

var exportFlags struct{ date string }

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Load the warehouse and ship one day of campaign totals to the export sink",
	RunE: func(cmd *cobra.Command, _ []string) error {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if exportFlags.date != "" {
			t, err := time.Parse("2006-01-02", exportFlags.date)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			day = t
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if _, err := a.ETL.Run(ctx, nil); err != nil {
				return err
			}
			n, err := a.ETL.ExportDay(ctx, day)
			if err != nil {
				return err
			}
			fmt.Printf("exported %d campaigns for %s\n", n, day.Format("2006-01-02"))
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", os.Getenv("DASH_CONFIG"), "path to YAML config")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "debug logging")

	ingestCmd.Flags().StringVar(&ingestFlags.since, "since", "", "earliest day to load (YYYY-MM-DD)")

	funnelCmd.Flags().StringSliceVar(&funnelFlags.apps, "app", nil, "app filter, repeatable")
	funnelCmd.Flags().StringSliceVar(&funnelFlags.countries, "country", nil, "country filter, repeatable")
	funnelCmd.Flags().StringVar(&funnelFlags.language, "language", "", "app language filter")
	funnelCmd.Flags().StringVar(&funnelFlags.from, "from", "", "first-open from (YYYY-MM-DD)")
	funnelCmd.Flags().StringVar(&funnelFlags.to, "to", "", "first-open to (YYYY-MM-DD)")
	funnelCmd.Flags().StringVar(&funnelFlags.variant, "variant", "", "compact, medium or large")

	exportCmd.Flags().StringVar(&exportFlags.date, "date", "", "day to export (YYYY-MM-DD, default yesterday)")

	rootCmd.AddCommand(ingestCmd, funnelCmd, exportCmd)
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.LoadFromEnv(rootFlags.config)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if rootFlags.verbose {
		level = "debug"
	}
	logger, err := utils.NewLogger(level, "console", true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}

func setIf(v url.Values, k, val string) {
	if val != "" {
		v.Set(k, val)
	}
}

func pct(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
