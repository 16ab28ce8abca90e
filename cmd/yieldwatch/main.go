// Command yieldwatch runs one market-data sync, prints freshness stats, or
// refreshes dividend-safety scores, then exits. The exit code is 1 when any
// symbol failed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/app"
	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// configPaths is a custom flag type that allows multiple --config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

// options holds the parsed command line.
type options struct {
	configs    configPaths
	force      bool
	stats      bool
	historical bool
	dividends  bool
	safety     bool
	days       int
	symbols    []string
	help       bool
	version    bool
}

func parseOptions(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("yieldwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var symbols string
	fs.Var(&opts.configs, "config", "Configuration file path (can be repeated, later files override earlier ones)")
	fs.BoolVar(&opts.force, "force", false, "Refetch every symbol regardless of freshness")
	fs.BoolVar(&opts.stats, "stats", false, "Print quote freshness statistics and exit")
	fs.BoolVar(&opts.historical, "historical", false, "Sync daily price history instead of quotes")
	fs.BoolVar(&opts.dividends, "dividends", false, "Sync dividend events instead of quotes")
	fs.BoolVar(&opts.safety, "safety", false, "Refresh dividend-safety scores for held symbols")
	fs.IntVar(&opts.days, "days", 0, "Lookback window in days for --historical and --dividends (0 = config default)")
	fs.StringVar(&symbols, "symbols", "", "Comma-separated symbols to process instead of the held set")
	fs.BoolVar(&opts.help, "help", false, "Show usage")
	fs.BoolVar(&opts.version, "version", false, "Print version information")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: yieldwatch [flags]\n\nWith no mode flag the current quotes are synced.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.help {
		fs.Usage()
		return opts, nil
	}
	if opts.days < 0 {
		return nil, fmt.Errorf("--days must not be negative, got %d", opts.days)
	}
	for _, s := range strings.Split(symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			opts.symbols = append(opts.symbols, s)
		}
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if opts.help {
		return 0
	}
	if opts.version {
		fmt.Fprintf(stdout, "yieldwatch %s\n", common.GetFullVersion())
		return 0
	}

	a, err := app.NewApp(opts.configs...)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize app: %v\n", err)
		return 1
	}
	defer a.Close()

	switch {
	case opts.stats:
		stats, err := a.Market.GetFreshnessStats(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		printStats(stdout, stats)
		return 0
	case opts.safety:
		results, err := a.RefreshSafety(ctx, opts.symbols)
		printSafety(stdout, results)
		if err != nil {
			fmt.Fprintf(stderr, "Errors:\n%v\n", err)
			return 1
		}
		return 0
	}

	result, err := runSync(ctx, a, opts)
	if result != nil {
		printSummary(stdout, result)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if result.HasFailures() {
		return 1
	}
	return 0
}

// runSync picks the sync operation for the mode flags. --historical and
// --dividends may be combined; their results are merged.
func runSync(ctx context.Context, a *app.App, opts *options) (*models.BatchResult, error) {
	m := a.Market
	explicit := len(opts.symbols) > 0

	if !opts.historical && !opts.dividends {
		if explicit {
			return m.SyncQuotesFor(ctx, opts.symbols, opts.force)
		}
		return m.SyncQuotes(ctx, opts.force)
	}

	combined := &models.BatchResult{StartedAt: time.Now().UTC()}
	if opts.historical {
		var r *models.BatchResult
		var err error
		if explicit {
			r, err = m.SyncHistoricalPricesFor(ctx, opts.symbols, opts.days, opts.force)
		} else {
			r, err = m.SyncHistoricalPrices(ctx, opts.days, opts.force)
		}
		if r != nil {
			combined.Merge(*r)
			combined.DataType = r.DataType
		}
		if err != nil {
			return combined, err
		}
	}
	if opts.dividends {
		var r *models.BatchResult
		var err error
		if explicit {
			r, err = m.SyncDividendsFor(ctx, opts.symbols, opts.days, opts.force)
		} else {
			r, err = m.SyncDividends(ctx, opts.days, opts.force)
		}
		if r != nil {
			combined.Merge(*r)
			if !opts.historical {
				combined.DataType = r.DataType
			}
		}
		if err != nil {
			return combined, err
		}
	}
	combined.FinishedAt = time.Now().UTC()
	return combined, nil
}

func printSummary(w io.Writer, r *models.BatchResult) {
	label := string(r.DataType)
	if label == "" {
		label = "sync"
	}
	fmt.Fprintf(w, "%s: total=%d updated=%d skipped=%d failed=%d\n", label, r.Total, r.Updated, r.Skipped, r.Failed)
	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

func printStats(w io.Writer, s *models.FreshnessStats) {
	stamp := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "Session:      %s\n", s.Session)
	fmt.Fprintf(w, "Total stocks: %d\n", s.TotalStocks)
	fmt.Fprintf(w, "Fresh:        %d\n", s.FreshData)
	fmt.Fprintf(w, "Stale:        %d\n", s.StaleData)
	fmt.Fprintf(w, "Missing:      %d\n", s.MissingData)
	fmt.Fprintf(w, "Oldest:       %s\n", stamp(s.OldestDataTimestamp))
	fmt.Fprintf(w, "Newest:       %s\n", stamp(s.NewestDataTimestamp))

	dataTypes := make([]string, 0, len(s.ByDataType))
	for dt := range s.ByDataType {
		dataTypes = append(dataTypes, string(dt))
	}
	sort.Strings(dataTypes)
	for _, dt := range dataTypes {
		c := s.ByDataType[models.DataType(dt)]
		fmt.Fprintf(w, "  %-18s fresh=%d stale=%d missing=%d\n", dt, c.Fresh, c.Stale, c.Missing)
	}
}

func printSafety(w io.Writer, results map[string]models.SafetyResult) {
	symbols := make([]string, 0, len(results))
	for s := range results {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		r := results[s]
		line := fmt.Sprintf("%-8s %6.2f  %-3s", s, r.Score, r.Grade)
		if r.Stale {
			line += "  (stale)"
		}
		fmt.Fprintln(w, line)
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "           %s\n", warn)
		}
	}
	fmt.Fprintf(w, "%d symbols scored\n", len(symbols))
}
