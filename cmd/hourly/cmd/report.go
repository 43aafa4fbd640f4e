package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dm-alt/USM-scripts/internal/report"
	"github.com/dm-alt/USM-scripts/pkg/errs"
	"github.com/dm-alt/USM-scripts/pkg/logging"
	"github.com/dm-alt/USM-scripts/pkg/observe"
	"github.com/dm-alt/USM-scripts/pkg/pipeline"
)

var (
	reportStartHour int
	reportEndHour   int
	reportHAR       string
	reportURLs      []string
	reportFresh     bool
	reportCSVFile   string
	reportTimeout   time.Duration
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build the hourly report for the last observed analytics request",
	Long: `Build the hourly report for the analytics request last made by your
browser session.

The request is taken, in order, from the last match saved by a previous run,
a HAR export (--har) and URLs given with --url. With --fresh the command
ignores what it already knows and waits for a new request to arrive through
the daemon.`,
	Example: `  hourly report --url 'https://app.frontapp.com/api/1/companies/x/analytics/metrics/foo/<id>'
  hourly report --har session.har -o csv --csv-file ~/reports/
  hourly report --start 8 --end 20 -o json`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().IntVar(&reportStartHour, "start", -1, "first hour of the report (default from report.start_hour)")
	reportCmd.Flags().IntVar(&reportEndHour, "end", -1, "last hour of the report (default from report.end_hour)")
	reportCmd.Flags().StringVar(&reportHAR, "har", "", "HAR export to search for the analytics request")
	reportCmd.Flags().StringArrayVar(&reportURLs, "url", nil, "analytics request URL (repeatable, last wins)")
	reportCmd.Flags().BoolVar(&reportFresh, "fresh", false, "wait for a new request instead of reusing the last one")
	reportCmd.Flags().StringVar(&reportCSVFile, "csv-file", "", "also write the CSV report to this file or directory")
	reportCmd.Flags().DurationVar(&reportTimeout, "timeout", 0, "correlation timeout (default from correlation.timeout)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	r := report.Range{Start: cfg.Report.StartHour, End: cfg.Report.EndHour}
	if reportStartHour >= 0 {
		r.Start = reportStartHour
	}
	if reportEndHour >= 0 {
		r.End = reportEndHour
	}
	if err := r.Validate(); err != nil {
		return err
	}

	var extra []observe.History
	if reportHAR != "" {
		extra = append(extra, observe.HARHistory{Path: reportHAR})
	}
	if len(reportURLs) > 0 {
		extra = append(extra, observe.StaticHistory(reportURLs))
	}

	a, err := newApp(cfg, extra...)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	res, runErr := a.pipeline.Run(ctx, pipeline.Options{
		Fresh:              reportFresh,
		CorrelationTimeout: reportTimeout,
	})
	a.writeTextfile()
	if runErr != nil {
		printHint(runErr)
		return runErr
	}

	rep, err := report.Build(res, r, time.Now())
	if err != nil {
		return err
	}

	if err := report.Write(os.Stdout, rep, outputFormat); err != nil {
		return err
	}

	if reportCSVFile != "" {
		path, err := writeCSVFile(rep, reportCSVFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "CSV written to %s\n", path)
	}
	return nil
}

// writeCSVFile writes rep to target. A directory target gets the report's
// default file name.
func writeCSVFile(rep *report.Report, target string) (string, error) {
	path := target
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		path = filepath.Join(target, rep.Filename())
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file: %w", err)
	}
	if err := report.WriteCSV(f, rep); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func (a *app) writeTextfile() {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("Failed to write metrics textfile", logging.Fields{"path": a.cfg.Metrics.Textfile, "error": err})
	}
}

func printHint(err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		if hint := e.Hint(); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
	}
}
