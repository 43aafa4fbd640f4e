package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dm-alt/USM-scripts/pkg/models"
	"github.com/dm-alt/USM-scripts/pkg/observe"
	"github.com/dm-alt/USM-scripts/pkg/store"
)

var correlationCmd = &cobra.Command{
	Use:     "correlation",
	Aliases: []string{"corr"},
	Short:   "Inspect or change the saved correlation context",
	RunE:    runCorrelationShow,
}

var correlationShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the last observed analytics request",
	RunE:  runCorrelationShow,
}

var correlationSetCmd = &cobra.Command{
	Use:   "set <url>",
	Short: "Save an analytics request URL as the current correlation context",
	Args:  cobra.ExactArgs(1),
	RunE:  runCorrelationSet,
}

var correlationClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the saved correlation context",
	RunE:  runCorrelationClear,
}

func init() {
	rootCmd.AddCommand(correlationCmd)
	correlationCmd.AddCommand(correlationShowCmd)
	correlationCmd.AddCommand(correlationSetCmd)
	correlationCmd.AddCommand(correlationClearCmd)
}

func openStore() (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func runCorrelationShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	req, err := st.LastMatch(cmd.Context())
	if err != nil {
		return err
	}
	if req == nil {
		fmt.Println("No analytics request observed yet.")
		return nil
	}
	return printCorrelation(req)
}

func runCorrelationSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m := observe.Matcher{TargetCollection: cfg.Backend.TargetCollection}
	req, ok := m.Match(args[0])
	if !ok {
		return fmt.Errorf("not an analytics metrics job URL: %s", args[0])
	}
	req.ObservedAt = time.Now()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveLastMatch(cmd.Context(), req); err != nil {
		return err
	}
	return printCorrelation(req)
}

func runCorrelationClear(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ClearLastMatch(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Correlation context cleared.")
	return nil
}

func printCorrelation(req *models.ObservedRequest) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(req)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(req)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Correlation ID", req.CorrelationID)
	table.Append("Collection", req.Collection)
	table.Append("Base endpoint", req.BaseEndpoint)
	table.Append("Submission endpoint", req.SubmissionEndpoint)
	table.Append("Observed", req.ObservedAt.Local().Format(time.RFC3339))
	table.Append("Age", time.Since(req.ObservedAt).Round(time.Second).String())
	return table.Render()
}
