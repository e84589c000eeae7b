// Command trustcheck runs the submission checks offline and probes a running gate.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/trustgate/internal/domain/quality"
	"github.com/okian/trustgate/internal/domain/scoring"
	"github.com/okian/trustgate/internal/probe"
	"github.com/okian/trustgate/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var format string
	root := &cobra.Command{
		Use:          "trustcheck",
		Short:        "Inspect how the submission gate judges content and telemetry",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&format, "format", "f", "text", "Output format (text|json)")

	root.AddCommand(
		newQualityCmd("content", "Score free-text message content", quality.AnalyzeContent, &format),
		newQualityCmd("name", "Validate a submitter name", quality.ValidateName, &format),
		newTrustCmd(&format),
		newProbeCmd(&format),
	)
	return root
}

func newQualityCmd(use, short string, check func(string) quality.Result, format *string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <text>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := check(strings.Join(args, " "))
			if *format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "score:      %d\n", res.Score)
			fmt.Fprintf(out, "acceptable: %t\n", res.Acceptable)
			if len(res.Flags) > 0 {
				fmt.Fprintf(out, "flags:      %s\n", strings.Join(res.Flags, ", "))
			}
			if res.Reason != "" {
				fmt.Fprintf(out, "reason:     %s\n", res.Reason)
			}
			return nil
		},
	}
}

func newTrustCmd(format *string) *cobra.Command {
	var f scoring.Factors
	var lowMin, mediumMin int
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Score behavioral telemetry and print the recommendation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := scoring.NewCalculator(scoring.WithBands(lowMin, mediumMin)).Assess(f)
			if *format == "json" {
				return writeJSON(cmd.OutOrStdout(), a)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "score:          %d\n", a.Score)
			fmt.Fprintf(out, "risk:           %s\n", a.Risk)
			fmt.Fprintf(out, "recommendation: %s\n", a.Recommendation)
			return nil
		},
	}
	cmd.Flags().Float64Var(&f.TimeSpent, "time-spent", 0, "Seconds spent on the form")
	cmd.Flags().Float64Var(&f.BehaviorScore, "behavior", 0, "Interaction score (0..100)")
	cmd.Flags().Float64Var(&f.FormValidation, "validation", 0, "Client-side validation credit (0..25)")
	cmd.Flags().BoolVar(&f.HoneypotClean, "honeypot-clean", false, "Honeypot field was left empty")
	cmd.Flags().IntVar(&lowMin, "low-min", 70, "Minimum score for the low risk band")
	cmd.Flags().IntVar(&mediumMin, "medium-min", 40, "Minimum score for the medium risk band")
	return cmd
}

func newProbeCmd(format *string) *cobra.Command {
	var cfg probe.Config
	var verbose bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send concurrent submissions to a running gate and tally the answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []logger.Option{logger.WithWriter(io.Discard)}
			if verbose {
				opts = []logger.Option{logger.WithWriter(cmd.ErrOrStderr())}
			}
			if err := logger.Init(opts...); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			report, err := probe.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if *format == "json" {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "url", probe.DefaultBaseURL, "Base URL of the service")
	cmd.Flags().StringVar(&cfg.Endpoint, "endpoint", probe.DefaultEndpoint, "Form endpoint (contact|consultation|wizard|showings)")
	cmd.Flags().IntVarP(&cfg.Count, "count", "n", probe.DefaultCount, "Number of submissions")
	cmd.Flags().IntVarP(&cfg.Workers, "workers", "w", probe.DefaultWorkers, "Concurrent senders")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", probe.DefaultTimeout, "Per request timeout")
	cmd.Flags().StringVar(&cfg.ClientID, "client", probe.DefaultClientID, "Client address sent as X-Forwarded-For")
	cmd.Flags().StringVar(&cfg.Token, "token", probe.DefaultToken, "Captcha token")
	cmd.Flags().StringVar(&cfg.Message, "message", "", "Message body")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")
	return cmd
}

func printReport(out io.Writer, r probe.Report) {
	fmt.Fprintf(out, "sent:     %d in %s\n", r.Sent, r.Duration.Round(time.Millisecond))
	if r.Failed > 0 {
		fmt.Fprintf(out, "failed:   %d (no response)\n", r.Failed)
	}
	for _, status := range r.Statuses() {
		fmt.Fprintf(out, "status %d: %d\n", status, r.ByStatus[status])
	}
	for code, n := range r.ByCode {
		fmt.Fprintf(out, "code %s: %d\n", code, n)
	}
	if r.Last.Limit != "" {
		fmt.Fprintf(out, "limit:    %s remaining %s reset %s\n", r.Last.Limit, r.Last.Remaining, r.Last.Reset)
	}
	if r.Last.RetryAfter != "" {
		fmt.Fprintf(out, "retry:    %ss\n", r.Last.RetryAfter)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
