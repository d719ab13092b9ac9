package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"glucosense/internal/api"
	"glucosense/internal/dataset"
	"glucosense/internal/domain"
	"glucosense/internal/service"
	"glucosense/internal/tui"
)

type rootOptions struct {
	configPath string
	logLevel   string
	synthetic  int
	seed       int64
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "glucosense",
		Short:         "Diabetes risk prediction with similar-case retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file path (default: ./config.yaml or ~/.config/glucosense/config.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.IntVar(&opts.synthetic, "synthetic", 0, "train on N generated patients instead of the configured CSV")
	pf.Int64Var(&opts.seed, "seed", 42, "seed for --synthetic")

	cmd.AddCommand(
		newTrainCmd(opts),
		newPredictCmd(opts),
		newServeCmd(opts),
		newTUICmd(opts),
		newSynthCmd(),
	)
	return cmd
}

// setup builds the app and trains it. When index is true the similarity
// index is built too.
func setup(ctx context.Context, opts *rootOptions, index bool) (*app, service.Report, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, service.Report{}, fmt.Errorf("failed to load config: %w", err)
	}
	a, err := build(ctx, cfg, opts.logLevel)
	if err != nil {
		return nil, service.Report{}, err
	}

	var report service.Report
	if opts.synthetic > 0 {
		report, err = a.pipeline.Train(ctx, dataset.Synthetic(opts.synthetic, opts.seed))
	} else {
		report, err = a.pipeline.LoadAndTrain(ctx)
	}
	if err != nil {
		a.Close()
		return nil, service.Report{}, err
	}
	if index {
		if err := a.pipeline.BuildIndex(ctx); err != nil {
			a.Close()
			return nil, service.Report{}, err
		}
	}
	return a, report, nil
}

func newTrainCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the ensemble and print the evaluation report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, report, err := setup(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if asJSON {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rows=%d balanced=%d train=%d test=%d duration=%s\n",
				report.Rows, report.BalancedRows, report.TrainRows, report.TestRows, report.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "selected features: %s\n\n", strings.Join(report.Selected, ", "))
			fmt.Fprint(out, report.Evaluation.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newPredictCmd(opts *rootOptions) *cobra.Command {
	var (
		k       int
		explain bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "predict key=value [key=value ...]",
		Short: "Predict one patient and list similar cases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, inlineK, err := tui.ParseInput(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if k == 0 {
				k = inlineK
			}
			record, err := domain.ParseRecord(fields)
			if err != nil {
				return err
			}

			a, _, err := setup(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.pipeline.Predict
			if explain {
				run = a.pipeline.Explain
			}
			res, err := run(cmd.Context(), record, k)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, res)
			}
			printResult(cmd, res, a.pipeline.DisplayFields())
			return nil
		},
	}
	cmd.Flags().IntVar(&k, "k", 0, "number of similar cases (default from config)")
	cmd.Flags().BoolVar(&explain, "explain", false, "request a generated explanation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Train, index and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, _, err := setup(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := api.NewServer(api.Config{
				Addr:           addr,
				RequestTimeout: time.Duration(a.cfg.Server.RequestTimeoutSecs) * time.Second,
			}, a.pipeline, a.registry, a.log)
			err = srv.Run(ctx)
			a.log.Info("server stopped", zap.Error(err))
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Train, index and open the interactive terminal UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, report, err := setup(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			summary := fmt.Sprintf("%d patients indexed, accuracy %.3f, ROC-AUC %.3f",
				report.Rows, report.Evaluation.Accuracy, report.Evaluation.AUC)
			_, err = tea.NewProgram(tui.New(a.pipeline, summary)).Run()
			return err
		},
	}
}

func newSynthCmd() *cobra.Command {
	var (
		n    int
		seed int64
		out  string
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a generated patient CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return dataset.WriteCSV(w, dataset.Synthetic(n, seed))
		},
	}
	cmd.Flags().IntVarP(&n, "rows", "n", 200, "number of patients")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func printResult(cmd *cobra.Command, res domain.Result, fields []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "prediction: %s (probability %.4f)\n", domain.LabelName(res.Label), res.Probability)
	fmt.Fprintf(out, "similar cases (%s):\n", res.Tier)
	for i, c := range res.SimilarCases {
		display := c.Display(fields)
		keys := make([]string, 0, len(display))
		for _, f := range fields {
			if _, ok := display[f]; ok {
				keys = append(keys, f)
			}
		}
		parts := make([]string, len(keys))
		for j, key := range keys {
			parts[j] = fmt.Sprintf("%s=%g", key, display[key])
		}
		fmt.Fprintf(out, "  %d) row %d  d=%.4f  %s\n", i+1, c.Row, c.Distance, strings.Join(parts, " "))
	}
	switch {
	case res.Explanation != "":
		fmt.Fprintf(out, "\nexplanation (%s):\n%s\n", res.ExplanationModel, res.Explanation)
	case res.ExplanationError != "":
		fmt.Fprintf(out, "\nexplanation unavailable: %s\n", res.ExplanationError)
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
