/*
File: main.go
Version: 1.1.0
Description: Command line entry point: serve, train, extract, predict.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "phishguard.yaml"

type cli struct {
	cfgFile string
	cfg     *Config
}

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	err := newRootCmd().Execute()
	if err != nil {
		LogError("[SYSTEM] %v", err)
	}
	ShutdownLogger()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "phishguard",
		Short: "Phishing URL classifier service",
		Long: `phishguard scores URLs with a random forest trained on lexical URL features,
serves the scores over a JSON API and records user feedback for retraining.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (default: $PHISHGUARD_CONFIG or ./"+defaultConfigFile+" if present)")

	root.AddCommand(c.serveCmd(), c.trainCmd(), c.extractCmd(), c.predictCmd())
	return root
}

// setup loads configuration and starts the logger before any subcommand runs.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	path := resolveConfigPath(c.cfgFile)
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	if err := InitLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if path != "" {
		LogInfo("[CONFIG] Loaded %s", path)
	}
	c.cfg = cfg
	return nil
}

func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("PHISHGUARD_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the prediction and feedback API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, c.cfg)
		},
	}
}

func (c *cli) trainCmd() *cobra.Command {
	var (
		dataset  string
		out      string
		trees    int
		seed     int64
		testSize float64
		maxDepth int
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model from a labelled URL corpus (CSV with url,status columns)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := c.cfg.Training
			flags := cmd.Flags()
			if flags.Changed("dataset") {
				t.Dataset = dataset
			}
			if flags.Changed("trees") {
				t.Trees = trees
			}
			if flags.Changed("seed") {
				t.Seed = seed
			}
			if flags.Changed("test-size") {
				if testSize < 0 || testSize >= 1 {
					return fmt.Errorf("--test-size must be in [0,1), got %v", testSize)
				}
				t.TestSize = testSize
			}
			if flags.Changed("max-depth") {
				t.MaxDepth = maxDepth
			}
			if flags.Changed("workers") {
				t.Workers = workers
			}
			if out == "" {
				out = c.cfg.Model.Path
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := RunTraining(ctx, t, t.Dataset, out)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Samples: %d (phishing %d), train %d, test %d\n", report.Samples, report.Phishing, report.Train, report.Test)
			if report.Test > 0 {
				fmt.Fprintf(w, "Model Accuracy: %.2f%%\n", report.Accuracy*100)
			}
			fmt.Fprintf(w, "Model saved to %s (%d trees, %v)\n", out, report.Trees, report.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dataset, "dataset", "", "training corpus (default: training.dataset)")
	f.StringVarP(&out, "out", "o", "", "artifact path (default: model.path)")
	f.IntVar(&trees, "trees", 0, "number of trees")
	f.Int64Var(&seed, "seed", 0, "random seed for split and bagging")
	f.Float64Var(&testSize, "test-size", 0, "held-out fraction")
	f.IntVar(&maxDepth, "max-depth", 0, "maximum tree depth (0 = unlimited)")
	f.IntVar(&workers, "workers", 0, "parallel tree builders (0 = CPU count)")
	return cmd
}

type extractLine struct {
	URL      string             `json:"url"`
	Hostname string             `json:"hostname"`
	Features map[string]float64 `json:"features"`
	Vector   FeatureVector      `json:"vector"`
}

func (c *cli) extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <url>...",
		Short: "Print the feature vector of each URL as a JSON line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, u := range args {
				v := ExtractFeatures(u)
				named := make(map[string]float64, FeatureCount)
				for i, name := range FeatureNames {
					named[name] = v[i]
				}
				if err := enc.Encode(extractLine{URL: u, Hostname: Hostname(u), Features: named, Vector: v}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (c *cli) predictCmd() *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "predict <url>...",
		Short: "Score URLs offline with a model artifact and print JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" {
				modelPath = c.cfg.Model.Path
			}
			model, err := LoadClassifier(modelPath)
			if err != nil {
				return err
			}
			scorer := NewScorer(model, 0)

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, u := range args {
				res, err := scorer.Predict(context.Background(), u)
				if err != nil {
					return fmt.Errorf("%q: %w", u, err)
				}
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "model artifact (default: model.path)")
	return cmd
}
