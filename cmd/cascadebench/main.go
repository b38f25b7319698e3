// Package main provides the CLI entry point for cascadebench, a
// correctness and throughput benchmark for a GPU cascaded compression engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/weiihann/cascadebench/codec"
	"github.com/weiihann/cascadebench/dataset"
	"github.com/weiihann/cascadebench/device"
	"github.com/weiihann/cascadebench/harness"
	"github.com/weiihann/cascadebench/report"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// UsageError reports invalid or missing command-line arguments.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return "usage: " + e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

type app struct {
	logger     *slog.Logger
	level      *slog.LevelVar
	stdout     io.Writer
	openDevice func(index int) (device.Device, error)
	newEngine  func() codec.Engine
	helpShown  bool
}

func newApp(stdout, stderr io.Writer) *app {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	return &app{
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
			Level: level,
		})),
		level:      level,
		stdout:     stdout,
		openDevice: device.Open,
		newEngine:  codec.NewEngine,
	}
}

// run executes the CLI and returns the process exit status: 0 when the full
// pipeline succeeds, 1 for every failure.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).execute(ctx, args, stderr)
}

func (a *app) execute(ctx context.Context, args []string, stderr io.Writer) int {
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stderr)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		a.logger.ErrorContext(ctx, "benchmark failed", slog.String("error", err.Error()))

		return 1
	}

	if a.helpShown {
		return 1
	}

	return 0
}

type benchFlags struct {
	filename string
	rles     int
	deltas   int
	bitpack  int
	dtype    string
	size     int
	gpu      int
	sort     bool
	memory   bool
	json     bool
	verbose  bool
}

func (f benchFlags) config() (harness.Config, error) {
	typ, err := dataset.ParseType(f.dtype)
	if err != nil {
		return harness.Config{}, err
	}

	if f.bitpack != 0 && f.bitpack != 1 {
		return harness.Config{}, fmt.Errorf("bitpack must be 0 or 1, got %d", f.bitpack)
	}

	cfg := harness.Config{
		Path: f.filename,
		Type: typ,
		Options: codec.Options{
			RLEs:       f.rles,
			Deltas:     f.deltas,
			BitPacking: f.bitpack == 1,
		},
		Sort:          f.sort,
		Size:          f.size,
		Device:        f.gpu,
		VerboseMemory: f.memory,
	}

	return cfg, cfg.Validate()
}

func (a *app) newRootCmd() *cobra.Command {
	var f benchFlags

	root := &cobra.Command{
		Use:   "cascadebench",
		Short: "Benchmark a GPU cascaded compression engine",
		Long: `Cascadebench loads a raw binary dataset of fixed-width integers, compresses
and decompresses it once on the selected device, verifies the round trip is
bit-exact, and reports the compression ratio and throughput.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if f.verbose {
				a.level.Set(slog.LevelDebug)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.filename == "" {
				_ = cmd.Usage()

				return &UsageError{Err: errors.New("--filename is required")}
			}

			cfg, err := f.config()
			if err != nil {
				_ = cmd.Usage()

				return &UsageError{Err: err}
			}

			return a.runBenchmark(cmd.Context(), cfg, f.json)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&f.filename, "filename", "f", "",
		"Binary dataset filename (required)")
	flags.IntVarP(&f.rles, "rles", "r", 1,
		"Number of RLEs")
	flags.IntVarP(&f.deltas, "deltas", "d", 0,
		"Number of deltas")
	flags.IntVarP(&f.bitpack, "bitpack", "b", 0,
		"Bitpacking enabled (0 or 1)")
	flags.StringVarP(&f.dtype, "type", "t", string(dataset.Int),
		"Datatype: int8, short, int or long")
	flags.IntVarP(&f.size, "size", "z", 0,
		"Elements to compress (0 = entire file)")
	flags.IntVarP(&f.gpu, "gpu", "g", 0,
		"GPU device number")
	flags.BoolVarP(&f.sort, "sort", "s", false,
		"Enable sort before compression")
	flags.BoolVarP(&f.memory, "memory", "m", false,
		"Output GPU memory allocation sizes")
	flags.BoolVar(&f.json, "json", false,
		"Output the result as JSON instead of the line report")
	flags.BoolP("help", "?", false,
		"Print usage and exit")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false,
		"Enable debug logging")

	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "file" {
			name = "filename"
		}

		return pflag.NormalizedName(name)
	})

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		_ = cmd.Usage()

		return &UsageError{Err: err}
	})

	root.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		a.helpShown = true
		_ = cmd.Usage()
	})

	root.AddCommand(a.newGenerateCmd())

	return root
}

func (a *app) runBenchmark(ctx context.Context, cfg harness.Config, outputJSON bool) error {
	dev, err := a.openDevice(cfg.Device)
	if err != nil {
		return err
	}
	defer dev.Close()

	a.logger.InfoContext(ctx, "device selected",
		slog.Int("index", dev.Index()),
		slog.String("name", dev.Name()),
	)

	a.logger.InfoContext(ctx, "starting benchmark",
		slog.String("filename", cfg.Path),
		slog.String("type", string(cfg.Type)),
		slog.Int("rles", cfg.Options.RLEs),
		slog.Int("deltas", cfg.Options.Deltas),
		slog.Bool("bitpack", cfg.Options.BitPacking),
		slog.Bool("sort", cfg.Sort),
		slog.Int("size", cfg.Size),
	)

	var observer harness.Observer
	if !outputJSON {
		observer = report.NewConsole(a.stdout)
	}

	runner := harness.NewRunner(dev, a.newEngine(), observer, a.logger)

	result, err := runner.Run(ctx, cfg)
	if err != nil {
		return err
	}

	if outputJSON {
		if err := report.GenerateJSON(a.stdout, result); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "benchmark complete")

	return nil
}

func (a *app) newGenerateCmd() *cobra.Command {
	var (
		output       string
		count        int
		dtype        string
		minRun       int
		maxRun       int
		distribution string
		spread       int64
		sorted       bool
		seed         int64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a deterministic raw binary dataset",
		Long: `Generate a headerless native-endian dataset of fixed-width integers made of
runs of repeated values, suitable as benchmark input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				_ = cmd.Usage()

				return &UsageError{Err: errors.New("--output is required")}
			}

			typ, err := dataset.ParseType(dtype)
			if err != nil {
				_ = cmd.Usage()

				return &UsageError{Err: err}
			}

			distribution = strings.ToLower(distribution)
			if !slices.Contains(dataset.KnownDistributions(), distribution) {
				_ = cmd.Usage()

				return &UsageError{Err: fmt.Errorf("unknown distribution %q", distribution)}
			}

			return a.generateDataset(cmd.Context(), output, dataset.Config{
				Count:        count,
				Type:         typ,
				MinRun:       minRun,
				MaxRun:       maxRun,
				Distribution: distribution,
				Spread:       spread,
				Sorted:       sorted,
				Seed:         seed,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "",
		"Path of the dataset file to write (required)")
	flags.IntVarP(&count, "count", "n", 1<<20,
		"Number of elements")
	flags.StringVarP(&dtype, "type", "t", string(dataset.Int),
		"Datatype: int8, short, int or long")
	flags.IntVar(&minRun, "min-run", 1,
		"Minimum run length")
	flags.IntVar(&maxRun, "max-run", 64,
		"Maximum run length")
	flags.StringVar(&distribution, "distribution", "power-law",
		"Run length distribution: power-law, uniform, exponential")
	flags.Int64Var(&spread, "spread", 1000,
		"Values are drawn from [-spread, spread]")
	flags.BoolVar(&sorted, "sorted", false,
		"Sort values ascending")
	flags.Int64Var(&seed, "seed", 1,
		"Random seed")

	return cmd
}

func (a *app) generateDataset(ctx context.Context, path string, cfg dataset.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}

	summary, err := dataset.NewGenerator(cfg).Generate(f)
	if err != nil {
		f.Close()
		os.Remove(path)

		return fmt.Errorf("generate: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close dataset file: %w", err)
	}

	a.logger.InfoContext(ctx, "dataset generated",
		slog.String("path", path),
		slog.String("type", string(cfg.Type)),
		slog.Int("elements", summary.Elements),
		slog.Int("runs", summary.Runs),
		slog.Int64("bytes", summary.Bytes),
	)

	return nil
}
