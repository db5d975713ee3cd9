package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/LynnColeArt/gemmbed"
	"github.com/LynnColeArt/gemmbed/device"
	"github.com/LynnColeArt/gemmbed/kernels"
)

// kernelReport is one kernel's slice of the JSON report.
type kernelReport struct {
	Kernel  string                `json:"kernel"`
	Passed  bool                  `json:"passed"`
	Records []gemmbed.SweepRecord `json:"records"`
}

func sweepCmd() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run the verification sweep for every configured kernel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "kernel configuration file",
				Value:   "gemmbed.yaml",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "write a JSON report to this path",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address while sweeping",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "console",
			},
		},
		Action: runSweep,
	}
}

func runSweep(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	setupLogging(cmd, cfg)

	if addr := cmd.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			_ = http.ListenAndServe(addr, mux)
		}()
	}

	check, err := cfg.checkMode()
	if err != nil {
		return err
	}

	dctx := device.NewContext(device.Default())
	defer dctx.Destroy()

	var report []kernelReport
	allPassed := true
	for _, spec := range cfg.Kernels {
		kernel, err := buildKernel(dctx, spec)
		if err != nil {
			return fmt.Errorf("kernel %s: %w", spec.Name, err)
		}

		result, err := gemmbed.SweepAll(dctx, kernel, cfg.Alpha, cfg.Beta, check)
		if err != nil {
			return fmt.Errorf("kernel %s: %w", spec.Name, err)
		}
		report = append(report, kernelReport{
			Kernel:  spec.Name,
			Passed:  result.Passed,
			Records: result.Records,
		})
		if !result.Passed {
			allPassed = false
			break
		}
	}

	if path := cmd.String("report"); path != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}

	if !allPassed {
		return fmt.Errorf("verification sweep failed")
	}
	return nil
}

func perfCmd() *cli.Command {
	return &cli.Command{
		Name:  "perf",
		Usage: "Profile every configured kernel on a large fixed shape",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "gemmbed.yaml",
			},
			&cli.IntFlag{
				Name:  "iterations",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "console",
			},
		},
		Action: runPerf,
	}
}

func runPerf(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	setupLogging(cmd, cfg)

	dctx := device.NewContext(device.Default())
	defer dctx.Destroy()

	for _, spec := range cfg.Kernels {
		kernel, err := buildKernel(dctx, spec)
		if err != nil {
			return fmt.Errorf("kernel %s: %w", spec.Name, err)
		}
		passed, err := gemmbed.SweepPerf(dctx, kernel, gemmbed.Iterations(cmd.Int("iterations")))
		if err != nil {
			return fmt.Errorf("kernel %s: %w", spec.Name, err)
		}
		if !passed {
			return fmt.Errorf("kernel %s: profiling run failed verification", spec.Name)
		}
	}
	return nil
}

func buildKernel(dctx *device.Context, spec KernelSpec) (gemmbed.Kernel, error) {
	traits, err := spec.traits()
	if err != nil {
		return nil, err
	}
	if spec.Sparse {
		traits.Sparse = kernels.NewSparseConfig(traits.LayoutA)
		traits.ElementE = gemmbed.ElementI8
		return kernels.NewSparseKernel(dctx, traits), nil
	}
	return kernels.NewDenseKernel(dctx, traits), nil
}

func setupLogging(cmd *cli.Command, cfg Config) {
	level := cmd.String("log-level")
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		level = cfg.LogLevel
	}
	format := cmd.String("log-format")
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		format = cfg.LogFormat
	}
	gemmbed.SetupLogging(level, format)
}
