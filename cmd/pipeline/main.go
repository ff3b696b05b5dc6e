package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/RyanSy/PortfolioAnalysis/internal/app"
	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	"github.com/RyanSy/PortfolioAnalysis/internal/infrastructure"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// summaryFile is written next to the exported marts
const summaryFile = "run_summary.json"

// sourceList collects a repeatable -source flag
type sourceList []string

func (s *sourceList) String() string { return strings.Join(*s, ",") }

func (s *sourceList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one pipeline run and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sources sourceList
	configPath := fs.String("config", "", "path to a YAML config file (defaults to $PA_CONFIG_FILE)")
	fs.Var(&sources, "source", "source directory, CSV file or workbook; repeatable")
	from := fs.String("from", "", "horizon start date (YYYY-MM-DD)")
	to := fs.String("to", "", "horizon end date (YYYY-MM-DD)")
	outDir := fs.String("out", "", "output directory for exported marts")
	step := fs.String("step", "", "run only this step and the steps it depends on")
	version := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *version {
		fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}
	if *from != "" {
		cfg.Pipeline.HorizonStart = *from
	}
	if *to != "" {
		cfg.Pipeline.HorizonEnd = *to
	}
	if *outDir != "" {
		cfg.Pipeline.OutputDir = *outDir
	}
	if len(sources) > 0 {
		cfg.Pipeline.Sources = sources
	}

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize pipeline", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := application.Close(ctx); err != nil {
			application.Logger.Error("shutdown failed", slog.String("error", err.Error()))
		}
		_ = infrastructure.CloseLogFile()
	}()

	summary, runErr := application.Run(ctx, app.RunRequest{Step: *step})
	if summary == nil {
		application.Logger.Error("run failed", slog.String("error", runErr.Error()))
		return 1
	}

	if err := writeSummary(stdout, cfg.Pipeline.OutputDir, summary); err != nil {
		application.Logger.Error("failed to write run summary", slog.String("error", err.Error()))
		return 1
	}
	if runErr != nil {
		application.Logger.Error("run failed", slog.String("error", runErr.Error()))
		return 1
	}
	return 0
}

// writeSummary prints the summary and keeps a copy beside the marts
func writeSummary(w io.Writer, dir string, summary *domain.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return err
	}
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, summaryFile), data, 0644)
}
