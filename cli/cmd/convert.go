package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/psdweb/artifact"
	"github.com/pithecene-io/psdweb/cli/config"
	"github.com/pithecene-io/psdweb/cli/render"
	"github.com/pithecene-io/psdweb/cli/tui"
	"github.com/pithecene-io/psdweb/log"
	"github.com/pithecene-io/psdweb/metrics"
	"github.com/pithecene-io/psdweb/pipeline"
	"github.com/pithecene-io/psdweb/types"
)

// ConvertCommand returns the convert command.
// It runs the full pipeline for one document: upload, parse, convert and
// best-effort validation.
//
// Exit codes:
//   - 0: run complete (validation may have been skipped)
//   - 1: parse, convert or transport failure, or a document rejected on
//     upload complete
//   - 2: invalid input or configuration
//   - 3: chunked upload aborted
func ConvertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert a PSD document to web markup",
		ArgsUsage: "FILE",
		Flags: concatFlags(ConnectionFlags(), StorageFlags(), ReadOnlyFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:  "framework",
				Usage: "Target framework: html, react, vue, tailwind",
			},
			&cli.BoolFlag{
				Name:  "no-responsive",
				Usage: "Disable responsive rules",
			},
			&cli.BoolFlag{
				Name:  "no-semantic",
				Usage: "Disable semantic elements",
			},
			&cli.BoolFlag{
				Name:  "no-accessibility",
				Usage: "Disable accessibility attributes",
			},
			&cli.BoolFlag{
				Name:  "no-validate",
				Usage: "Skip the visual fidelity check",
			},
			&cli.Float64Flag{
				Name:  "threshold",
				Usage: "Similarity required to pass validation, in [0,1]",
			},
			&cli.BoolFlag{
				Name:  "diff-image",
				Usage: "Ask the validator for a diff image URL",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Upload mode: auto, inline, chunked, path",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Chunk size in bytes for chunked uploads",
			},
			&cli.Int64Flag{
				Name:  "inline-limit",
				Usage: "Largest file sent inline in auto mode, in bytes",
			},
			&cli.BoolFlag{
				Name:  "image-data",
				Usage: "Request layer image data from the parser",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (default: random UUID)",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path (- for stdout)",
			},
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Completion notification adapter: webhook, redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook URL or Redis URL for the adapter",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress progress, logs and the summary",
			},
		}),
		Action: convertAction,
	}
}

func convertAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("convert requires exactly one FILE argument", exitInvalidInput)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	settings, err := convertSettings(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	in, err := readInput(c.Args().First(), settings.Mode)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	quiet := c.Bool("quiet")
	useTUI := c.Bool("tui")

	storage, storageOn := storageConfig(c, cfg)
	collector := metrics.NewCollector(string(settings.Convert.Framework), string(settings.Mode), storage.Backend, runID)
	logger := newLogger(c, log.RunContext{RunID: runID, FileName: in.FileName, Component: "pipeline"}, quiet || useTUI)
	defer func() { _ = logger.Sync() }()

	client, err := newClient(c, cfg, collector, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	adapterCfg := cfg.Adapter
	if v := c.String("adapter"); v != "" {
		adapterCfg.Type = v
	}
	if v := c.String("adapter-url"); v != "" {
		adapterCfg.URL = v
	}
	pub, err := newAdapter(adapterCfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), exitInvalidInput)
	}
	if pub != nil {
		defer func() { _ = pub.Close() }()
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	var (
		writer  artifact.Writer
		history *artifact.History
	)
	if storageOn {
		factory, err := artifact.NewFactory(ctx, storage)
		if err != nil {
			return cli.Exit(fmt.Sprintf("storage: %v", err), exitInvalidInput)
		}
		store, err := artifact.NewStore(factory)
		if err != nil {
			return cli.Exit(fmt.Sprintf("storage: %v", err), exitInvalidInput)
		}
		writer = artifact.NewInstrumentedWriter(store, collector)
		if history, err = artifact.NewHistory(factory); err != nil {
			return cli.Exit(fmt.Sprintf("storage: %v", err), exitInvalidInput)
		}
	}

	started := time.Now()
	run := func(ctx context.Context, observe pipeline.Observer) *pipeline.Outcome {
		orch, err := pipeline.New(client,
			pipeline.WithObserver(observe),
			pipeline.WithCollector(collector),
			pipeline.WithLogger(logger),
			pipeline.WithRunID(runID),
		)
		if err != nil {
			return &pipeline.Outcome{RunID: runID, State: pipeline.StateErrored, Err: err}
		}
		return orch.Run(ctx, in, settings)
	}

	var outcome *pipeline.Outcome
	if useTUI {
		outcome, err = tui.Run(ctx, tui.NewModel(in.FileName, settings.Validate), run, outWriter(c))
		if err != nil && !errors.Is(err, tui.ErrCanceled) {
			return cli.Exit(fmt.Sprintf("tui: %v", err), exitPipelineError)
		}
	} else {
		outcome = run(ctx, progressPrinter(errWriter(c), quiet))
	}

	sugar := logger.Sugar()

	var (
		files       []string
		storagePath string
	)
	if writer != nil && outcome.Err == nil && outcome.Conversion != nil {
		p := artifact.Partition{
			Dataset:   artifact.DefaultDataset,
			Framework: outcome.Conversion.Metadata.Framework,
			Day:       artifact.DeriveDay(started),
			RunID:     runID,
		}
		if p.Framework == "" {
			p.Framework = settings.Convert.Framework
		}
		written, err := writer.WriteBundle(ctx, p, artifact.Bundle{
			Conversion: outcome.Conversion,
			Validation: outcome.Validation,
		})
		if err != nil {
			sugar.Warnf("artifact write failed: %v", err)
		} else {
			files = written
			storagePath = p.Prefix()
		}
	}

	report := newRunReport(outcome, in, settings, started, collector.Snapshot())
	report.Files = files
	report.StoragePath = storagePath

	if history != nil {
		if err := history.Append(ctx, report.Record()); err != nil {
			sugar.Warnf("run history append failed: %v", err)
		}
	}
	if pub != nil {
		if err := pub.Publish(ctx, report.Event()); err != nil {
			sugar.Warnf("completion event publish failed: %v", err)
		}
	}

	reportPath := c.String("report")
	if reportPath != "" {
		if err := writeReport(reportPath, report, outWriter(c)); err != nil {
			sugar.Errorf("%v", err)
		}
	}
	if !quiet && reportPath != "-" {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		if err := r.Render(newConvertSummary(report, outcome.Conversion)); err != nil {
			return err
		}
	}

	code := runExitCode(outcome)
	if code == exitSuccess {
		return cli.Exit("", exitSuccess)
	}
	return cli.Exit(fmt.Sprintf("convert failed: %v", outcome.Err), code)
}

// convertSettings layers convert flags over the config file settings.
func convertSettings(c *cli.Context, cfg *config.Config) (pipeline.Settings, error) {
	s, err := cfg.Settings()
	if err != nil {
		return s, err
	}

	if c.IsSet("framework") {
		fw, err := types.ParseFramework(c.String("framework"))
		if err != nil {
			return s, err
		}
		s.Convert.Framework = fw
	}
	if c.Bool("no-responsive") {
		s.Convert.Responsive = false
	}
	if c.Bool("no-semantic") {
		s.Convert.Semantic = false
	}
	if c.Bool("no-accessibility") {
		s.Convert.Accessibility = false
	}
	if c.Bool("no-validate") {
		s.Validate = false
	}
	if c.IsSet("threshold") {
		s.Validation.Threshold = c.Float64("threshold")
	}
	if c.Bool("diff-image") {
		s.Validation.IncludeDiffImage = true
	}
	if c.IsSet("mode") {
		mode, err := pipeline.ParseUploadMode(c.String("mode"))
		if err != nil {
			return s, err
		}
		s.Mode = mode
	}
	if c.IsSet("chunk-size") {
		if c.Int("chunk-size") <= 0 {
			return s, fmt.Errorf("--chunk-size must be > 0, got %d", c.Int("chunk-size"))
		}
		s.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("inline-limit") {
		if c.Int64("inline-limit") <= 0 {
			return s, fmt.Errorf("--inline-limit must be > 0, got %d", c.Int64("inline-limit"))
		}
		s.InlineLimit = c.Int64("inline-limit")
	}
	if c.Bool("image-data") {
		s.IncludeImageData = true
	}

	if err := s.Validation.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// readInput loads the document at path. In path mode the file lives on the
// backend host and is not read locally.
func readInput(path string, mode pipeline.UploadMode) (pipeline.Input, error) {
	name := filepath.Base(path)
	if mode == pipeline.ModePath {
		return pipeline.Input{FileName: name, Path: path}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if len(data) == 0 {
		return pipeline.Input{}, fmt.Errorf("%s: file is empty", path)
	}
	return pipeline.Input{FileName: name, Data: data}, nil
}

// progressPrinter prints one line per progress report; nil when quiet.
func progressPrinter(w io.Writer, quiet bool) pipeline.Observer {
	if quiet {
		return nil
	}
	return func(p pipeline.Progress) {
		fmt.Fprintf(w, "[%3d%%] %-10s %s\n", p.Percent, p.Stage, p.Message)
	}
}

func runExitCode(out *pipeline.Outcome) int {
	if out == nil {
		return exitPipelineError
	}
	if out.Err == nil {
		return exitSuccess
	}
	return failureExitCode(out.Err)
}
