package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/psdweb/cli/render"
	"github.com/pithecene-io/psdweb/log"
	"github.com/pithecene-io/psdweb/metrics"
	"github.com/pithecene-io/psdweb/types"
	"github.com/pithecene-io/psdweb/upload"
)

// UploadSummary is the response for the upload command.
type UploadSummary struct {
	UploadID  string               `json:"upload_id"`
	Chunks    int                  `json:"chunks"`
	TotalSize int64                `json:"total_size"`
	Document  *DocumentSummary     `json:"document,omitempty"`
	Metrics   *types.UploadMetrics `json:"metrics,omitempty"`
}

// UploadCommand returns the upload command.
// It runs only the chunked upload protocol and reports what the backend
// parsed on complete. It exits 3 when the upload aborts and 1 when the
// backend rejects the assembled document on complete.
func UploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a PSD document in chunks",
		ArgsUsage: "FILE",
		Flags: concatFlags(ConnectionFlags(), []cli.Flag{
			FormatFlag,
			NoColorFlag,
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Chunk size in bytes",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress progress and logs",
			},
		}),
		Action: uploadAction,
	}
}

func uploadAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("upload requires exactly one FILE argument", exitInvalidInput)
	}
	path := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	chunkSize := upload.DefaultChunkSize
	if cfg.Upload.ChunkSize > 0 {
		chunkSize = cfg.Upload.ChunkSize
	}
	if c.IsSet("chunk-size") {
		chunkSize = c.Int("chunk-size")
	}
	if chunkSize <= 0 {
		return cli.Exit(fmt.Sprintf("--chunk-size must be > 0, got %d", chunkSize), exitInvalidInput)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read %s: %v", path, err), exitInvalidInput)
	}
	name := filepath.Base(path)

	quiet := c.Bool("quiet")
	collector := metrics.NewCollector("", "chunked", "", "")
	logger := newLogger(c, log.RunContext{FileName: name, Component: "upload"}, quiet)
	defer func() { _ = logger.Sync() }()

	client, err := newClient(c, cfg, collector, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	ucfg := upload.Config{
		ChunkSize: chunkSize,
		Collector: collector,
		Logger:    logger,
	}
	if !quiet {
		w := errWriter(c)
		ucfg.Observer = func(p upload.Progress) {
			fmt.Fprintf(w, "chunk %d/%d  %5.1f%%\n", p.Index+1, p.Chunks, p.Fraction*100)
		}
	}
	u, err := upload.NewUploader(client, ucfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	res, err := u.Upload(ctx, name, data)
	if err != nil {
		return cli.Exit(fmt.Sprintf("upload failed: %v", err), failureExitCode(err))
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	summary := UploadSummary{
		UploadID:  res.UploadID,
		Chunks:    res.Chunks,
		TotalSize: res.TotalSize,
		Metrics:   res.Metrics,
	}
	if doc := res.Document; doc != nil {
		summary.Document = &DocumentSummary{Width: doc.Width, Height: doc.Height, Layers: len(doc.Layers)}
	}
	return r.Render(summary)
}
