package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/psdweb/artifact"
	"github.com/pithecene-io/psdweb/cli/render"
)

// DefaultHistoryLimit caps history output when --limit is not given.
const DefaultHistoryLimit = 20

// HistoryCommand returns the history command.
// History only reads the run dataset; it never contacts the backend.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded conversion runs",
		Flags: concatFlags(ReadOnlyFlags(), []cli.Flag{ConfigFlag}, StorageFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:  "day",
				Usage: "Only runs started on this day (YYYY-MM-DD, UTC)",
			},
			&cli.StringFlag{
				Name:  "outcome",
				Usage: "Only runs with this outcome: complete, errored",
			},
			&cli.StringFlag{
				Name:  "framework",
				Usage: "Only runs targeting this framework",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum runs to list (0 = all)",
				Value: DefaultHistoryLimit,
			},
			&cli.BoolFlag{
				Name:  "latest",
				Usage: "Show only the most recent matching run",
			},
		}),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for history command", exitInvalidInput)
	}

	filter := artifact.HistoryFilter{
		Day:       c.String("day"),
		Outcome:   c.String("outcome"),
		Framework: c.String("framework"),
		Limit:     c.Int("limit"),
	}
	switch filter.Outcome {
	case "", artifact.OutcomeComplete, artifact.OutcomeErrored:
	default:
		return cli.Exit(fmt.Sprintf("invalid outcome: %s (must be complete or errored)", filter.Outcome), exitInvalidInput)
	}
	if filter.Limit < 0 {
		return cli.Exit(fmt.Sprintf("--limit must be >= 0, got %d", filter.Limit), exitInvalidInput)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	bc, ok := storageConfig(c, cfg)
	if !ok {
		return cli.Exit("history requires storage: set --storage-path or storage in psdweb.yaml", exitInvalidInput)
	}

	factory, err := artifact.NewFactory(c.Context, bc)
	if err != nil {
		return cli.Exit(fmt.Sprintf("storage: %v", err), exitInvalidInput)
	}
	history, err := artifact.NewHistory(factory)
	if err != nil {
		return cli.Exit(fmt.Sprintf("storage: %v", err), exitInvalidInput)
	}

	if c.Bool("latest") {
		rec, err := history.Latest(c.Context, filter)
		if errors.Is(err, artifact.ErrNoHistory) {
			return cli.Exit(err.Error(), exitPipelineError)
		}
		if err != nil {
			return cli.Exit(fmt.Sprintf("history: %v", err), exitPipelineError)
		}
		return r.Render(rec)
	}

	records, err := history.List(c.Context, filter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("history: %v", err), exitPipelineError)
	}
	if records == nil {
		records = []artifact.RunRecord{}
	}
	return r.Render(records)
}
