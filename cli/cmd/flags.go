// Package cmd provides CLI commands for the psdweb binary.
package cmd

import (
	"github.com/urfave/cli/v2"
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea progress view.
	// Only convert supports it.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show a live progress view (convert only)",
	}
)

// Shared connection flags. Each falls back to psdweb.yaml when unset.
var (
	// ConfigFlag names the config file. Without it psdweb.yaml in the
	// working directory is used when present.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to psdweb.yaml",
		EnvVars: []string{"PSDWEB_CONFIG"},
	}

	// EndpointFlag is the backend base URL.
	EndpointFlag = &cli.StringFlag{
		Name:    "endpoint",
		Aliases: []string{"e"},
		Usage:   "Backend base URL, e.g. http://localhost:8080",
		EnvVars: []string{"PSDWEB_ENDPOINT"},
	}

	// TimeoutFlag bounds each backend request.
	TimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Per-request timeout (0 = none)",
	}
)

// Shared storage flags for commands that read or write artifacts.
var (
	StorageBackendFlag = &cli.StringFlag{
		Name:  "storage-backend",
		Usage: "Artifact storage backend: fs, s3, memory (empty = disabled)",
	}
	StoragePathFlag = &cli.StringFlag{
		Name:  "storage-path",
		Usage: "Storage root directory (fs) or bucket/prefix (s3)",
	}
	StorageRegionFlag = &cli.StringFlag{
		Name:  "storage-region",
		Usage: "AWS region for the s3 backend",
	}
	StorageEndpointFlag = &cli.StringFlag{
		Name:  "storage-endpoint",
		Usage: "Custom endpoint for S3-compatible providers",
	}
)

// ReadOnlyFlags returns the shared flags for commands that only render
// output. Includes --tui so that unsupported commands can provide explicit
// error messages instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ConnectionFlags returns the flags used to reach a backend.
// The header flag is built per call since slice flags keep their values.
func ConnectionFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		EndpointFlag,
		TimeoutFlag,
		&cli.StringSliceFlag{
			Name:    "header",
			Aliases: []string{"H"},
			Usage:   "Extra request header as key=value (repeatable)",
		},
	}
}

// StorageFlags returns the artifact storage flags.
func StorageFlags() []cli.Flag {
	return []cli.Flag{
		StorageBackendFlag,
		StoragePathFlag,
		StorageRegionFlag,
		StorageEndpointFlag,
	}
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
