package cmd

import "github.com/urfave/cli/v2"

// Commands returns every psdweb command in help order.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		ConvertCommand(),
		UploadCommand(),
		ServeCommand(),
		HistoryCommand(),
		VersionCommand(commit),
	}
}
