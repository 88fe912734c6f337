/*
Package cli provides command-line helpers for the lmserver command.

Output Formatting:

Command results render as text, JSON, YAML or CSV. Results that implement
Tabular become aligned columns in text and rows in CSV:

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, result)

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	reload, stopReload := cli.ReloadSignals()
	defer stopReload()

Exit Codes:

ExitCode maps a command error to the process exit status. Configuration
errors exit with 2, everything else with 1.
*/
package cli
