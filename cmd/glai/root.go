package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"glaiprocessor/pkg/config"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/ui"
)

var (
	// Version information
	version   = "0.4.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFormat  string
	noColor    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "glai",
	Short: "Incremental canopy trait inversion of satellite scenes",
	Long: `GLAI monitors an area of interest over a time range, fetches new
reflectance scenes in sub-windows, simulates a radiative transfer lookup
table per scene and inverts every pixel into canopy traits.

Runs are checkpointed: re-running over the same directory only processes
what is new, and a run that reaches the requested end marks the directory
complete.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.Stdout = ui.NewPlainPrinter(os.Stdout)
		}
		logger.Version = version

		switch cmd.Name() {
		case "monitor", "invert":
			if !quiet {
				ui.PrintBanner()
			}
		}
	},
}

// Execute adds all child commands to the root command and exits with the
// status of the failure class
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	if glaierrors.IsTransient(err) {
		ui.PrintWarning("Run skipped", err.Error())
		return
	}
	ui.PrintError("Error", err.Error())
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process status. Transient failures
// (a locked directory, an unreachable catalog) leave the next run to pick
// up where this one stopped, so they do not fail the process.
func exitCode(err error) int {
	if err == nil || glaierrors.IsTransient(err) {
		return 0
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.glai.yaml or ~/.config/glai/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (auto, console, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress the banner and summaries")

	rootCmd.SetVersionTemplate(`GLAI processor {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the configuration with the persistent flags and the
// command specific flags merged on top. Failures are configuration errors.
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = map[string]interface{}{}
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if logFormat != "" {
		flags["log-format"] = logFormat
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindConfiguration, "cli.config", err)
	}
	return cfg, nil
}

// newLogger installs the configured logger as the global one
func newLogger(cfg *config.Config) (logger.Logger, error) {
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindConfiguration, "cli.logger", err)
	}
	return logger.GetLogger(), nil
}

// changedFlags collects the values of the named flags the user set
// explicitly, keyed the way config.MergeCommandLineFlags expects
func changedFlags(cmd *cobra.Command, names ...string) map[string]interface{} {
	out := make(map[string]interface{})
	fs := cmd.Flags()
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "int":
			v, _ := fs.GetInt(name)
			out[name] = v
		case "bool":
			v, _ := fs.GetBool(name)
			out[name] = v
		case "stringSlice":
			v, _ := fs.GetStringSlice(name)
			out[name] = v
		default:
			out[name] = f.Value.String()
		}
	}
	return out
}
