package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"glaiprocessor/pkg/config"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/ui"
)

const defaultConfigPath = ".glai.yaml"

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage GLAI configuration files.

Configuration is loaded from:
  - Command line flags (highest priority)
  - Environment variables (GLAI_*)
  - Configuration file (YAML or TOML)
  - Default values (lowest priority)`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with the default values",
	Long: `Create a configuration file holding every option with its default value.

The file is written to '.glai.yaml' unless --config names another path; a
'.toml' extension selects TOML.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the configuration can start a monitor run",
	Long: `Load the configuration from all sources and check:
  - Value domains (traits, sampling method, dates, ...)
  - Fields a monitor run requires
  - Presence of the area of interest and RTM parameter files`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		return glaierrors.Newf(glaierrors.KindConfiguration, "cli.config", "configuration file %s already exists", path)
	}

	cfg := config.DefaultConfig()
	cfg.Monitor.OutputDir = "./glai-output"
	cfg.Monitor.Feature = "./aoi.geojson"
	cfg.LUT.RTMParams = "./rtm_params.csv"
	if err := cfg.Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Set monitor.time_start, monitor.time_end and the file paths")
	fmt.Println("2. Run 'glai config validate' to check the configuration")
	fmt.Println("3. Start processing with 'glai monitor'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (GLAI_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in ./.glai.* and ~/.config/glai/)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	problems, warnings := checkMonitorConfig(cfg)
	for _, w := range warnings {
		ui.PrintWarning(w)
	}
	if len(problems) > 0 {
		for _, p := range problems {
			ui.PrintError(p.Error())
		}
		return glaierrors.Wrap(glaierrors.KindConfiguration, "cli.config", errors.Join(problems...))
	}

	ui.PrintSuccess("Configuration is valid")
	return nil
}

// checkMonitorConfig returns the problems preventing a monitor run and the
// warnings worth showing
func checkMonitorConfig(cfg *config.Config) (problems []error, warnings []string) {
	if err := cfg.ValidateMonitor(); err != nil {
		problems = append(problems, err)
	}
	for _, f := range []struct{ label, path string }{
		{"area of interest file", cfg.Monitor.Feature},
		{"RTM parameter file", cfg.LUT.RTMParams},
	} {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); err != nil {
			problems = append(problems, fmt.Errorf("%s %s: %w", f.label, f.path, err))
		}
	}
	if cfg.Monitor.OutputDir != "" {
		if _, err := os.Stat(cfg.Monitor.OutputDir); os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("Output directory %s does not exist yet and will be created", cfg.Monitor.OutputDir))
		}
	}
	if !cfg.Output.Ledger {
		warnings = append(warnings, "Processing ledger is disabled, 'glai status' will not list runs")
	}
	return problems, warnings
}
