package cmd

import (
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/podshell/podshell/internal/config"
)

var showFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Commands for generating, validating and inspecting the podshell configuration.`,
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print a commented example configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(cmd.OutOrStdout(), config.ExampleConfig)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a configuration file (.yaml, .toml or .json)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Shows the configuration after merging defaults, the config file and PODSHELL_* environment variables.`,
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configExampleCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configShowCmd.Flags().StringVarP(&showFormat, "output", "o", "table", "Output format: table, yaml")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch showFormat {
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		_, err = out.Write(data)
		return err
	case "table":
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(out, "Config file: %s\n", used)
		} else {
			fmt.Fprintln(out, "Config file: none (defaults)")
		}

		settings := cfg.Settings()
		keys := make([]string, 0, len(settings))
		for key := range settings {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		table := tablewriter.NewWriter(out)
		table.Header("Key", "Value")
		for _, key := range keys {
			table.Append(key, fmt.Sprintf("%v", settings[key]))
		}
		table.Render()
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", showFormat)
	}
}
