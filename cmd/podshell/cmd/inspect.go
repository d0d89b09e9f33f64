package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/podshell/podshell/internal/sink"
	"github.com/podshell/podshell/internal/sink/iterm2"
	"github.com/podshell/podshell/internal/sink/windowsterminal"
	"github.com/podshell/podshell/internal/watcher/sshconfig"
	"github.com/podshell/podshell/pkg/logging"
)

var probeTimeout time.Duration

var watchersCmd = &cobra.Command{
	Use:   "watchers",
	Short: "Health check every enabled watcher",
	Long:  `Builds each enabled watcher backend and runs its health check once.`,
	RunE:  runWatchers,
}

var sinksCmd = &cobra.Command{
	Use:   "sinks",
	Short: "Show every enabled profile sink",
	Long:  `Shows availability, location and the profiles podshell currently keeps in each enabled sink.`,
	RunE:  runSinks,
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List hosts parsed from the ssh client configuration",
	RunE:  runHosts,
}

func init() {
	rootCmd.AddCommand(watchersCmd)
	rootCmd.AddCommand(sinksCmd)
	rootCmd.AddCommand(hostsCmd)

	watchersCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "Health check timeout per watcher")
}

func runWatchers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	factories, err := cfg.Watchers(logging.Nop())
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Watcher", "Healthy", "Detail")
	for _, factory := range factories {
		backend := factory()
		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		err := backend.HealthCheck(ctx)
		cancel()

		detail := "ok"
		if err != nil {
			detail = err.Error()
		}
		table.Append(backend.Name(), yesNo(err == nil), detail)
	}
	table.Render()
	return nil
}

func runSinks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	factories, err := cfg.Sinks(logging.Nop())
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Sink", "Available", "Location", "Profiles")
	for _, factory := range factories {
		s := factory()

		var location string
		switch v := s.(type) {
		case *windowsterminal.Sink:
			location = v.SettingsFile()
		case *iterm2.Sink:
			location = v.File()
		}

		profiles := "-"
		if inspector, ok := s.(sink.Inspector); ok && s.Available() {
			entries, err := inspector.Profiles()
			if err != nil {
				profiles = err.Error()
			} else {
				profiles = fmt.Sprintf("%d", len(entries))
			}
		}
		table.Append(s.Name(), yesNo(s.Available()), location, profiles)
	}
	table.Render()
	return nil
}

func runHosts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sshCfg, err := cfg.SSH.ToSSHConfig(logging.Nop())
	if err != nil {
		return err
	}
	backend := sshconfig.New(sshCfg)

	hosts, err := backend.Hosts()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", backend.ConfigFile(), err)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Alias", "HostName", "User", "Port", "Command")
	for _, h := range hosts {
		command := "-"
		if h.Connectable() {
			command = h.CommandLine(sshCfg.Command)
		}
		table.Append(h.Alias, h.HostName, h.User, h.Port, command)
	}
	table.Render()
	return nil
}
