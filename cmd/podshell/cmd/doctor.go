package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/podshell/podshell/internal/watcher/docker"
	"github.com/podshell/podshell/internal/watcher/sshconfig"
	"github.com/podshell/podshell/pkg/logging"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment podshell runs in",
	Long: `Doctor reports the host platform and checks every dependency podshell
relies on: the docker daemon, the ssh client and its configuration, and the
terminal settings locations.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type check struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if info, err := host.Info(); err == nil {
		fmt.Fprintf(out, "Host:     %s (%s %s, %s/%s)\n", info.Hostname, info.Platform, info.PlatformVersion, runtime.GOOS, runtime.GOARCH)
	} else {
		fmt.Fprintf(out, "Host:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(out, "Memory:   %.1f GB total, %.0f%% used\n", float64(vm.Total)/(1<<30), vm.UsedPercent)
	}
	fmt.Fprintf(out, "Version:  %s\n\n", Version)

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	var checks []check

	if cfg.Docker.Enabled {
		backend := docker.New(cfg.Docker.ToDockerConfig(logging.Nop()))
		c := check{name: "docker daemon", ok: true, detail: "reachable"}
		if err := backend.HealthCheck(ctx); err != nil {
			c = check{name: "docker daemon", detail: err.Error()}
		} else if names, err := backend.Containers(ctx); err == nil {
			c.detail = fmt.Sprintf("reachable, %d running container(s)", len(names))
		}
		checks = append(checks, c)
	}

	if cfg.SSH.Enabled {
		sshCfg, err := cfg.SSH.ToSSHConfig(logging.Nop())
		if err != nil {
			return err
		}
		backend := sshconfig.New(sshCfg)
		checks = append(checks, commandCheck("ssh client", sshCfg.Command))

		c := check{name: "ssh config", detail: backend.ConfigFile()}
		if err := backend.HealthCheck(ctx); err != nil {
			c.detail = err.Error()
		} else if hosts, err := backend.Hosts(); err != nil {
			c.detail = err.Error()
		} else {
			c.ok = true
			c.detail = fmt.Sprintf("%s, %d host(s)", backend.ConfigFile(), len(hosts))
		}
		checks = append(checks, c)
	}

	factories, err := cfg.Sinks(logging.Nop())
	if err != nil {
		return err
	}
	for _, factory := range factories {
		s := factory()
		c := check{name: s.Name(), ok: s.Available(), detail: "available"}
		if !c.ok {
			c.detail = "not found on this system"
		}
		checks = append(checks, c)
	}

	pass := color.New(color.FgGreen)
	fail := color.New(color.FgYellow)
	for _, c := range checks {
		if c.ok {
			pass.Fprintf(out, "  ✓ %-18s %s\n", c.name, c.detail)
		} else {
			fail.Fprintf(out, "  ✗ %-18s %s\n", c.name, c.detail)
		}
	}
	return nil
}

func commandCheck(name, path string) check {
	info, err := os.Stat(path)
	if err != nil {
		return check{name: name, detail: fmt.Sprintf("%s not found", path)}
	}
	if info.IsDir() {
		return check{name: name, detail: fmt.Sprintf("%s is a directory", path)}
	}
	return check{name: name, ok: true, detail: path}
}
