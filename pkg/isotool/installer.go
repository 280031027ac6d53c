package isotool

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/isoforge/isoforge/pkg/errors"
	"github.com/isoforge/isoforge/pkg/process"
)

// PackagePlaceholder in CommandInstaller.InstallCmd is replaced by the
// package id.
const PackagePlaceholder = "{package}"

// Installer drives a package manager on behalf of the Provisioner.
type Installer interface {
	Name() string
	// Present reports whether the package manager itself is usable.
	Present(ctx context.Context) bool
	// Bootstrap installs the package manager.
	Bootstrap(ctx context.Context) error
	// Install installs one package.
	Install(ctx context.Context, packageID string) error
}

// CommandInstaller is an Installer configured with command lines that run
// through a process.Executor.
type CommandInstaller struct {
	Manager      string
	ProbeCmd     []string
	BootstrapCmd []string
	InstallCmd   []string

	Exec   process.Executor
	Logger *slog.Logger
}

// DefaultInstaller returns chocolatey on Windows, Homebrew on macOS and
// apt-get elsewhere.
func DefaultInstaller(exec process.Executor, logger *slog.Logger) *CommandInstaller {
	ci := &CommandInstaller{Exec: exec, Logger: logger}
	switch runtime.GOOS {
	case "windows":
		ci.Manager = "choco"
		ci.ProbeCmd = []string{"choco", "--version"}
		ci.BootstrapCmd = []string{
			"powershell.exe", "-NoProfile", "-ExecutionPolicy", "Bypass", "-Command",
			"[System.Net.ServicePointManager]::SecurityProtocol = 3072; " +
				"iex ((New-Object System.Net.WebClient).DownloadString('https://community.chocolatey.org/install.ps1'))",
		}
		ci.InstallCmd = []string{"choco", "install", PackagePlaceholder, "-y", "--no-progress"}
	case "darwin":
		ci.Manager = "brew"
		ci.ProbeCmd = []string{"brew", "--version"}
		ci.InstallCmd = []string{"brew", "install", PackagePlaceholder}
	default:
		ci.Manager = "apt-get"
		ci.ProbeCmd = []string{"apt-get", "--version"}
		ci.InstallCmd = []string{"apt-get", "install", "-y", PackagePlaceholder}
	}
	return ci
}

// Name implements Installer.
func (c *CommandInstaller) Name() string { return c.Manager }

// Present implements Installer.
func (c *CommandInstaller) Present(ctx context.Context) bool {
	if len(c.ProbeCmd) == 0 {
		return false
	}
	if _, err := exec.LookPath(c.ProbeCmd[0]); err != nil {
		return false
	}
	res, err := c.run(ctx, c.ProbeCmd)
	return err == nil && res.ExitCode == 0
}

// Bootstrap implements Installer.
func (c *CommandInstaller) Bootstrap(ctx context.Context) error {
	if len(c.BootstrapCmd) == 0 {
		return errors.E(errors.ErrResourceUnavailable, "bootstrap_package_manager",
			fmt.Errorf("%s cannot be bootstrapped automatically", c.Manager))
	}
	return c.runChecked(ctx, "bootstrap_package_manager", c.BootstrapCmd)
}

// Install implements Installer.
func (c *CommandInstaller) Install(ctx context.Context, packageID string) error {
	if len(c.InstallCmd) == 0 {
		return errors.E(errors.ErrResourceUnavailable, "install_package", fmt.Errorf("no install command for %s", c.Manager))
	}
	cmd := make([]string, len(c.InstallCmd))
	for i, a := range c.InstallCmd {
		cmd[i] = strings.ReplaceAll(a, PackagePlaceholder, packageID)
	}
	return c.runChecked(ctx, "install_package", cmd)
}

func (c *CommandInstaller) runChecked(ctx context.Context, op string, argv []string) error {
	res, err := c.run(ctx, argv)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errors.E(errors.ErrProcessFailure, op,
			fmt.Errorf("%s exited with code %d: %s", argv[0], res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	return nil
}

func (c *CommandInstaller) run(ctx context.Context, argv []string) (process.Result, error) {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	return c.Exec.Run(ctx, process.Command{
		Name: argv[0],
		Args: argv[1:],
		Progress: func(line string) {
			log.Debug("package_manager_output", "manager", c.Manager, "line", line)
		},
	})
}
