package isotool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isoforge/isoforge/internal/testutil"
	"github.com/isoforge/isoforge/pkg/errors"
	"github.com/isoforge/isoforge/pkg/process"
)

func TestCommandInstaller_Install(t *testing.T) {
	exec := &testutil.FakeExecutor{Handler: func(process.Command) (process.Result, error) {
		return process.Result{Stdout: "installed\n"}, nil
	}}
	ci := &CommandInstaller{
		Manager:    "choco",
		InstallCmd: []string{"choco", "install", PackagePlaceholder, "-y"},
		Exec:       exec,
	}

	require.NoError(t, ci.Install(context.Background(), "windows-adk-oscdimg"))
	require.Equal(t, 1, exec.CallCount())
	assert.Equal(t, "choco", exec.Calls[0].Name)
	assert.Equal(t, []string{"install", "windows-adk-oscdimg", "-y"}, exec.Calls[0].Args)
	assert.NotNil(t, exec.Calls[0].Progress)
}

func TestCommandInstaller_InstallNonZeroExit(t *testing.T) {
	exec := &testutil.FakeExecutor{Handler: func(process.Command) (process.Result, error) {
		return process.Result{ExitCode: 1, Stderr: "package not found"}, nil
	}}
	ci := &CommandInstaller{Manager: "apt-get", InstallCmd: []string{"apt-get", "install", PackagePlaceholder}, Exec: exec}

	err := ci.Install(context.Background(), "xorriso")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProcessFailure))
}

func TestCommandInstaller_BootstrapUnsupported(t *testing.T) {
	ci := &CommandInstaller{Manager: "apt-get", Exec: &testutil.FakeExecutor{}}

	err := ci.Bootstrap(context.Background())
	assert.True(t, errors.Is(err, errors.ErrResourceUnavailable))
}

func TestCommandInstaller_PresentMissingBinary(t *testing.T) {
	exec := &testutil.FakeExecutor{}
	ci := &CommandInstaller{Manager: "none", ProbeCmd: []string{"isoforge-no-such-manager", "--version"}, Exec: exec}

	assert.False(t, ci.Present(context.Background()))
	assert.Zero(t, exec.CallCount())
}

func TestDefaultInstaller(t *testing.T) {
	ci := DefaultInstaller(&testutil.FakeExecutor{}, nil)
	assert.NotEmpty(t, ci.Name())
	assert.Contains(t, ci.InstallCmd, PackagePlaceholder)
}
