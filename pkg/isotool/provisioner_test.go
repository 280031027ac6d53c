package isotool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isoforge/isoforge/internal/testutil"
)

type fakeInstaller struct {
	mu            sync.Mutex
	present       bool
	bootstrapErr  error
	installErr    error
	installTarget string // binary written on Install
	bootstraps    int
	installs      []string
}

func (f *fakeInstaller) Name() string { return "fake" }

func (f *fakeInstaller) Present(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present
}

func (f *fakeInstaller) Bootstrap(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootstraps++
	if f.bootstrapErr != nil {
		return f.bootstrapErr
	}
	f.present = true
	return nil
}

func (f *fakeInstaller) Install(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, id)
	if f.installErr != nil {
		return f.installErr
	}
	if f.installTarget != "" {
		if err := os.MkdirAll(filepath.Dir(f.installTarget), 0o755); err != nil {
			return err
		}
		return os.WriteFile(f.installTarget, []byte("bin"), 0o755)
	}
	return nil
}

func testSpec(root string) ToolSpec {
	return ToolSpec{
		Binary:         "oscdimg-test.exe",
		KitRoots:       []string{filepath.Join(root, "kit")},
		ArchSubpaths:   []string{"{arch}/Oscdimg", "x86/Oscdimg"},
		PackageRoot:    filepath.Join(root, "lib"),
		PackagePattern: "windows-adk-oscdimg*",
		PackageID:      "windows-adk-oscdimg",
	}
}

func archBinary(root string) string {
	return filepath.Join(root, "kit", hostArch(), "Oscdimg", "oscdimg-test.exe")
}

func TestGetToolPath_NotInstalled(t *testing.T) {
	p := NewProvisioner(testSpec(t.TempDir()), nil, nil)

	assert.Empty(t, p.GetToolPath(context.Background()))
	assert.False(t, p.IsToolAvailable(context.Background()))
	assert.Equal(t, ToolLocation{}, p.Location(context.Background()))
}

func TestGetToolPath_ArchSpecificFirst(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "kit", "x86", "Oscdimg", "oscdimg-test.exe"), []byte("x86"))
	testutil.WriteFile(t, archBinary(root), []byte("native"))

	p := NewProvisioner(testSpec(root), nil, nil)
	assert.Equal(t, archBinary(root), p.GetToolPath(context.Background()))
}

func TestGetToolPath_FallsBackToSecondarySubpath(t *testing.T) {
	root := t.TempDir()
	x86 := filepath.Join(root, "kit", "x86", "Oscdimg", "oscdimg-test.exe")
	testutil.WriteFile(t, x86, []byte("x86"))

	p := NewProvisioner(testSpec(root), nil, nil)
	if hostArch() == "x86" {
		t.Skip("host arch is x86")
	}
	assert.Equal(t, x86, p.GetToolPath(context.Background()))
}

func TestGetToolPath_PackageRootPicksNewestCandidate(t *testing.T) {
	root := t.TempDir()
	older := filepath.Join(root, "lib", "windows-adk-oscdimg.2.0", "tools", "oscdimg-test.exe")
	newer := filepath.Join(root, "lib", "Windows-ADK-Oscdimg.2.1", "tools", "x64", "OSCDIMG-TEST.EXE")
	empty := filepath.Join(root, "lib", "windows-adk-oscdimg.3.0")
	testutil.WriteFile(t, older, []byte("old"))
	testutil.WriteFile(t, newer, []byte("new"))
	require.NoError(t, os.MkdirAll(empty, 0o755))
	testutil.WriteFile(t, filepath.Join(root, "lib", "unrelated", "oscdimg-test.exe"), []byte("no"))

	now := time.Now()
	require.NoError(t, os.Chtimes(filepath.Join(root, "lib", "windows-adk-oscdimg.2.0"), now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(filepath.Join(root, "lib", "Windows-ADK-Oscdimg.2.1"), now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(empty, now, now))

	p := NewProvisioner(testSpec(root), nil, nil)
	assert.Equal(t, newer, p.GetToolPath(context.Background()))
}

func TestLocation_CachedUntilReprobe(t *testing.T) {
	root := t.TempDir()
	p := NewProvisioner(testSpec(root), nil, nil)
	require.False(t, p.IsToolAvailable(context.Background()))

	testutil.WriteFile(t, archBinary(root), []byte("bin"))
	assert.False(t, p.IsToolAvailable(context.Background()), "cached result is kept")

	loc := p.Reprobe(context.Background())
	assert.True(t, loc.IsAvailable)
	assert.Equal(t, archBinary(root), loc.Path)
}

func TestEnsureToolAvailable_AlreadyAvailable(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, archBinary(root), []byte("bin"))
	inst := &fakeInstaller{}

	p := NewProvisioner(testSpec(root), inst, nil)
	assert.True(t, p.EnsureToolAvailable(context.Background()))
	assert.Empty(t, inst.installs)
	assert.Zero(t, inst.bootstraps)
}

func TestEnsureToolAvailable_InstallsOnceThenReprobes(t *testing.T) {
	root := t.TempDir()
	inst := &fakeInstaller{present: true, installTarget: archBinary(root)}
	p := NewProvisioner(testSpec(root), inst, nil)

	require.Empty(t, p.GetToolPath(context.Background()))
	assert.True(t, p.EnsureToolAvailable(context.Background()))
	assert.Equal(t, []string{"windows-adk-oscdimg"}, inst.installs)
	assert.Zero(t, inst.bootstraps)
	assert.Equal(t, archBinary(root), p.GetToolPath(context.Background()))
}

func TestEnsureToolAvailable_ReprobeStillMissing(t *testing.T) {
	inst := &fakeInstaller{present: true}
	p := NewProvisioner(testSpec(t.TempDir()), inst, nil)

	assert.False(t, p.EnsureToolAvailable(context.Background()))
	assert.Len(t, inst.installs, 1, "exactly one installation attempt")
}

func TestEnsureToolAvailable_BootstrapsPackageManager(t *testing.T) {
	root := t.TempDir()
	inst := &fakeInstaller{installTarget: archBinary(root)}
	p := NewProvisioner(testSpec(root), inst, nil)

	assert.True(t, p.EnsureToolAvailable(context.Background()))
	assert.Equal(t, 1, inst.bootstraps)
	assert.Len(t, inst.installs, 1)
}

func TestEnsureToolAvailable_FailureModes(t *testing.T) {
	t.Run("bootstrap fails", func(t *testing.T) {
		inst := &fakeInstaller{bootstrapErr: errors.New("offline")}
		p := NewProvisioner(testSpec(t.TempDir()), inst, nil)
		assert.False(t, p.EnsureToolAvailable(context.Background()))
		assert.Empty(t, inst.installs)
	})
	t.Run("install fails", func(t *testing.T) {
		inst := &fakeInstaller{present: true, installErr: errors.New("exit 1")}
		p := NewProvisioner(testSpec(t.TempDir()), inst, nil)
		assert.False(t, p.EnsureToolAvailable(context.Background()))
		assert.Len(t, inst.installs, 1)
	})
	t.Run("no installer", func(t *testing.T) {
		p := NewProvisioner(testSpec(t.TempDir()), nil, nil)
		assert.False(t, p.EnsureToolAvailable(context.Background()))
	})
}

func TestEnsureToolAvailable_ConcurrentCallersInstallOnce(t *testing.T) {
	root := t.TempDir()
	inst := &fakeInstaller{present: true, installTarget: archBinary(root)}
	p := NewProvisioner(testSpec(root), inst, nil)

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.EnsureToolAvailable(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []bool{true, true, true, true}, results)
	assert.Len(t, inst.installs, 1)
}

func TestExpand(t *testing.T) {
	t.Setenv("ProgramFiles(x86)", `C:\PF86`)
	assert.Equal(t, `C:\PF86\Windows Kits`, expand(`${ProgramFiles(x86)}\Windows Kits`))
}
