package platform

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeBytes_MissingPathUsesAncestor(t *testing.T) {
	dir := t.TempDir()

	free, err := FreeBytes(filepath.Join(dir, "not", "yet", "created.iso"))
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}

func TestDiskSpaceChecker(t *testing.T) {
	dir := t.TempDir()
	c := DiskSpaceChecker{}

	assert.True(t, c.HasSpace(dir, 0))
	assert.True(t, c.HasSpace(dir, -5))
	assert.False(t, c.HasSpace(dir, math.MaxInt64))
}

func TestClearTreeAttributes_AllowsRemoval(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sources"), 0o755))
	file := filepath.Join(root, "sources", "install.wim")
	require.NoError(t, os.WriteFile(file, []byte("wim"), 0o444))

	require.NoError(t, ClearTreeAttributes(root))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o200, "owner write should be restored")

	require.NoError(t, os.RemoveAll(root))
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestClearTreeAttributes_MissingRoot(t *testing.T) {
	assert.NoError(t, ClearTreeAttributes(filepath.Join(t.TempDir(), "gone")))
}
