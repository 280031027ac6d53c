package drivers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isoforge/isoforge/pkg/errors"
)

func TestLoadPolicy_OverridesListsPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drivers.toml")
	require.NoError(t, os.WriteFile(path, []byte(`storage_keywords = ["  CustomRAID ", ""]`+"\n"), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"customraid"}, p.StorageKeywords)
	assert.Equal(t, DefaultPolicy().StorageClasses, p.StorageClasses)
	assert.True(t, p.MatchesFileName("CUSTOMRAID64.INF"))
	assert.False(t, p.MatchesFileName("iastorvd.inf"))
}

func TestLoadPolicy_Errors(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, errors.Is(err, errors.ErrFilesystemFailure))

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("storage_classes = [unterminated"), 0o644))
	_, err = LoadPolicy(bad)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestPolicy_MatchesClass(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.MatchesClass("SCSIAdapter"))
	assert.True(t, p.MatchesClass("HDC"))
	assert.False(t, p.MatchesClass("Net"))
	assert.False(t, p.MatchesClass(""))
}

func TestParseClass(t *testing.T) {
	assert.Equal(t, "SCSIAdapter", parseClass("[Version]\nClassGuid={x}\n  Class  =  SCSIAdapter  ; trailing\n"))
	assert.Equal(t, "", parseClass("[Version]\nProvider=%Vendor%\n"))
}
