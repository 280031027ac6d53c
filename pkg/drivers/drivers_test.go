package drivers

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestCategorizer() *Categorizer {
	return NewCategorizer(DefaultPolicy(), nil)
}

func TestIsStorageDriver_KeywordWinsOverClass(t *testing.T) {
	dir := t.TempDir()
	inf := filepath.Join(dir, "iaStorVD.inf")
	writeFile(t, inf, "[Version]\nClass=System\n")

	assert.True(t, newTestCategorizer().IsStorageDriver(inf))
}

func TestIsStorageDriver_NonStorageControllerNames(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"amdxhc.inf":    "[Version]\nClass=USB\n",
		"vmdisplay.inf": "[Version]\nClass=Display\n",
	}

	c := newTestCategorizer()
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeFile(t, path, content)
			assert.False(t, c.IsStorageDriver(path))
		})
	}

	vmd := filepath.Join(dir, "iaVMD.inf")
	writeFile(t, vmd, "[Version]\nClass=System\n")
	assert.True(t, c.IsStorageDriver(vmd))
}

func TestIsStorageDriver_ClassLine(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]struct {
		content string
		want    bool
	}{
		"scsi.inf":     {"[Version]\r\nSignature=\"$WINDOWS NT$\"\r\nClass = SCSIAdapter ; storage\r\n", true},
		"hdc.inf":      {"[Version]\nclass=\"hdc\"\n", true},
		"net.inf":      {"[Version]\nClass=Net\nClassGuid={4d36e972-e325-11ce-bfc1-08002be10318}\n", false},
		"guidonly.inf": {"[Version]\nClassGuid={4d36e97b-e325-11ce-bfc1-08002be10318}\n", false},
		"comment.inf":  {"[Version]\n; Class=SCSIAdapter\nClass=Display\n", false},
	}

	c := newTestCategorizer()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeFile(t, path, tc.content)
			assert.Equal(t, tc.want, c.IsStorageDriver(path))
		})
	}
}

func TestIsStorageDriver_UTF16Descriptor(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	content, err := enc.String("[Version]\r\nClass=SCSIAdapter\r\n")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "vendor.inf")
	writeFile(t, path, content)

	assert.True(t, newTestCategorizer().IsStorageDriver(path))
}

func TestIsStorageDriver_ANSIFallback(t *testing.T) {
	// 0xE9 is é in Windows-1252 and invalid UTF-8
	content := []byte("; Pilote de contr\xf4leur \xe9\r\n[Version]\r\nClass=HDC\r\n")
	path := filepath.Join(t.TempDir(), "legacy.inf")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	assert.True(t, newTestCategorizer().IsStorageDriver(path))
}

func TestIsStorageDriver_MissingFile(t *testing.T) {
	assert.False(t, newTestCategorizer().IsStorageDriver(filepath.Join(t.TempDir(), "gone.inf")))
}

func TestCategorizeAndCopyDrivers_RoutesByClass(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "drivers", "net", "e1000.inf"), "[Version]\nClass=Net\n")
	writeFile(t, filepath.Join(src, "drivers", "net", "e1000.sys"), "payload")
	writeFile(t, filepath.Join(src, "drivers", "storage", "iastorv.inf"), "[Version]\nClass=SCSIAdapter\n")
	writeFile(t, filepath.Join(src, "drivers", "storage", "iastorv.cat"), "catalog")

	out := t.TempDir()
	winpeRoot := filepath.Join(out, "winpe")
	oemRoot := filepath.Join(out, "oem")

	n := newTestCategorizer().CategorizeAndCopyDrivers(src, winpeRoot, oemRoot, "")
	assert.Equal(t, 2, n)

	assert.FileExists(t, filepath.Join(oemRoot, "net", "e1000.inf"))
	assert.FileExists(t, filepath.Join(oemRoot, "net", "e1000.sys"))
	assert.FileExists(t, filepath.Join(winpeRoot, "storage", "iastorv.inf"))
	assert.FileExists(t, filepath.Join(winpeRoot, "storage", "iastorv.cat"))
	assert.NoDirExists(t, filepath.Join(winpeRoot, "net"))

	// source untouched
	assert.FileExists(t, filepath.Join(src, "drivers", "net", "e1000.inf"))
}

func TestCategorizeAndCopyDrivers_NameCollision(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "intel", "net", "a.inf"), "Class=Net\n")
	writeFile(t, filepath.Join(src, "realtek", "net", "b.inf"), "Class=Net\n")

	oem := filepath.Join(t.TempDir(), "oem")
	n := newTestCategorizer().CategorizeAndCopyDrivers(src, filepath.Join(t.TempDir(), "winpe"), oem, "")
	assert.Equal(t, 2, n)

	assert.FileExists(t, filepath.Join(oem, "net", "a.inf"))
	assert.FileExists(t, filepath.Join(oem, "net_1", "b.inf"))
	assert.NoFileExists(t, filepath.Join(oem, "net", "b.inf"))
}

func TestCategorizeAndCopyDrivers_MultipleDescriptorsProcessedOnce(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "chipset", "a.inf"), "Class=System\n")
	writeFile(t, filepath.Join(src, "chipset", "b.INF"), "Class=System\n")
	writeFile(t, filepath.Join(src, "chipset", "c.inf"), "Class=System\n")

	oem := filepath.Join(t.TempDir(), "oem")
	n := newTestCategorizer().CategorizeAndCopyDrivers(src, filepath.Join(t.TempDir(), "winpe"), oem, "")
	assert.Equal(t, 1, n)

	assert.DirExists(t, filepath.Join(oem, "chipset"))
	assert.NoDirExists(t, filepath.Join(oem, "chipset_1"))
	assert.FileExists(t, filepath.Join(oem, "chipset", "b.INF"))
}

func TestCategorizeAndCopyDrivers_ExcludeDir(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "net", "a.inf"), "Class=Net\n")
	writeFile(t, filepath.Join(src, "Scratch", "staged", "net", "a.inf"), "Class=Net\n")

	oem := filepath.Join(t.TempDir(), "oem")
	n := newTestCategorizer().CategorizeAndCopyDrivers(src, filepath.Join(t.TempDir(), "winpe"), oem, filepath.Join(src, "scratch"))

	// case-insensitive prefix match drops the scratch copy
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, filepath.Join(oem, "net_1"))
}

func TestCategorizeAndCopyDrivers_NestedPackagesStagedSeparately(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "bundle", "root.inf"), "Class=Net\n")
	writeFile(t, filepath.Join(src, "bundle", "payload", "fw.bin"), "firmware")
	writeFile(t, filepath.Join(src, "bundle", "sata", "amdsata.inf"), "Class=System\n")

	out := t.TempDir()
	winpe := filepath.Join(out, "winpe")
	oem := filepath.Join(out, "oem")
	n := newTestCategorizer().CategorizeAndCopyDrivers(src, winpe, oem, "")
	assert.Equal(t, 2, n)

	assert.FileExists(t, filepath.Join(oem, "bundle", "payload", "fw.bin"))
	assert.NoDirExists(t, filepath.Join(oem, "bundle", "sata"))
	assert.FileExists(t, filepath.Join(winpe, "sata", "amdsata.inf"))
}

func TestCategorizeAndCopyDrivers_NothingFound(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "readme.txt"), "no drivers here")

	n := newTestCategorizer().CategorizeAndCopyDrivers(src, filepath.Join(src, "w"), filepath.Join(src, "o"), "")
	assert.Zero(t, n)
	assert.Zero(t, newTestCategorizer().CategorizeAndCopyDrivers(filepath.Join(src, "missing"), "w", "o", ""))
}

func TestCategorizeAndCopyDrivers_CollisionBoundExhausted(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "net", "a.inf"), "Class=Net\n")

	oem := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(oem, "net"), 0o755))
	for i := 1; i <= maxNameAttempts; i++ {
		require.NoError(t, os.MkdirAll(filepath.Join(oem, "net_"+strconv.Itoa(i)), 0o755))
	}

	assert.Zero(t, newTestCategorizer().CategorizeAndCopyDrivers(src, t.TempDir(), oem, ""))
}

