package pipeline

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Boot sector files, relative to the working directory.
var (
	BIOSBootSector = filepath.Join("boot", "etfsboot.com")
	UEFIBootSector = filepath.Join("efi", "microsoft", "boot", "efisys.bin")
)

// DefaultVolumeLabel is used when a request carries none.
const DefaultVolumeLabel = "ISOFORGE"

// SizeEstimator predicts how many bytes the output ISO will need.
type SizeEstimator interface {
	Estimate(workingDir string) (int64, error)
}

// TreeSizeEstimator sums the regular files of the working tree and adds
// Margin as a fraction of that total for filesystem overhead.
type TreeSizeEstimator struct {
	Margin float64
}

// DefaultSizeEstimator adds a 10% margin.
func DefaultSizeEstimator() TreeSizeEstimator {
	return TreeSizeEstimator{Margin: 0.10}
}

func (e TreeSizeEstimator) Estimate(workingDir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(workingDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total + int64(float64(total)*e.Margin), nil
}

// Flavor selects the argument dialect of the mastering tool.
type Flavor string

const (
	FlavorOscdimg Flavor = "oscdimg"
	FlavorXorriso Flavor = "xorriso"
)

// FlavorFor picks the dialect from the tool's file name.
func FlavorFor(toolPath string) Flavor {
	if strings.Contains(strings.ToLower(filepath.Base(toolPath)), "oscdimg") {
		return FlavorOscdimg
	}
	return FlavorXorriso
}

// MasterInput describes one mastering invocation. Boot sector paths are
// relative to Source; UEFIBoot is empty for BIOS-only media.
type MasterInput struct {
	Source   string
	Output   string
	Label    string
	BIOSBoot string
	UEFIBoot string
}

// Args renders the command line for in.
func (f Flavor) Args(in MasterInput) []string {
	label := in.Label
	if label == "" {
		label = DefaultVolumeLabel
	}

	if f == FlavorOscdimg {
		bios := filepath.Join(in.Source, in.BIOSBoot)
		bootdata := "-bootdata:1#p0,e,b" + bios
		if in.UEFIBoot != "" {
			bootdata = "-bootdata:2#p0,e,b" + bios + "#pEF,e,b" + filepath.Join(in.Source, in.UEFIBoot)
		}
		return []string{"-m", "-o", "-u2", "-udfver102", "-l" + label, bootdata, in.Source, in.Output}
	}

	args := []string{
		"-as", "mkisofs",
		"-iso-level", "3",
		"-J", "-joliet-long",
		"-V", label,
		"-b", filepath.ToSlash(in.BIOSBoot),
		"-no-emul-boot", "-boot-load-size", "8",
		"-hide", "boot.catalog",
	}
	if in.UEFIBoot != "" {
		args = append(args,
			"-eltorito-alt-boot",
			"-e", filepath.ToSlash(in.UEFIBoot),
			"-no-emul-boot")
	}
	return append(args, "-o", in.Output, in.Source)
}
