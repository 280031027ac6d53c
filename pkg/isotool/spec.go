package isotool

import (
	"os"
	"runtime"
)

// ToolSpec tells the Provisioner where the mastering binary may live and how
// to obtain it. Paths may reference environment variables as ${NAME}.
type ToolSpec struct {
	// Binary is the executable file name.
	Binary string
	// KitRoots are install roots probed in order. Each root is combined with
	// every entry of ArchSubpaths, then with Binary.
	KitRoots []string
	// ArchSubpaths are relative folders below a kit root, "{arch}" is replaced
	// by the host architecture. The arch specific entry should come first.
	ArchSubpaths []string
	// SearchPath enables a PATH lookup after the kit locations.
	SearchPath bool
	// PackageRoot is the package manager's install directory.
	PackageRoot string
	// PackagePattern is a filepath.Match pattern for package folder names.
	PackagePattern string
	// PackageID is what the package manager is asked to install.
	PackageID string
}

// DefaultToolSpec returns oscdimg from the Windows ADK on Windows and xorriso
// elsewhere.
func DefaultToolSpec() ToolSpec {
	if runtime.GOOS == "windows" {
		return ToolSpec{
			Binary: "oscdimg.exe",
			KitRoots: []string{
				`${ProgramFiles(x86)}\Windows Kits\10\Assessment and Deployment Kit\Deployment Tools`,
				`${ProgramFiles}\Windows Kits\10\Assessment and Deployment Kit\Deployment Tools`,
				`${ProgramFiles(x86)}\Windows Kits\8.1\Assessment and Deployment Kit\Deployment Tools`,
			},
			ArchSubpaths: []string{
				`{arch}\Oscdimg`,
				`x86\Oscdimg`,
			},
			SearchPath:     true,
			PackageRoot:    `${ProgramData}\chocolatey\lib`,
			PackagePattern: "windows-adk-oscdimg*",
			PackageID:      "windows-adk-oscdimg",
		}
	}
	return ToolSpec{
		Binary:         "xorriso",
		KitRoots:       []string{"/usr/local", "/usr", "/opt/homebrew"},
		ArchSubpaths:   []string{"bin"},
		SearchPath:     true,
		PackageRoot:    "/opt/homebrew/Cellar",
		PackagePattern: "xorriso*",
		PackageID:      "xorriso",
	}
}

// hostArch maps GOARCH to the ADK folder naming.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "amd64"
	case "arm64":
		return "arm64"
	case "386":
		return "x86"
	default:
		return runtime.GOARCH
	}
}

// expand resolves ${NAME} references, including names such as
// ProgramFiles(x86) that os.ExpandEnv's $NAME form cannot express.
func expand(s string) string {
	return os.Expand(s, os.Getenv)
}
