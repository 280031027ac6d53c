// Package isotool locates the ISO mastering binary and, when it is missing,
// installs it through a package manager.
package isotool

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ToolLocation is the outcome of probing for the mastering binary.
type ToolLocation struct {
	Path        string `json:"path"`
	IsAvailable bool   `json:"is_available"`
}

// Provisioner finds the mastering binary and caches the result until Reprobe.
type Provisioner struct {
	spec      ToolSpec
	installer Installer
	logger    *slog.Logger

	mu       sync.Mutex
	location *ToolLocation

	// ensureMu serializes install attempts within this Provisioner.
	ensureMu sync.Mutex
}

// NewProvisioner creates a Provisioner. installer may be nil, in which case
// EnsureToolAvailable can only report what is already installed.
func NewProvisioner(spec ToolSpec, installer Installer, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{spec: spec, installer: installer, logger: logger}
}

// GetToolPath returns the mastering binary path, probing on first use. An
// empty string means no candidate location holds the binary.
func (p *Provisioner) GetToolPath(ctx context.Context) string {
	return p.Location(ctx).Path
}

// IsToolAvailable reports whether GetToolPath is non-empty.
func (p *Provisioner) IsToolAvailable(ctx context.Context) bool {
	return p.GetToolPath(ctx) != ""
}

// Location returns the cached ToolLocation, probing when none is cached.
func (p *Provisioner) Location(ctx context.Context) ToolLocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.location == nil {
		loc := p.probe(ctx)
		p.location = &loc
	}
	return *p.location
}

// Reprobe discards the cached location and probes again.
func (p *Provisioner) Reprobe(ctx context.Context) ToolLocation {
	p.mu.Lock()
	p.location = nil
	p.mu.Unlock()
	return p.Location(ctx)
}

// EnsureToolAvailable returns true at once when the binary is already
// available. Otherwise it bootstraps the package manager if needed, requests
// one installation of the tool package and reprobes once. Concurrent callers
// on the same Provisioner wait for the first one and see its outcome.
func (p *Provisioner) EnsureToolAvailable(ctx context.Context) bool {
	if p.IsToolAvailable(ctx) {
		return true
	}

	p.ensureMu.Lock()
	defer p.ensureMu.Unlock()

	// another caller may have installed it while we waited
	if p.IsToolAvailable(ctx) {
		return true
	}
	if p.installer == nil {
		p.logger.Error("iso_tool_unavailable", "binary", p.spec.Binary, "reason", "no installer configured")
		return false
	}

	p.logger.Info("iso_tool_provision_start", "binary", p.spec.Binary, "package", p.spec.PackageID)

	if !p.installer.Present(ctx) {
		p.logger.Info("package_manager_bootstrap", "package_manager", p.installer.Name())
		if err := p.installer.Bootstrap(ctx); err != nil {
			p.logger.Error("package_manager_bootstrap_failed", "package_manager", p.installer.Name(), "error", err)
			return false
		}
		if !p.installer.Present(ctx) {
			p.logger.Error("package_manager_missing_after_bootstrap", "package_manager", p.installer.Name())
			return false
		}
	}

	if err := p.installer.Install(ctx, p.spec.PackageID); err != nil {
		p.logger.Error("iso_tool_install_failed", "package", p.spec.PackageID, "error", err)
		return false
	}

	loc := p.Reprobe(ctx)
	if !loc.IsAvailable {
		p.logger.Error("iso_tool_missing_after_install", "binary", p.spec.Binary, "package", p.spec.PackageID)
		return false
	}
	p.logger.Info("iso_tool_provisioned", "path", loc.Path)
	return true
}

func (p *Provisioner) probe(_ context.Context) ToolLocation {
	for _, candidate := range p.knownLocations() {
		if isFile(candidate) {
			p.logger.Info("iso_tool_found", "path", candidate, "source", "known_location")
			return ToolLocation{Path: candidate, IsAvailable: true}
		}
	}

	if p.spec.SearchPath {
		if path, err := exec.LookPath(p.spec.Binary); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			p.logger.Info("iso_tool_found", "path", path, "source", "path")
			return ToolLocation{Path: path, IsAvailable: true}
		}
	}

	if path := p.scanPackageRoot(); path != "" {
		p.logger.Info("iso_tool_found", "path", path, "source", "package_root")
		return ToolLocation{Path: path, IsAvailable: true}
	}

	p.logger.Warn("iso_tool_not_found", "binary", p.spec.Binary)
	return ToolLocation{}
}

func (p *Provisioner) knownLocations() []string {
	arch := hostArch()
	var out []string
	for _, root := range p.spec.KitRoots {
		root = expand(root)
		if strings.TrimSpace(root) == "" || strings.Contains(root, "${") {
			continue
		}
		for _, sub := range p.spec.ArchSubpaths {
			sub = strings.ReplaceAll(sub, "{arch}", arch)
			out = append(out, filepath.Join(root, filepath.FromSlash(sub), p.spec.Binary))
		}
		if len(p.spec.ArchSubpaths) == 0 {
			out = append(out, filepath.Join(root, p.spec.Binary))
		}
	}
	return out
}

// scanPackageRoot looks for package folders matching PackagePattern and
// returns the binary inside the most recently modified one that has it.
func (p *Provisioner) scanPackageRoot() string {
	root := expand(p.spec.PackageRoot)
	if root == "" || p.spec.PackagePattern == "" {
		return ""
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ok, err := filepath.Match(strings.ToLower(p.spec.PackagePattern), strings.ToLower(e.Name()))
		if err != nil || !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(root, e.Name()), modTime: info.ModTime()})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	for _, c := range candidates {
		if bin := findBinary(c.path, p.spec.Binary); bin != "" {
			return bin
		}
		p.logger.Debug("iso_tool_package_without_binary", "package_dir", c.path)
	}
	return ""
}

func findBinary(dir, name string) string {
	var found string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(d.Name(), name) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
