package drivers

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/isoforge/isoforge/pkg/errors"
)

// Policy is the classification table for storage drivers. Keywords are
// matched as substrings of the lower-cased descriptor file name; classes are
// compared against the descriptor's Class= value, ignoring case.
type Policy struct {
	StorageKeywords []string `toml:"storage_keywords"`
	StorageClasses  []string `toml:"storage_classes"`
}

// DefaultPolicy covers the common RAID/AHCI/NVMe controller families and the
// device classes setup needs before the disk is visible.
func DefaultPolicy() Policy {
	return Policy{
		StorageKeywords: []string{
			"iastor", "irst", "rstmw", "iavmd",
			"nvme", "stornvme", "ahci", "storahci",
			"raid", "rcbottom", "rccfg", "rcraid",
			"amdsata", "megasas", "megasr", "percsas",
			"lsi_sas", "mpt3sas", "arcsas", "hpsa", "smartpqi",
			"vioscsi", "viostor", "pvscsi",
		},
		StorageClasses: []string{
			"scsiadapter",
			"hdc",
			"diskdrive",
		},
	}
}

// LoadPolicy reads a TOML policy file. Lists present in the file replace the
// defaults; lists left out keep them.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, errors.E(errors.ErrFilesystemFailure, "load_driver_policy", err)
	}

	var override Policy
	if err := toml.Unmarshal(data, &override); err != nil {
		return Policy{}, errors.E(errors.ErrValidation, "parse_driver_policy", err)
	}

	p := DefaultPolicy()
	if override.StorageKeywords != nil {
		p.StorageKeywords = override.StorageKeywords
	}
	if override.StorageClasses != nil {
		p.StorageClasses = override.StorageClasses
	}
	return p.normalized(), nil
}

func (p Policy) normalized() Policy {
	norm := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			s = strings.ToLower(strings.TrimSpace(s))
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return Policy{
		StorageKeywords: norm(p.StorageKeywords),
		StorageClasses:  norm(p.StorageClasses),
	}
}

// MatchesFileName reports whether a descriptor file name carries a storage
// vendor keyword.
func (p Policy) MatchesFileName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range p.StorageKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// MatchesClass reports whether class names a storage device class.
func (p Policy) MatchesClass(class string) bool {
	for _, c := range p.StorageClasses {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}
