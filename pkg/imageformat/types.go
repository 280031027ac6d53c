package imageformat

import "strings"

// Format identifies an install image container.
type Format string

const (
	Wim Format = "wim"
	Esd Format = "esd"
)

// SourcesDir is the folder of the working tree holding the install image.
const SourcesDir = "sources"

// FileName returns the install image file name for f.
func (f Format) FileName() string {
	return "install." + string(f)
}

// ParseFormat accepts "wim" or "esd" in any case.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case Wim:
		return Wim, true
	case Esd:
		return Esd, true
	}
	return "", false
}

// ImageFormatInfo describes one install image container found in a working
// tree. Indices and EditionNames are parallel and in listing order.
type ImageFormatInfo struct {
	Format       Format   `json:"format"`
	ImageCount   int      `json:"image_count"`
	Indices      []int    `json:"indices"`
	EditionNames []string `json:"edition_names"`
	SizeBytes    int64    `json:"size_bytes"`
}

// DualFormatDetectionResult holds the independent WIM and ESD probes.
type DualFormatDetectionResult struct {
	WimInfo *ImageFormatInfo `json:"wim,omitempty"`
	EsdInfo *ImageFormatInfo `json:"esd,omitempty"`
}

// BothExist reports whether both containers are present.
func (r DualFormatDetectionResult) BothExist() bool {
	return r.WimInfo != nil && r.EsdInfo != nil
}

// NeitherExists reports whether no container is present.
func (r DualFormatDetectionResult) NeitherExists() bool {
	return r.WimInfo == nil && r.EsdInfo == nil
}

// ExactlyOneExists reports whether exactly one container is present.
func (r DualFormatDetectionResult) ExactlyOneExists() bool {
	return (r.WimInfo == nil) != (r.EsdInfo == nil)
}

// Only returns the single present container, or nil unless ExactlyOneExists.
func (r DualFormatDetectionResult) Only() *ImageFormatInfo {
	if !r.ExactlyOneExists() {
		return nil
	}
	if r.WimInfo != nil {
		return r.WimInfo
	}
	return r.EsdInfo
}
