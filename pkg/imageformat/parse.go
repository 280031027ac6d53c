package imageformat

import (
	"bufio"
	"strconv"
	"strings"
)

type imageEntry struct {
	index int
	name  string
	named bool
}

// parseImageList extracts Index/Name pairs from imaging tool output. Both the
// "Index : 1" layout and the column-aligned "Index:   1" layout are accepted.
// A Name line belongs to the closest preceding Index line.
func parseImageList(output string) []imageEntry {
	var entries []imageEntry
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "index":
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			entries = append(entries, imageEntry{index: n})
		case "name":
			if len(entries) == 0 {
				continue
			}
			last := &entries[len(entries)-1]
			if !last.named {
				last.name = value
				last.named = true
			}
		}
	}
	return entries
}
