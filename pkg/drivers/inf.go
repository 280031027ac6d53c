package drivers

import (
	"bufio"
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeINF converts descriptor bytes to text. Descriptors ship as UTF-8 or
// UTF-16 with a BOM; older vendor files are ANSI, read as Windows-1252.
func decodeINF(data []byte) (string, error) {
	primary := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	text, _, err := transform.Bytes(primary, data)
	if err == nil && utf8.Valid(text) && !bytes.ContainsRune(text, utf8.RuneError) {
		return string(text), nil
	}

	text, _, err = transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

// parseClass returns the value of the first Class= declaration in text, or
// "" when there is none.
func parseClass(text string) string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(key), "class") {
			continue
		}
		return strings.Trim(strings.TrimSpace(value), `"`)
	}
	return ""
}
