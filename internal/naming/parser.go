package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// rePattern matches "<prefix>%0<width>d<suffix>". The suffix must carry the
// file extension so that temp and marker files never look like frames.
var rePattern = regexp.MustCompile(`^([^%/\\]*)%0([1-9][0-9]?)d([^%/\\]*\.[A-Za-z0-9]+)$`)

// Pattern is a parsed frame file name pattern.
type Pattern struct {
	raw    string
	prefix string
	suffix string
	width  int
}

// ParsePattern validates raw and returns the corresponding Pattern.
func ParsePattern(raw string) (Pattern, error) {
	m := rePattern.FindStringSubmatch(raw)
	if m == nil {
		return Pattern{}, fmt.Errorf("invalid frame pattern %q (want a zero-padded verb and an extension, e.g. %%06d.png)", raw)
	}
	width, _ := strconv.Atoi(m[2])
	return Pattern{raw: raw, prefix: m[1], suffix: m[3], width: width}, nil
}

// MustPattern is ParsePattern for patterns known to be valid.
func MustPattern(raw string) Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern as given, suitable for ffmpeg's image2 input.
func (p Pattern) String() string { return p.raw }

// Ext returns the frame file extension including the dot.
func (p Pattern) Ext() string { return filepath.Ext(p.suffix) }

// Name returns the file name of frame index.
func (p Pattern) Name(index int) string {
	return fmt.Sprintf("%s%0*d%s", p.prefix, p.width, index, p.suffix)
}

// Path returns the path of frame index inside dir.
func (p Pattern) Path(dir string, index int) string {
	return filepath.Join(dir, p.Name(index))
}

// Parse extracts the frame index from a file name (base name only). It
// reports false for names that do not follow the pattern, including names
// whose digits are shorter than the pattern width or carry redundant
// leading zeros beyond it.
func (p Pattern) Parse(name string) (int, bool) {
	if !strings.HasPrefix(name, p.prefix) || !strings.HasSuffix(name, p.suffix) {
		return 0, false
	}
	digits := name[len(p.prefix) : len(name)-len(p.suffix)]
	if len(digits) < p.width {
		return 0, false
	}
	if len(digits) > p.width && digits[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
