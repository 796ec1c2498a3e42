package encoder

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/dkeye/relaygw/internal/domain"
)

var versionRe = regexp.MustCompile(`^ffmpeg version (\S+)`)
var numericRe = regexp.MustCompile(`^n?(\d+(?:\.\d+){0,2})`)

// CheckVersion parses `ffmpeg -version` output. Development builds are
// accepted as is; releases must be at least minVersion.
func CheckVersion(output, minVersion string) (string, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	m := versionRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", fmt.Errorf("%w: unrecognized version output %q", domain.ErrVersion, line)
	}
	raw := m[1]
	if strings.HasPrefix(raw, "git") || strings.HasPrefix(raw, "N-") {
		return raw, nil
	}
	num := numericRe.FindStringSubmatch(raw)
	if num == nil {
		return raw, fmt.Errorf("%w: cannot parse %q", domain.ErrVersion, raw)
	}
	have := "v" + num[1]
	want := "v" + strings.TrimPrefix(minVersion, "v")
	if !semver.IsValid(want) {
		return raw, fmt.Errorf("%w: invalid minimum %q", domain.ErrVersion, minVersion)
	}
	if semver.Compare(have, want) < 0 {
		return raw, fmt.Errorf("%w: found %s, need >= %s", domain.ErrVersion, raw, minVersion)
	}
	return raw, nil
}
