package capture

import (
	"strings"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

var timestampReplacer = strings.NewReplacer(":", "-", ".", "-")

// GenerateName derives the artifact name for a capture of target taken at now,
// e.g. example.com-screenshot-2024-05-01T10-20-30-123Z.png. Two captures of
// the same host within one millisecond collide.
func GenerateName(target ValidURL, now time.Time) string {
	stamp := timestampReplacer.Replace(now.UTC().Format(timestampLayout))
	host := strings.TrimPrefix(target.Hostname(), "www.")
	if host == "" {
		return "screenshot-" + stamp + ".png"
	}
	return host + "-screenshot-" + stamp + ".png"
}
