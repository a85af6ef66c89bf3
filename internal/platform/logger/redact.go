package logger

import (
	"github.com/grafana/regexp"
)

var (
	userinfoRe = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*://)[^/@]+@`)
	secretRe   = regexp.MustCompile(`(?i)([?&](?:token|key|auth|sig|signature|password|secret)=)[^&#]*`)
)

// RedactURL strips credentials and signed query parameters from a stream URL
// before it is logged.
func RedactURL(raw string) string {
	out := userinfoRe.ReplaceAllString(raw, "${1}REDACTED@")
	return secretRe.ReplaceAllString(out, "${1}REDACTED")
}
