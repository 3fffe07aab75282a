package security

import "regexp"

// LogSanitizer remove credenciais e tokens antes de logar ou auditar.
type LogSanitizer struct {
	patterns []*regexp.Regexp
}

func NewLogSanitizer() *LogSanitizer {
	return &LogSanitizer{
		patterns: []*regexp.Regexp{
			// JWT (access tokens do GoTrue e anon key)
			regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`),
			regexp.MustCompile(`(?i)"?(access_token|refresh_token|accessToken|refreshToken|password|apikey|api[_-]?key|secret)"?\s*[:=]\s*"?[^\s",}&]+"?`),
			regexp.MustCompile(`(?i)bearer\s+[\w\-\.=]+`),
			regexp.MustCompile(`(?i)(cookie|set-cookie):\s*[^\s;]+`),
		},
	}
}

func (s *LogSanitizer) Sanitize(message string) string {
	if s == nil {
		return message
	}

	clean := message
	for _, p := range s.patterns {
		clean = p.ReplaceAllString(clean, "[REDACTED]")
	}
	return clean
}
