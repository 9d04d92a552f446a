// ABOUTME: Request body screening for injection-shaped input
// ABOUTME: Flags the signal name and caller address in logs, never the payload itself

package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
)

// suspiciousPatterns are screened against raw request bodies on write
// endpoints. Matching is a coarse tripwire for injection-shaped input; the
// store's parameterized queries remain the actual defense.
var suspiciousPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"script_tag", regexp.MustCompile(`(?i)<\s*script`)},
	{"sql_keyword", regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|UNION|EXEC)\b.*(\bFROM\b|\bINTO\b|\bTABLE\b|\bWHERE\b|--)`)},
	{"sql_comment", regexp.MustCompile(`(--|/\*|\*/|;\s*--)`)},
	{"shell_metachar", regexp.MustCompile("\\$\\(|`|\\|\\|")},
	{"path_traversal", regexp.MustCompile(`\.\./\.\./`)},
}

// screenBody scans the body of the given request and returns the name of the
// first matching signal, or "" when the body looks clean. The body is
// restored so downstream handlers can decode it.
func screenBody(r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	for _, p := range suspiciousPatterns {
		if p.re.Match(body) {
			return p.name, nil
		}
	}
	return "", nil
}

// withInputScreen rejects requests whose body trips an injection signal.
func (s *Server) withInputScreen(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signal, err := screenBody(r)
		if err != nil {
			// MaxBytesReader surfaces oversized chunked bodies here.
			writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large")
			return
		}
		if signal != "" {
			s.logger.Warn("rejected suspicious input",
				"security", "suspicious_input",
				"signal", signal,
				"remote_ip", clientIP(r),
				"path", r.URL.Path,
			)
			writeError(w, http.StatusBadRequest, CodeSuspiciousInput, "request contains disallowed content")
			return
		}
		next.ServeHTTP(w, r)
	})
}
