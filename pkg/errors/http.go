package errors

import (
	"fmt"
	"unicode/utf8"
)

// maxBodyExcerpt bounds how much of a failed response body is kept on the error.
const maxBodyExcerpt = 512

// HTTPError describes a non-2xx response. It is carried as the Cause of a
// transient_http or permanent_http Error.
type HTTPError struct {
	StatusCode  int
	Method      string
	URL         string
	BodyExcerpt string
}

func (e *HTTPError) Error() string {
	if e.BodyExcerpt == "" {
		return fmt.Sprintf("%s %s returned status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.BodyExcerpt)
}

// NewHTTPError builds an HTTPError, truncating the body to a short excerpt.
func NewHTTPError(status int, method, url string, body []byte) *HTTPError {
	excerpt := string(body)
	if len(excerpt) > maxBodyExcerpt {
		cut := maxBodyExcerpt
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut] + "..."
	}
	return &HTTPError{
		StatusCode:  status,
		Method:      method,
		URL:         url,
		BodyExcerpt: excerpt,
	}
}

// StatusCode extracts the HTTP status from err, or 0 if err carries none.
func StatusCode(err error) int {
	var he *HTTPError
	if As(err, &he) {
		return he.StatusCode
	}
	return 0
}
