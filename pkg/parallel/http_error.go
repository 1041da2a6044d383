package parallel

import (
	"fmt"
	"net/http"
	"strings"
)

// HTTPError is a non-200 FindAll API response. The body is kept verbatim so
// the tool envelope can surface the service's own error message; callers that
// log it should pass it through redact first.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "parallel http error"
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
	}
	h.Body = string(body)
	return h
}
