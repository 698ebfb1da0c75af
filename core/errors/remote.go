package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// RemoteError is a non-2xx response from the repository API.
type RemoteError struct {
	Op         string
	Method     string
	URL        string
	StatusCode int
	// Message is the remote-supplied "message" field, shown verbatim for 422s.
	Message string
	// Details are the "errors[].message" entries, when present.
	Details []string
	// RateLimitRemaining is -1 when the header was absent.
	RateLimitRemaining int
	// RateLimitReset is when the primary quota refills; zero when not sent.
	RateLimitReset time.Time
	RetryAfter     time.Duration
}

// NewRemoteError builds a RemoteError from a response status, headers and body.
func NewRemoteError(op, method, url string, status int, header http.Header, body []byte) *RemoteError {
	e := &RemoteError{
		Op:                 op,
		Method:             method,
		URL:                url,
		StatusCode:         status,
		RateLimitRemaining: -1,
	}

	if gjson.ValidBytes(body) {
		e.Message = gjson.GetBytes(body, "message").String()
		for _, d := range gjson.GetBytes(body, "errors.#.message").Array() {
			if s := d.String(); s != "" {
				e.Details = append(e.Details, s)
			}
		}
	} else if len(body) > 0 && len(body) < 512 {
		e.Message = strings.TrimSpace(string(body))
	}

	if header != nil {
		if v := header.Get("X-RateLimit-Remaining"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				e.RateLimitRemaining = n
			}
		}
		e.RateLimitReset = parseReset(header.Get("X-RateLimit-Reset"))
		if v := header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}

	return e
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s %s: %d %s", e.Op, e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s %s: %d", e.Op, e.Method, e.URL, e.StatusCode)
}

// Text joins the message and details, for payload-shape matching.
func (e *RemoteError) Text() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

func (e *RemoteError) rateLimited() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if e.StatusCode != http.StatusForbidden {
		return false
	}
	return e.RateLimitRemaining == 0 || strings.Contains(strings.ToLower(e.Message), "rate limit")
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
