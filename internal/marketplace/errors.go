package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the marketplace. Message is the
// server's own text, passed through verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace returned %d: %s", e.Status, e.Message)
}

// parseAPIError builds an APIError from a response body.
func parseAPIError(status int, body []byte) error {
	var resp errorResponse
	_ = json.Unmarshal(body, &resp)

	msg := resp.Message
	if msg == "" {
		msg = resp.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// MessageOf returns the server message carried by err, or err's own text.
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsUnauthorized reports a 401 or 403 from the marketplace.
func IsUnauthorized(err error) bool {
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

// IsNotFound reports a 404 from the marketplace.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}
