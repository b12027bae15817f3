// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/gateway/core/schema"
)

// Kind is the category of a failed request
type Kind string

// The closed set of error kinds. KindHTTP is the passthrough for statuses without a
// dedicated kind; its message is the one supplied by the server.
const (
	KindNetwork      Kind = "NETWORK_ERROR"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindValidation   Kind = "VALIDATION_ERROR"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindServer       Kind = "SERVER_ERROR"
	KindHTTP         Kind = "HTTP_ERROR"
)

var defaultMessages = map[Kind]string{
	KindNetwork:      "Network error. Please check your internet connection.",
	KindUnauthorized: "Your session has expired. Please log in again.",
	KindForbidden:    "You do not have permission to perform this action.",
	KindNotFound:     "The requested resource was not found.",
	KindValidation:   "Please check your input and try again.",
	KindRateLimited:  "Too many requests. Please try again later.",
	KindServer:       "Server error. Please try again later.",
}

// ErrNoRefreshToken is the refresh error when the session holds no refresh credential
var ErrNoRefreshToken = errors.New("no refresh token")

// ErrLoggedOut is the error of authentication failures after the session was logged out
var ErrLoggedOut = errors.New("session is logged out")

// Error is the single structured error every failed request is rejected with
type Error struct {
	Kind Kind `json:"kind"`
	// Status is the HTTP status, 0 if no response was received
	Status int `json:"status,omitempty"`
	// Message is the user-facing message
	Message string `json:"message"`
	// Detail is the message supplied by the server, if any
	Detail string `json:"detail,omitempty"`
	// Fields maps field names to validation messages (VALIDATION_ERROR only)
	Fields map[string]string `json:"fields,omitempty"`
	// RetryAfter is the number of seconds to wait (RATE_LIMITED only)
	RetryAfter int `json:"retryAfter,omitempty"`

	cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		b.WriteString(" (" + strconv.Itoa(e.Status) + ")")
	}
	b.WriteString(": " + e.Message)
	if e.cause != nil {
		b.WriteString(": " + e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the kind of err, or an empty kind if err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind returns true if err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func newError(kind Kind, status int, cause error) *Error {
	return &Error{Kind: kind, Status: status, Message: defaultMessages[kind], cause: cause}
}

// networkError wraps a transport failure, no response was received
func networkError(err error) *Error {
	return newError(KindNetwork, 0, err)
}

// unauthorized wraps a failed or impossible credential refresh
func unauthorized(err error) *Error {
	return newError(KindUnauthorized, http.StatusUnauthorized, err)
}

// InvalidResponse wraps a successful response whose body does not have the expected shape
func InvalidResponse(status int, err error) *Error {
	return &Error{Kind: KindHTTP, Status: status, Message: "The server sent an unexpected response.", cause: err}
}

// errorBody is the error envelope the API answers with
type errorBody struct {
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	RetryAfter float64         `json:"retryAfter"`
	Errors     json.RawMessage `json:"errors"`
}

type fieldError struct {
	Field   string `json:"field"`
	Param   string `json:"param"`
	Path    string `json:"path"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
}

// normalizeResponse maps an HTTP error response to an *Error
func normalizeResponse(status int, header http.Header, body []byte, now time.Time) *Error {
	var eb errorBody
	if len(body) > 0 && validErrorBody(body) {
		json.Unmarshal(body, &eb)
	}
	detail := eb.Message
	if detail == "" {
		detail = eb.Error
	}

	var e *Error
	switch {
	case status == http.StatusUnauthorized:
		e = newError(KindUnauthorized, status, nil)
	case status == http.StatusForbidden:
		e = newError(KindForbidden, status, nil)
	case status == http.StatusNotFound:
		e = newError(KindNotFound, status, nil)
	case status == http.StatusUnprocessableEntity:
		e = newError(KindValidation, status, nil)
		e.Fields = parseFieldErrors(eb.Errors)
	case status == http.StatusTooManyRequests:
		e = newError(KindRateLimited, status, nil)
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"), now)
		if e.RetryAfter == 0 && eb.RetryAfter > 0 {
			e.RetryAfter = int(eb.RetryAfter + 0.5)
		}
	case status >= 500:
		e = newError(KindServer, status, nil)
	default:
		e = &Error{Kind: KindHTTP, Status: status, Message: detail}
		if e.Message == "" {
			e.Message = fmt.Sprintf("Request failed with status code %d", status)
		}
	}
	e.Detail = detail
	return e
}

func validErrorBody(body []byte) bool {
	v, err := schema.Auth()
	if err != nil {
		return false
	}
	return v.ValidateBytes(body, schema.ErrorResponseID) == nil
}

// parseFieldErrors accepts {"field":"message"}, {"field":["message",...]} and
// [{"param":"field","msg":"message"}, ...]
func parseFieldErrors(raw json.RawMessage) map[string]string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	fields := map[string]string{}
	var asObject map[string]interface{}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		for field, value := range asObject {
			switch v := value.(type) {
			case string:
				fields[field] = v
			case []interface{}:
				var msgs []string
				for _, m := range v {
					if s, ok := m.(string); ok {
						msgs = append(msgs, s)
					}
				}
				fields[field] = strings.Join(msgs, "; ")
			}
		}
		return fields
	}
	var asList []fieldError
	if err := json.Unmarshal(raw, &asList); err == nil {
		for _, fe := range asList {
			field := firstNonEmpty(fe.Field, fe.Param, fe.Path)
			msg := firstNonEmpty(fe.Msg, fe.Message)
			if field == "" {
				continue
			}
			if prev, ok := fields[field]; ok {
				msg = prev + "; " + msg
			}
			fields[field] = msg
		}
	}
	return fields
}

// parseRetryAfter reads delay-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return seconds
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return int((d + time.Second - 1) / time.Second)
		}
	}
	return 0
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}

// FieldNames returns the sorted names of all fields with validation errors
func (e *Error) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
