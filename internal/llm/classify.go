package llm

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
)

type FailureClass int

const (
	FailureNone FailureClass = iota
	FailureTimeout
	FailureRateLimit
	FailureServer
	FailureClient
	FailureCanceled
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureRateLimit:
		return "rate_limit"
	case FailureServer:
		return "server"
	case FailureClient:
		return "client"
	case FailureCanceled:
		return "canceled"
	}
	return "unknown"
}

// Transient failures are worth another attempt.
func (c FailureClass) Transient() bool {
	return c == FailureTimeout || c == FailureRateLimit || c == FailureServer
}

// StatusError is an HTTP failure from an upstream API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := "upstream status " + strconv.Itoa(e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

// Classify maps a transport error onto a failure class.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode)
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return classifyStatus(code)
	}
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return FailureRateLimit
	case strings.Contains(msg, "server error") || strings.Contains(msg, "overloaded"):
		return FailureServer
	default:
		return FailureServer
	}
}

func classifyStatus(code int) FailureClass {
	switch {
	case code == 429:
		return FailureRateLimit
	case code == 408:
		return FailureTimeout
	case code >= 500:
		return FailureServer
	case code >= 400:
		return FailureClient
	}
	return FailureServer
}
