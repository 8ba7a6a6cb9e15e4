// Package failure classifies upstream failures (connector calls, fetches)
// into the buckets a discovery run aggregates.
package failure

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind is the failure bucket an upstream error is counted under
type Kind string

const (
	KindTimeout              Kind = "timeout"
	KindBlocked              Kind = "blocked"
	KindSSRFRejected         Kind = "ssrf_rejected"
	KindTLS                  Kind = "tls_error"
	KindDNS                  Kind = "dns_error"
	KindHTTP                 Kind = "http_error"
	KindConnection           Kind = "connection_error"
	KindRobotsDisallowed     Kind = "robots_disallowed"
	KindParse                Kind = "parse_error"
	KindConnectorUnavailable Kind = "connector_unavailable"
	KindOther                Kind = "other"
)

// ErrSSRF is returned by the dial guard when a host resolves to a disallowed address
var ErrSSRF = errors.New("destination address not allowed")

// ErrRobotsDisallowed is returned when robots.txt forbids the fetch
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// ErrUnavailable marks a capability that is not configured
var ErrUnavailable = errors.New("capability unavailable")

// Error is a classified upstream failure.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d for %s", e.Kind, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("%s: %v for %s", e.Kind, e.Cause, e.URL)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified failure
func New(kind Kind, url string, cause error) *Error {
	return &Error{Kind: kind, URL: url, Cause: cause}
}

// FromStatus classifies a non-success HTTP status
func FromStatus(statusCode int, url string) *Error {
	cause := fmt.Errorf("HTTP %d", statusCode)
	switch statusCode {
	case http.StatusForbidden, http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusUnavailableForLegalReasons:
		return &Error{Kind: KindBlocked, URL: url, StatusCode: statusCode, Cause: cause}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, URL: url, StatusCode: statusCode, Cause: cause}
	}
	return &Error{Kind: KindHTTP, URL: url, StatusCode: statusCode, Cause: cause}
}

// Classify maps any error to a classified failure. Already classified
// errors are returned as is.
func Classify(err error, url string) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: KindOf(err), URL: url, Cause: err}
}

// KindOf returns the bucket for err
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrSSRF):
		return KindSSRFRejected
	case errors.Is(err, ErrRobotsDisallowed):
		return KindRobotsDisallowed
	case errors.Is(err, ErrUnavailable):
		return KindConnectorUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var certErr x509.CertificateInvalidError
	if errors.As(err, &unknownAuth) || errors.As(err, &hostErr) || errors.As(err, &certErr) {
		return KindTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}

	// some transports only surface text
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return KindTLS
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "no such host"):
		return KindDNS
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset"):
		return KindConnection
	}
	return KindOther
}
