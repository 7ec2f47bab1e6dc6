package issuer

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a failed download attempt.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindTimeout
	KindInsecure
	KindStatus
	KindMalformed
	KindRejected
	KindDownload
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindConnection: "connection",
	KindTimeout:    "timeout",
	KindInsecure:   "insecure",
	KindStatus:     "status",
	KindMalformed:  "malformed",
	KindRejected:   "rejected",
	KindDownload:   "download",
	KindCanceled:   "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned for every failure in the issue/download flow.
type Error struct {
	Kind   Kind
	Status int    // HTTP status, KindStatus only
	Msg    string // server or status text
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Message renders the text shown to the user. server names the host the
// download URL was requested from.
func (e *Error) Message(server string) string {
	switch e.Kind {
	case KindConnection:
		return fmt.Sprintf("Cannot connect to server: %s\n\n"+
			"This usually means:\n"+
			"1. Server is down\n"+
			"2. Server does not have HTTPS/SSL certificate\n"+
			"3. Firewall blocking the connection\n\n"+
			"Please contact administrator to set up HTTPS on the server.", server)
	case KindTimeout:
		return fmt.Sprintf("Server %s did not respond in time.\n\nPlease try again later.", server)
	case KindInsecure:
		return fmt.Sprintf("Security error: the connection to %s is not secure.\n\n"+
			"The server needs a valid SSL certificate for HTTPS.", server)
	case KindStatus, KindRejected, KindMalformed:
		return e.Msg
	case KindDownload:
		if e.Err != nil {
			return "The file could not be saved: " + e.Err.Error()
		}
		return "The file could not be saved."
	case KindCanceled:
		return "Download canceled."
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message renders any error for the user: typed errors by kind, anything
// else by its raw text.
func Message(err error, server string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message(server)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Classify wraps a transport-level error in an *Error of the matching kind.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCanceled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var (
		unknownAuth x509.UnknownAuthorityError
		hostname    x509.HostnameError
		invalid     x509.CertificateInvalidError
	)
	if errors.As(err, &unknownAuth) || errors.As(err, &hostname) || errors.As(err, &invalid) ||
		strings.Contains(err.Error(), "server gave HTTP response to HTTPS client") {
		return &Error{Kind: KindInsecure, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}

	return &Error{Kind: KindConnection, Err: err}
}
