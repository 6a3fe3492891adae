package mail

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
)

var (
	// ErrExhausted is matched by errors.Is on the terminal error returned once
	// every transport used up its retries.
	ErrExhausted = errors.New("mail delivery exhausted all transports")

	ErrSTARTTLSUnsupported = errors.New("relay does not advertise STARTTLS")
	ErrAuthUnsupported     = errors.New("relay does not advertise AUTH")
)

// ErrorClass tells the dispatcher whether retrying the same transport can help.
type ErrorClass int

const (
	// Transient failures (timeouts, refused connections, 4xx replies) are retried in place.
	Transient ErrorClass = iota
	// AuthRejected skips the remaining retries of the transport.
	AuthRejected
	// ConfigInvalid skips the remaining retries of the transport.
	ConfigInvalid
)

func (c ErrorClass) String() string {
	switch c {
	case Transient:
		return "transient"
	case AuthRejected:
		return "auth_rejected"
	case ConfigInvalid:
		return "config_invalid"
	default:
		return "unknown"
	}
}

// AttemptError is one failed try against one transport.
type AttemptError struct {
	Class     ErrorClass
	Transport string
	Retry     int
	Err       error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("transport %s (retry %d, %s): %v", e.Transport, e.Retry, e.Class, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// ExhaustedError is the terminal failure of a dispatch call. It wraps the last
// observed attempt error.
type ExhaustedError struct {
	Attempts   int
	Transports []string
	Last       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("mail delivery failed after %d attempts on transports [%s]: %v",
		e.Attempts, strings.Join(e.Transports, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Classify maps a send error to an ErrorClass. Anything not recognised as an
// authentication or configuration problem is treated as transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return Transient
	}

	var attemptErr *AttemptError
	if errors.As(err, &attemptErr) {
		return attemptErr.Class
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case 530, 534, 535, 538:
			return AuthRejected
		}
		return Transient
	}

	if errors.Is(err, ErrSTARTTLSUnsupported) || errors.Is(err, ErrAuthUnsupported) {
		return ConfigInvalid
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ConfigInvalid
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		// plain text answer on a TLS connection: security mode and port disagree
		return ConfigInvalid
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return ConfigInvalid
	}

	return Transient
}
