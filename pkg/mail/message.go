package mail

import (
	"errors"
	"fmt"
	netmail "net/mail"
)

// ErrInvalidMessage is returned (wrapped) when a Message cannot be sent as given.
var ErrInvalidMessage = errors.New("invalid mail message")

// Message is a single outbound mail request. It is passed by value and not
// retained after Send returns.
type Message struct {
	To      []string
	Subject string
	HTML    string
	// From overrides the dispatcher's default sender ("Name <addr>" or bare address).
	From    string
	ReplyTo string
}

// Result describes a successful delivery.
type Result struct {
	MessageID string `json:"messageId"`
	Transport string `json:"transport"`
	Attempts  int    `json:"attempts"`
}

// Validate checks the fields the relay needs. From may be empty here; the
// dispatcher fills in its default sender before validating.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalidMessage)
	}
	for _, to := range m.To {
		if _, err := netmail.ParseAddress(to); err != nil {
			return fmt.Errorf("%w: recipient %q: %v", ErrInvalidMessage, to, err)
		}
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidMessage)
	}
	if m.From != "" {
		if _, err := netmail.ParseAddress(m.From); err != nil {
			return fmt.Errorf("%w: sender %q: %v", ErrInvalidMessage, m.From, err)
		}
	}
	if m.ReplyTo != "" {
		if _, err := netmail.ParseAddress(m.ReplyTo); err != nil {
			return fmt.Errorf("%w: reply-to %q: %v", ErrInvalidMessage, m.ReplyTo, err)
		}
	}
	return nil
}

// FormatAddress renders a display name and address as a header value.
func FormatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return (&netmail.Address{Name: name, Address: address}).String()
}
