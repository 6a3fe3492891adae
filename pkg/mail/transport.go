package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	netmail "net/mail"
	"net/smtp"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/telekom/taskmail/pkg/config"
)

// Transport sends one message through one relay configuration.
type Transport interface {
	Send(ctx context.Context, msg Message) (Result, error)
	Config() config.TransportConfig
	Close() error
}

// TransportFactory builds a transport for a configuration. It must not
// perform network I/O; connecting happens during Send.
type TransportFactory func(cfg config.TransportConfig) (Transport, error)

type smtpTransport struct {
	cfg       config.TransportConfig
	localName string
}

// NewSMTPTransport is the default TransportFactory. Every Send opens its own
// SMTP session, so a transport replaced while a send is in flight stays usable.
func NewSMTPTransport(cfg config.TransportConfig) (Transport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("transport %s: empty host", cfg.Name)
	}
	localName, err := os.Hostname()
	if err != nil || localName == "" {
		localName = "localhost"
	}
	return &smtpTransport{cfg: cfg, localName: localName}, nil
}

func (t *smtpTransport) Config() config.TransportConfig {
	return t.cfg
}

func (t *smtpTransport) Close() error {
	return nil
}

func (t *smtpTransport) Send(ctx context.Context, msg Message) (Result, error) {
	from, err := netmail.ParseAddress(msg.From)
	if err != nil {
		return Result{}, &AttemptError{Class: ConfigInvalid, Transport: t.cfg.Name, Err: fmt.Errorf("sender address: %w", err)}
	}
	to := make([]*netmail.Address, 0, len(msg.To))
	rcpts := make([]string, 0, len(msg.To))
	for _, raw := range msg.To {
		addr, err := netmail.ParseAddress(raw)
		if err != nil {
			return Result{}, &AttemptError{Class: ConfigInvalid, Transport: t.cfg.Name, Err: fmt.Errorf("recipient address: %w", err)}
		}
		to = append(to, addr)
		rcpts = append(rcpts, addr.Address)
	}
	var replyTo *netmail.Address
	if msg.ReplyTo != "" {
		if replyTo, err = netmail.ParseAddress(msg.ReplyTo); err != nil {
			return Result{}, &AttemptError{Class: ConfigInvalid, Transport: t.cfg.Name, Err: fmt.Errorf("reply-to address: %w", err)}
		}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(from.Address))
	m := compose(msg.Subject, msg.HTML, from, to, replyTo, messageID)

	conn, err := t.dial(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = conn.Close() }()

	// unblock any pending read/write when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(t.cfg.GreetingTimeout)); err != nil {
		return Result{}, fmt.Errorf("set greeting deadline: %w", err)
	}
	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		return Result{}, fmt.Errorf("greeting: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := t.session(ctx, c, conn, from.Address, rcpts, m); err != nil {
		return Result{}, err
	}
	return Result{MessageID: messageID, Transport: t.cfg.Name}, nil
}

func (t *smtpTransport) session(ctx context.Context, c *smtp.Client, conn net.Conn, from string, rcpts []string, m *gomail.Message) error {
	extend := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return conn.SetDeadline(time.Now().Add(t.cfg.SocketTimeout))
	}

	if err := extend(); err != nil {
		return err
	}
	if err := c.Hello(t.localName); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	if t.cfg.Security == config.SecurityStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return &AttemptError{Class: ConfigInvalid, Transport: t.cfg.Name, Err: ErrSTARTTLSUnsupported}
		}
		if err := c.StartTLS(t.cfg.TLSConfig()); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
		if err := extend(); err != nil {
			return err
		}
	}

	if t.cfg.HasCredentials() {
		if ok, _ := c.Extension("AUTH"); !ok {
			return &AttemptError{Class: ConfigInvalid, Transport: t.cfg.Name, Err: ErrAuthUnsupported}
		}
		if err := c.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
			var protoErr *textproto.Error
			if errors.As(err, &protoErr) {
				return fmt.Errorf("auth: %w", err)
			}
			// net/smtp refuses PLAIN over an unencrypted connection to a remote host
			return &AttemptError{Class: ConfigInvalid, Transport: t.cfg.Name, Err: fmt.Errorf("auth: %w", err)}
		}
	}

	if err := extend(); err != nil {
		return err
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	if err := extend(); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := m.WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}

	if err := extend(); err != nil {
		return err
	}
	// the relay accepted the message when DATA closed
	_ = c.Quit()
	return nil
}

func (t *smtpTransport) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: t.cfg.ConnectionTimeout}
	addr := t.cfg.Address()

	if t.cfg.Security == config.SecurityTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: t.cfg.TLSConfig()}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial tls %s: %w", addr, err)
		}
		return conn, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// compose builds the MIME message. Addresses go through FormatAddress so
// non-ASCII display names are encoded without touching the address part.
func compose(subject, html string, from *netmail.Address, to []*netmail.Address, replyTo *netmail.Address, messageID string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("Message-Id", messageID)
	m.SetAddressHeader("From", from.Address, from.Name)
	rcpts := make([]string, 0, len(to))
	for _, addr := range to {
		rcpts = append(rcpts, m.FormatAddress(addr.Address, addr.Name))
	}
	m.SetHeader("To", rcpts...)
	if replyTo != nil {
		m.SetAddressHeader("Reply-To", replyTo.Address, replyTo.Name)
	}
	m.SetHeader("Subject", subject)
	m.SetDateHeader("Date", time.Now())
	m.SetBody("text/html", html)
	return m
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "localhost"
}
