package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
	"github.com/wneessen/go-mail/smtp"
)

// EmailConfig describes the SMTP relay and recipients.
type EmailConfig struct {
	Host       string
	Port       int
	Address    string // sender address, also the SMTP username
	Password   string
	FromName   string
	Recipients []string
}

// Email sends change reports through an SMTP relay. It is critical: a
// failed send is reported to the caller of Dispatch.
type Email struct {
	cfg EmailConfig
	// dial is swapped in tests.
	dial func(ctx context.Context, msg *mail.Msg) error
}

func NewEmail(cfg EmailConfig) (*Email, error) {
	if cfg.Host == "" {
		return nil, errors.New("email: smtp host is empty")
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("email: no recipients")
	}
	e := &Email{cfg: cfg}
	e.dial = e.dialAndSend
	return e, nil
}

func (e *Email) Name() string        { return "email" }
func (e *Email) Accepts(k Kind) bool { return k == KindChange }
func (e *Email) Critical() bool      { return true }

func (e *Email) Send(ctx context.Context, m Message) error {
	msg, err := e.build(m)
	if err != nil {
		return err
	}
	return e.dial(ctx, msg)
}

func (e *Email) build(m Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(e.cfg.FromName, e.cfg.Address); err != nil {
		return nil, fmt.Errorf("email: from: %w", err)
	}
	if err := msg.To(e.cfg.Recipients...); err != nil {
		return nil, fmt.Errorf("email: to: %w", err)
	}
	msg.Subject(m.Title)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	return msg, nil
}

func (e *Email) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithPort(e.cfg.Port),
	}
	if e.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuthCustom(&relayAuth{
				user: e.cfg.Address,
				pass: e.cfg.Password,
				host: e.cfg.Host,
			}),
		)
	}
	c, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("email: client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("email: send via %s:%d: %w", e.cfg.Host, e.cfg.Port, err)
	}
	return nil
}

// relayAuth picks a SASL mechanism from the ones the relay advertises in
// its EHLO reply, strongest first. PLAIN and LOGIN are allowed without TLS
// so plain port-25 relays keep working.
type relayAuth struct {
	user, pass, host string
	picked           smtp.Auth
}

var authPreference = []string{"SCRAM-SHA-256", "SCRAM-SHA-1", "CRAM-MD5", "PLAIN", "LOGIN"}

func (a *relayAuth) Start(s *smtp.ServerInfo) (string, []byte, error) {
	a.picked = nil
	for _, mech := range authPreference {
		if !offers(s.Auth, mech) {
			continue
		}
		a.picked = a.mechanism(mech)
		// PLAIN and LOGIN check the server name against the configured host.
		info := *s
		info.Name = a.host
		return a.picked.Start(&info)
	}
	return "", nil, fmt.Errorf("email: relay offers no usable auth mechanism (offered: %q)", strings.Join(s.Auth, " "))
}

func (a *relayAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if a.picked == nil {
		return nil, errors.New("email: auth exchange before mechanism selection")
	}
	return a.picked.Next(fromServer, more)
}

func (a *relayAuth) mechanism(name string) smtp.Auth {
	switch name {
	case "SCRAM-SHA-256":
		return smtp.ScramSHA256Auth(a.user, a.pass)
	case "SCRAM-SHA-1":
		return smtp.ScramSHA1Auth(a.user, a.pass)
	case "CRAM-MD5":
		return smtp.CRAMMD5Auth(a.user, a.pass)
	case "PLAIN":
		return smtp.PlainAuth("", a.user, a.pass, a.host, true)
	default:
		return smtp.LoginAuth(a.user, a.pass, a.host, true)
	}
}

func offers(offered []string, mech string) bool {
	for _, m := range offered {
		if strings.EqualFold(m, mech) {
			return true
		}
	}
	return false
}
