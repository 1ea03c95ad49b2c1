// Package notify delivers change alerts to an operator over SMS and email.
//
// The two channels are independent: a failure on one never prevents the
// other from being attempted. [Dispatch] runs both and reports the result of
// each in an [Outcome].
//
// The concrete transports are [ClickSend] for SMS and [SMTP] for email.
// [Pair] joins any two senders into a [Notifier]; tests substitute fakes for
// either side.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Profile is the operator's notification configuration.
//
// A Profile is built once at startup and shared read-only by every monitor.
// Callers must not modify a Profile after handing it to a monitor.
type Profile struct {
	// SenderName is the SMS originator and the email subject line.
	SenderName string

	// MobileNumber receives SMS alerts.
	MobileNumber string

	// RecipientEmail receives email alerts.
	RecipientEmail string

	// SMS holds the SMS gateway credentials.
	SMS SMSCredentials

	// SMTP holds the mail submission server and credentials.
	SMTP SMTPCredentials
}

// SMSCredentials authenticate against the SMS gateway with basic auth.
type SMSCredentials struct {
	Username string
	APIKey   string
}

// SMTPCredentials describe an implicit-TLS mail submission server.
type SMTPCredentials struct {
	Server   string
	Port     int
	Username string
	Password string
}

// Validate reports the first missing or malformed field.
func (p *Profile) Validate() error {
	if p == nil {
		return errors.New("profile is nil")
	}
	required := []struct {
		name, value string
	}{
		{"sender_name", p.SenderName},
		{"mobile_number", p.MobileNumber},
		{"recipient_email_address", p.RecipientEmail},
		{"clicksend_sms_username", p.SMS.Username},
		{"clicksend_sms_api_key", p.SMS.APIKey},
		{"smtp_server", p.SMTP.Server},
		{"smtp_username", p.SMTP.Username},
		{"smtp_password", p.SMTP.Password},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	if p.SMTP.Port < 1 || p.SMTP.Port > 65535 {
		return fmt.Errorf("smtp_port must be between 1 and 65535, got %d", p.SMTP.Port)
	}
	return nil
}

// SMSSender sends a text message to the profile's mobile number.
type SMSSender interface {
	SendSMS(ctx context.Context, p *Profile, message string) error
}

// EmailSender sends a single-recipient email to the profile's address.
type EmailSender interface {
	SendEmail(ctx context.Context, p *Profile, message string) error
}

// Notifier sends alerts over both channels.
type Notifier interface {
	SMSSender
	EmailSender
}

type pair struct {
	SMSSender
	EmailSender
}

// Pair joins an SMS sender and an email sender into a [Notifier].
func Pair(sms SMSSender, email EmailSender) Notifier {
	return pair{SMSSender: sms, EmailSender: email}
}

// Outcome records the result of each channel for one alert.
// A nil field means that channel succeeded.
type Outcome struct {
	SMS   error
	Email error
}

// OK reports whether both channels succeeded.
func (o Outcome) OK() bool {
	return o.SMS == nil && o.Email == nil
}

// Err joins the channel errors, or returns nil if both succeeded.
func (o Outcome) Err() error {
	var errs []error
	if o.SMS != nil {
		errs = append(errs, fmt.Errorf("sms: %w", o.SMS))
	}
	if o.Email != nil {
		errs = append(errs, fmt.Errorf("email: %w", o.Email))
	}
	return errors.Join(errs...)
}

// Dispatch sends message over SMS and then email.
//
// Both channels are always attempted. A panic inside either sender is
// recovered and reported as that channel's error.
func Dispatch(ctx context.Context, n Notifier, p *Profile, message string) Outcome {
	return Outcome{
		SMS:   safeSend(func() error { return n.SendSMS(ctx, p, message) }),
		Email: safeSend(func() error { return n.SendEmail(ctx, p, message) }),
	}
}

func safeSend(send func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return send()
}
