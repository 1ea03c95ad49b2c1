package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// DefaultClickSendURL is the ClickSend REST endpoint for sending SMS.
const DefaultClickSendURL = "https://rest.clicksend.com/v3/sms/send"

const (
	defaultSMSTimeout = 15 * time.Second

	// maxErrorBody caps how much of a failed gateway response is kept.
	maxErrorBody = 512
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SMSError is returned when the gateway rejects a message or cannot be reached.
type SMSError struct {
	// StatusCode is the gateway's HTTP status, zero if no response was received.
	StatusCode int

	// Body is the start of the gateway's response body.
	Body string

	// Err is the transport error, if any.
	Err error
}

func (e *SMSError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sms gateway request failed: %v", e.Err)
	}
	return fmt.Sprintf("sms gateway returned status %d: %s", e.StatusCode, e.Body)
}

func (e *SMSError) Unwrap() error { return e.Err }

type smsMessage struct {
	Body string `json:"body"`
	To   string `json:"to"`
	From string `json:"from"`
}

type smsRequest struct {
	Messages []smsMessage `json:"messages"`
}

// ClickSend sends SMS through the ClickSend v3 REST API.
type ClickSend struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
}

// ClickSendOption configures a [ClickSend] client.
type ClickSendOption func(*ClickSend)

// WithEndpoint overrides the gateway URL. Empty values are ignored.
func WithEndpoint(url string) ClickSendOption {
	return func(c *ClickSend) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// WithHTTPClient sets the HTTP client used for gateway requests.
func WithHTTPClient(hc *http.Client) ClickSendOption {
	return func(c *ClickSend) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSMSTimeout bounds each gateway request.
func WithSMSTimeout(d time.Duration) ClickSendOption {
	return func(c *ClickSend) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClickSend creates a ClickSend client targeting [DefaultClickSendURL].
func NewClickSend(opts ...ClickSendOption) *ClickSend {
	c := &ClickSend{
		endpoint:   DefaultClickSendURL,
		httpClient: &http.Client{},
		timeout:    defaultSMSTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendSMS posts a single message addressed to p.MobileNumber from
// p.SenderName. Any response other than 200 is an *SMSError.
func (c *ClickSend) SendSMS(ctx context.Context, p *Profile, message string) error {
	payload, err := json.Marshal(smsRequest{
		Messages: []smsMessage{{
			Body: message,
			To:   p.MobileNumber,
			From: p.SenderName,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to encode sms payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &SMSError{Err: err}
	}
	req.SetBasicAuth(p.SMS.Username, p.SMS.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SMSError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &SMSError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
