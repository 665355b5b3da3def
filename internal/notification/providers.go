package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	twilioBaseURL = "https://api.twilio.com"
	brevoBaseURL  = "https://api.brevo.com"
)

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// TwilioSender sends SMS through the Twilio REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewTwilioSender builds an SMS sender. baseURL may be empty.
func NewTwilioSender(accountSID, authToken, from, baseURL string) *TwilioSender {
	if baseURL == "" {
		baseURL = twilioBaseURL
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		breaker:    newBreaker("twilio"),
	}
}

// SendSMS posts the message to Twilio.
func (s *TwilioSender) SendSMS(ctx context.Context, number, body string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.send(ctx, number, body)
	})
	return err
}

func (s *TwilioSender) send(ctx context.Context, number, body string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	form := url.Values{}
	form.Set("To", number)
	form.Set("From", s.from)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("twilio status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// BrevoSender sends transactional email through the Brevo v3 API.
type BrevoSender struct {
	apiKey      string
	senderEmail string
	senderName  string
	baseURL     string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
}

// NewBrevoSender builds an email sender. baseURL may be empty.
func NewBrevoSender(apiKey, senderEmail, senderName, baseURL string) *BrevoSender {
	if baseURL == "" {
		baseURL = brevoBaseURL
	}
	return &BrevoSender{
		apiKey:      apiKey,
		senderEmail: senderEmail,
		senderName:  senderName,
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: 10 * time.Second},
		breaker:     newBreaker("brevo"),
	}
}

type brevoRequest struct {
	Sender      map[string]string   `json:"sender"`
	To          []map[string]string `json:"to"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"htmlContent"`
}

// SendEmail posts the rendered email to Brevo.
func (s *BrevoSender) SendEmail(ctx context.Context, address, subject, body string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.send(ctx, address, subject, body)
	})
	return err
}

func (s *BrevoSender) send(ctx context.Context, address, subject, body string) error {
	payload, err := json.Marshal(brevoRequest{
		Sender:      map[string]string{"email": s.senderEmail, "name": s.senderName},
		To:          []map[string]string{{"email": address}},
		Subject:     subject,
		HTMLContent: body,
	})
	if err != nil {
		return fmt.Errorf("encode brevo request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/smtp/email", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build brevo request: %w", err)
	}
	req.Header.Set("api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("brevo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("brevo status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
