package notification

import (
    "context"
    "errors"
    "log/slog"
)

// Channel is the delivery channel of a notification.
type Channel string

const (
    ChannelEmail Channel = "email"
    ChannelPhone Channel = "phone"
)

// Purpose tells the renderer which wording to use for a code.
type Purpose string

const (
    PurposeActivate Purpose = "activate"
    PurposeReset    Purpose = "reset"
)

var (
    // ErrQueueFull is returned when the dispatch queue cannot take more jobs.
    ErrQueueFull = errors.New("notification queue full")
    // ErrQueueClosed is returned after the queue has been shut down.
    ErrQueueClosed = errors.New("notification queue closed")
)

// Message describes a rendered notification payload.
type Message struct {
    Channel     Channel `json:"channel"`
    Destination string  `json:"destination"`
    Subject     string  `json:"subject,omitempty"`
    Body        string  `json:"body"`
}

// Notifier accepts messages for delivery. Implementations must not block on
// the actual delivery.
type Notifier interface {
    Send(ctx context.Context, message Message) error
}

// EmailSender delivers already rendered emails.
type EmailSender interface {
    SendEmail(ctx context.Context, address, subject, body string) error
}

// SMSSender delivers plain text SMS messages.
type SMSSender interface {
    SendSMS(ctx context.Context, number, body string) error
}

// LoggerSender is a stub sender that writes notifications to the logger.
// It is used when no provider credentials are configured.
type LoggerSender struct {
    logger *slog.Logger
}

// NewLoggerSender constructs a logging sender stub.
func NewLoggerSender(logger *slog.Logger) *LoggerSender {
    return &LoggerSender{logger: logger}
}

// SendEmail writes the email to the structured logger.
func (n *LoggerSender) SendEmail(_ context.Context, address, subject, body string) error {
    if n == nil || n.logger == nil {
        return nil
    }
    n.logger.Info("notification", "channel", ChannelEmail, "destination", address, "subject", subject, "body", body)
    return nil
}

// SendSMS writes the SMS to the structured logger.
func (n *LoggerSender) SendSMS(_ context.Context, number, body string) error {
    if n == nil || n.logger == nil {
        return nil
    }
    n.logger.Info("notification", "channel", ChannelPhone, "destination", number, "body", body)
    return nil
}
