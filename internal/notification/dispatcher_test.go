package notification

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/photogram/photogram_api/internal/logging"
)

type recordingSender struct {
	mu       sync.Mutex
	failures int
	emails   []Message
	sms      []Message
	done     chan struct{}
}

func newRecordingSender(failures int) *recordingSender {
	return &recordingSender{failures: failures, done: make(chan struct{}, 8)}
}

func (s *recordingSender) SendEmail(_ context.Context, address, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("provider down")
	}
	s.emails = append(s.emails, Message{Channel: ChannelEmail, Destination: address, Subject: subject, Body: body})
	s.done <- struct{}{}
	return nil
}

func (s *recordingSender) SendSMS(_ context.Context, number, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("provider down")
	}
	s.sms = append(s.sms, Message{Channel: ChannelPhone, Destination: number, Body: body})
	s.done <- struct{}{}
	return nil
}

func waitDelivered(t *testing.T, s *recordingSender) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("message was not delivered")
	}
}

func TestDispatcherDeliversInBackground(t *testing.T) {
	sender := newRecordingSender(0)
	d := NewDispatcher(DispatcherConfig{Workers: 1, Backoff: time.Millisecond}, NewMemoryQueue(4), sender, sender, logging.Discard(), nil)
	d.Start(context.Background())
	defer d.Stop()

	msg, err := CodeMessage(ChannelPhone, "+998901234567", "123456", PurposeActivate, 5*time.Minute)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if err := d.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitDelivered(t, sender)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sms) != 1 || !strings.Contains(sender.sms[0].Body, "123456") {
		t.Fatalf("unexpected sms: %+v", sender.sms)
	}
}

func TestDispatcherRetriesWithBackoff(t *testing.T) {
	sender := newRecordingSender(2)
	d := NewDispatcher(DispatcherConfig{Workers: 1, MaxAttempts: 3, Backoff: time.Millisecond}, NewMemoryQueue(4), sender, sender, logging.Discard(), nil)
	d.Start(context.Background())
	defer d.Stop()

	msg, _ := CodeMessage(ChannelEmail, "user@example.com", "654321", PurposeActivate, 5*time.Minute)
	if err := d.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitDelivered(t, sender)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.emails) != 1 || sender.emails[0].Subject != "Activate Your Account" {
		t.Fatalf("unexpected emails: %+v", sender.emails)
	}
}

func TestMemoryQueueFullAndClosed(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	if err := q.Push(ctx, Job{}); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := q.Push(ctx, Job{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	_ = q.Close()
	if err := q.Push(ctx, Job{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected queue closed, got %v", err)
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedisQueue(client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	want := Message{Channel: ChannelPhone, Destination: "+998901234567", Body: "code 1"}
	if err := q.Push(ctx, Job{Message: want}); err != nil {
		t.Fatalf("push: %v", err)
	}
	job, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if job.Message != want {
		t.Fatalf("expected %+v got %+v", want, job.Message)
	}
}

func TestCodeMessageRendersEmailTemplate(t *testing.T) {
	msg, err := CodeMessage(ChannelEmail, "user@example.com", "998877", PurposeReset, 5*time.Minute)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "Reset Your Password" || !strings.Contains(msg.Body, "998877") || !strings.Contains(msg.Body, "5m0s") {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestTwilioSenderPostsForm(t *testing.T) {
	var gotPath, gotBody, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "secret", "+15005550006", srv.URL)
	if err := s.SendSMS(context.Background(), "+998901234567", "hello"); err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" || gotUser != "AC123" {
		t.Fatalf("unexpected request path=%s user=%s", gotPath, gotUser)
	}
	if !strings.Contains(gotBody, "Body=hello") {
		t.Fatalf("unexpected body %s", gotBody)
	}
}

func TestBrevoSenderReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "key" {
			t.Errorf("missing api key header")
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_parameter"}`))
	}))
	defer srv.Close()

	s := NewBrevoSender("key", "noreply@photogram.app", "Photogram", srv.URL)
	err := s.SendEmail(context.Background(), "user@example.com", "subject", "<p>hi</p>")
	if err == nil || !strings.Contains(err.Error(), "brevo status 400") {
		t.Fatalf("expected brevo failure, got %v", err)
	}
}
