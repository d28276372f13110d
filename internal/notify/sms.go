package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/models"
)

// SmsConfig holds the HTTP gateway settings
type SmsConfig struct {
	URL     string
	Token   string
	Retries int
}

// SmsNotifier posts the short text to an SMS gateway
type SmsNotifier struct {
	client *retryablehttp.Client
	url    string
	token  string
}

type smsRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// leveledLogger adapts logrus to the retryablehttp logger
type leveledLogger struct {
	entry *logrus.Entry
}

func (l leveledLogger) fields(kv []interface{}) *logrus.Entry {
	e := l.entry
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.WithField(fmt.Sprint(kv[i]), kv[i+1])
	}
	return e
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.fields(kv).Error(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.fields(kv).Warn(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.fields(kv).Debug(msg) }

// NewSmsNotifier creates a gateway client
func NewSmsNotifier(cfg SmsConfig) *SmsNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = leveledLogger{entry: logging.Component("sms")}
	return &SmsNotifier{client: client, url: cfg.URL, token: cfg.Token}
}

// Notify sends the short text to the contact number
func (n *SmsNotifier) Notify(ctx context.Context, contact models.Contact, msg Message) error {
	if contact.Sms == nil || contact.Sms.Number == "" {
		return ErrNoTarget
	}

	body, err := json.Marshal(smsRequest{Number: contact.Sms.Number, Text: msg.Short})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway: %s", resp.Status)
	}
	return nil
}
