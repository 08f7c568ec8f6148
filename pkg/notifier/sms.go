package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
)

// SMSAdapter posts messages to an HTTP SMS gateway. The gateway's wire format
// is form-encoded; a non-2xx response or an error status in the JSON body is
// a send failure.
type SMSAdapter struct {
	baseURL  string
	apiKey   string
	senderID string
	dir      Directory
	client   *http.Client
	logger   *zap.Logger
}

func NewSMSAdapter(baseURL, apiKey, senderID string, dir Directory, logger *zap.Logger) *SMSAdapter {
	return &SMSAdapter{
		baseURL:  baseURL,
		apiKey:   apiKey,
		senderID: senderID,
		dir:      dir,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

func (s *SMSAdapter) Channel() domain.Channel { return domain.ChannelSMS }

type smsGatewayResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (s *SMSAdapter) Send(ctx context.Context, n *domain.Notification, _ *domain.Delivery) (*Result, error) {
	recipient, err := s.dir.Phone(ctx, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve phone for user %s: %w", n.UserID, err)
	}

	body := n.Title
	if n.Message != "" {
		body = n.Title + ": " + n.Message
	}

	form := url.Values{}
	form.Set("apikey", s.apiKey)
	form.Set("senderid", s.senderID)
	form.Set("msgType", "text")
	form.Set("msg", body)
	form.Set("mobile", recipient)
	form.Set("duplicatecheck", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var gw smsGatewayResponse
	if err := json.Unmarshal(raw, &gw); err == nil && gw.Status != "" && gw.Status != "ok" && gw.Status != "success" {
		return nil, fmt.Errorf("sms gateway rejected message: %s", gw.Error)
	}

	s.logger.Debug("sms sent",
		zap.String("user_id", n.UserID),
		zap.Duration("took", time.Since(start)))

	return &Result{ProviderMessageID: gw.MessageID, Sent: 1}, nil
}
