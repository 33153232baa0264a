package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig JSON 邮件服务商 API 配置
type HTTPConfig struct {
	APIURL  string
	APIKey  string
	From    string
	ReplyTo string
	Timeout time.Duration
}

// HTTPSender 通过服务商的 POST /emails 接口发送
type HTTPSender struct {
	cfg        HTTPConfig
	httpClient *http.Client
}

func NewHTTPSender(cfg HTTPConfig) *HTTPSender {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.resend.com"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPSender{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Name    string `json:"name"`
	Error   string `json:"error"`
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	if strings.TrimSpace(msg.To) == "" {
		return Outcome{OK: false, Error: "missing recipient email"}, nil
	}

	b, err := json.Marshal(sendRequest{
		From:    s.cfg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: s.cfg.ReplyTo,
	})
	if err != nil {
		return Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL+"/emails", bytes.NewReader(b))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{OK: true, ID: parsed.ID}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		// 可重试错误
		return Outcome{}, fmt.Errorf("email provider returned %d: %s", resp.StatusCode, parsed.describe(body))
	default:
		return Outcome{OK: false, Error: parsed.describe(body)}, nil
	}
}

func (r sendResponse) describe(raw []byte) string {
	for _, s := range []string{r.Message, r.Error, r.Name} {
		if s != "" {
			return s
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return "email provider rejected the message"
}
