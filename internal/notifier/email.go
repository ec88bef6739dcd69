package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// emailRequest 事务邮件服务请求
type emailRequest struct {
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// emailResponse 事务邮件服务响应
type emailResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// EmailNotifier 纯文本事件邮件通知器
// 收件人列表固定，来自配置；通过事务邮件服务的 HTTP 接口发送
type EmailNotifier struct {
	httpClient *resty.Client
	sender     string
	recipients []string
	logger     *zap.Logger
}

// NewEmailNotifier 创建邮件通知器
func NewEmailNotifier(baseURL, apiKey, sender string, recipients []string, timeout time.Duration, logger *zap.Logger) *EmailNotifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &EmailNotifier{
		httpClient: client,
		sender:     sender,
		recipients: recipients,
		logger:     logger,
	}
}

// Send 发送一封事件邮件到固定分发列表
func (n *EmailNotifier) Send(ctx context.Context, subject, body string) error {
	if len(n.recipients) == 0 {
		return fmt.Errorf("no email recipients configured")
	}

	request := emailRequest{
		Sender:     n.sender,
		Recipients: n.recipients,
		Subject:    subject,
		Body:       body,
	}

	var response emailResponse
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/v1/messages")

	if err != nil {
		return fmt.Errorf("failed to call email API: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("email API error: %s (http %d)", response.Message, resp.StatusCode())
	}

	n.logger.Info("Incident email sent",
		zap.String("subject", subject),
		zap.Int("recipient_count", len(n.recipients)),
	)

	return nil
}
