package modem

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// modem 管理接口路径（本地固定地址上的 HTTP/XML 控制面）
const (
	sessionPath = "/api/webserver/SesTokInfo"
	statusPath  = "/api/monitoring/status"
	sendSmsPath = "/api/sms/send-sms"
)

// 会话字段里带的前缀，送回 Cookie 时需要去掉
const sessionIDPrefix = "SessionID="

// smsDateLayout 发送时间戳，设备要求精确到秒
const smsDateLayout = "2006-01-02 15:04:05"

// Session modem 会话凭据，单次使用，不跨调用缓存
type Session struct {
	SessionID string
	Token     string
}

// Client 蜂窝 modem 控制面客户端
// 只负责协议往返，不做重试 —— 重试策略属于调用方
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建 modem 客户端
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/xml")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// sesTokResponse 会话接口响应
type sesTokResponse struct {
	XMLName xml.Name `xml:"response"`
	SesInfo string   `xml:"SesInfo"`
	TokInfo string   `xml:"TokInfo"`
}

// smsRequest 发送短信的固定格式请求体
type smsRequest struct {
	XMLName  xml.Name  `xml:"request"`
	Index    int       `xml:"Index"`
	Phones   smsPhones `xml:"Phones"`
	Sca      string    `xml:"Sca"`
	Content  string    `xml:"Content"`
	Length   int       `xml:"Length"`
	Reserved int       `xml:"Reserved"`
	Date     string    `xml:"Date"`
}

type smsPhones struct {
	Phone []string `xml:"Phone"`
}

// sendResponse 发送成功时的响应，正文为字面量 OK
type sendResponse struct {
	XMLName xml.Name `xml:"response"`
	Value   string   `xml:",chardata"`
}

// errorResponse 厂家错误响应
type errorResponse struct {
	XMLName xml.Name `xml:"error"`
	Code    string   `xml:"code"`
	Message string   `xml:"message"`
}

// GetSession 获取一次性的会话/令牌对
// 响应缺少任一字段视为协议错误
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(sessionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to request modem session: %w", err)
	}

	var parsed sesTokResponse
	if err := xml.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, &ProtocolError{Detail: fmt.Sprintf("malformed session response: %v", err)}
	}

	if parsed.SesInfo == "" {
		return nil, &ProtocolError{Detail: "session response missing SesInfo"}
	}
	if parsed.TokInfo == "" {
		return nil, &ProtocolError{Detail: "session response missing TokInfo"}
	}

	return &Session{
		SessionID: strings.TrimPrefix(parsed.SesInfo, sessionIDPrefix),
		Token:     parsed.TokInfo,
	}, nil
}

// CheckConnection 连通性探测
// 派发序列发第一条短信之前调用，失败则整个 modem 分支中止
func (c *Client) CheckConnection(ctx context.Context) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(statusPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModemUnreachable, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: status endpoint returned %d", ErrModemUnreachable, resp.StatusCode())
	}
	return nil
}

// SendSms 通过 modem 发送一条短信
// 每次发送都取新会话；响应没有 OK 标记即失败，带厂家错误码时
// 返回 DeviceProtocolError
func (c *Client) SendSms(ctx context.Context, phoneNumber, message string) error {
	session, err := c.GetSession(ctx)
	if err != nil {
		return err
	}

	payload := smsRequest{
		Index:    -1,
		Phones:   smsPhones{Phone: []string{phoneNumber}},
		Sca:      "",
		Content:  message,
		Length:   utf8.RuneCountInString(message),
		Reserved: 1,
		Date:     time.Now().Format(smsDateLayout),
	}

	body, err := xml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sms request: %w", err)
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Cookie", sessionIDPrefix+session.SessionID).
		SetHeader("__RequestVerificationToken", session.Token).
		SetBody(xml.Header + string(body)).
		Post(sendSmsPath)
	if err != nil {
		return fmt.Errorf("failed to post sms request: %w", err)
	}

	if err := parseSendResult(resp.Body()); err != nil {
		return err
	}

	c.logger.Debug("Sms accepted by modem",
		zap.String("phone", phoneNumber),
		zap.Int("length", payload.Length),
	)

	return nil
}

// parseSendResult 解析发送结果：OK 标记、厂家错误或未知响应
func parseSendResult(body []byte) error {
	var ok sendResponse
	if err := xml.Unmarshal(body, &ok); err == nil {
		if strings.TrimSpace(ok.Value) == "OK" {
			return nil
		}
	}

	var vendorErr errorResponse
	if err := xml.Unmarshal(body, &vendorErr); err == nil && vendorErr.Code != "" {
		return &DeviceProtocolError{
			Code:    vendorErr.Code,
			Message: vendorErr.Message,
		}
	}

	return fmt.Errorf("sms send rejected: unexpected modem response")
}
