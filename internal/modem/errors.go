package modem

import (
	"errors"
	"fmt"
)

// ErrModemUnreachable 连通性探测失败
// 中止本次派发的 modem 短信分支，邮件分支照常执行
var ErrModemUnreachable = errors.New("modem unreachable")

// ProtocolError 会话响应缺少期望字段或无法解析
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("modem protocol error: %s", e.Detail)
}

// DeviceProtocolError 设备以明确的厂家错误码拒绝了发送
type DeviceProtocolError struct {
	Code    string
	Message string
}

func (e *DeviceProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("modem rejected sms: code=%s message=%s", e.Code, e.Message)
	}
	return fmt.Sprintf("modem rejected sms: code=%s", e.Code)
}
