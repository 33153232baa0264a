package delivery

import "context"

// Message 一封待发送的邮件
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Outcome 服务商返回的投递结果
// 服务商拒收（无效收件人、退信等）以 OK=false 表示，不作为 error 返回
type Outcome struct {
	OK    bool
	ID    string
	Error string
}

// Sender 投递客户端
// 只有基础设施故障（网络、超时、5xx、熔断）才返回 error
type Sender interface {
	Send(ctx context.Context, msg Message) (Outcome, error)
}
