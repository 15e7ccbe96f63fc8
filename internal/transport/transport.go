// Package transport 实现与对端设备的同步消息传输
// 直连走 WebSocket，对端不可达时回退到中继信箱
package transport

import (
	"context"

	"github.com/haierkeys/vault-device-sync/internal/domain"
)

// TransportDirect 直连传输名称
const TransportDirect = "direct"

// TransportRelay 中继传输名称
const TransportRelay = "relay"

// Message 一条传输层消息，Action 与 JSON 载荷
type Message struct {
	Action  string
	Payload []byte
}

// Transport 定义同步会话的消息往返接口
// 实现必须对载荷保持字节透明，加解密发生在服务层
type Transport interface {
	// Name 传输名称，计入会话记录
	Name() string

	// Available 判断该传输对此对端是否可用
	Available(peer *domain.DeviceIdentity) bool

	// Exchange 发送一条消息并等待对端响应
	Exchange(ctx context.Context, peer *domain.DeviceIdentity, msg *Message) (*Message, error)

	// Close 释放与对端的连接
	Close(peer *domain.DeviceIdentity)
}
