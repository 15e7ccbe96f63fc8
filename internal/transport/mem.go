package transport

import (
	"context"
	"sync"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/pkg/code"
)

// PeerHandler 进程内对端的消息处理函数
type PeerHandler func(msg *Message) (*Message, error)

// MemTransport 进程内传输，测试与单机多实例场景使用
type MemTransport struct {
	mu    sync.RWMutex
	peers map[string]PeerHandler
}

// NewMemTransport 创建进程内传输
func NewMemTransport() *MemTransport {
	return &MemTransport{peers: make(map[string]PeerHandler)}
}

// Register 注册进程内对端
func (t *MemTransport) Register(deviceID string, handler PeerHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[deviceID] = handler
}

func (t *MemTransport) Name() string {
	return TransportDirect
}

func (t *MemTransport) Available(peer *domain.DeviceIdentity) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[peer.DeviceID]
	return ok
}

func (t *MemTransport) Exchange(ctx context.Context, peer *domain.DeviceIdentity, msg *Message) (*Message, error) {
	t.mu.RLock()
	handler, ok := t.peers[peer.DeviceID]
	t.mu.RUnlock()
	if !ok {
		return nil, code.ErrorTransportUnreachable.WithDetails("peer not registered")
	}
	if err := ctx.Err(); err != nil {
		return nil, code.ErrorTransportUnreachable.WithDetails(err.Error())
	}
	return handler(msg)
}

func (t *MemTransport) Close(peer *domain.DeviceIdentity) {}

// 确保 MemTransport 实现了 Transport 接口
var _ Transport = (*MemTransport)(nil)
