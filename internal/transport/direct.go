package transport

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/logger"

	"github.com/lxzan/gws"
	"go.uber.org/zap"
)

// DefaultExchangeTimeout 单次消息往返的默认超时
const DefaultExchangeTimeout = 30 * time.Second

// directTransport 直连 WebSocket 传输
// 消息帧格式与服务端一致: "Action|payload"
type directTransport struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	conns map[string]*directConn // 对端设备 ID -> 连接
}

// directConn 到单个对端的连接与收件通道
type directConn struct {
	conn  *gws.Conn
	inbox chan *Message
	once  sync.Once
}

func (c *directConn) close() {
	c.once.Do(func() {
		close(c.inbox)
		_ = c.conn.WriteClose(1000, nil)
	})
}

// clientHandler 将收到的帧解析后投入收件通道
type clientHandler struct {
	gws.BuiltinEventHandler
	dc     *directConn
	logger *zap.Logger
}

func (h *clientHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := message.Bytes()
	idx := bytes.IndexByte(data, '|')
	if idx < 0 {
		h.logger.Warn("malformed frame from peer, dropped")
		return
	}
	payload := make([]byte, len(data)-idx-1)
	copy(payload, data[idx+1:])

	select {
	case h.dc.inbox <- &Message{Action: string(data[:idx]), Payload: payload}:
	default:
		h.logger.Warn("peer inbox full, frame dropped")
	}
}

func (h *clientHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

// NewDirectTransport 创建直连传输
func NewDirectTransport(timeout time.Duration, lg *zap.Logger) Transport {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &directTransport{
		timeout: timeout,
		logger:  lg,
		conns:   make(map[string]*directConn),
	}
}

func (t *directTransport) Name() string {
	return TransportDirect
}

// Available 对端登记过直连地址即可尝试直连
func (t *directTransport) Available(peer *domain.DeviceIdentity) bool {
	return peer.Endpoint != ""
}

// dial 建立或复用到对端的连接
func (t *directTransport) dial(peer *domain.DeviceIdentity) (*directConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dc, ok := t.conns[peer.DeviceID]; ok {
		return dc, nil
	}

	dc := &directConn{inbox: make(chan *Message, 16)}
	handler := &clientHandler{dc: dc, logger: t.logger}

	conn, _, err := gws.NewClient(handler, &gws.ClientOption{
		Addr: peer.Endpoint,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
	})
	if err != nil {
		t.logger.Warn("peer dial failed",
			zap.String(logger.FieldPeer, peer.DeviceID),
			zap.String("endpoint", peer.Endpoint),
			zap.Error(err))
		return nil, code.ErrorTransportUnreachable.WithDetails(err.Error())
	}
	dc.conn = conn
	go func() {
		conn.ReadLoop()
		t.mu.Lock()
		delete(t.conns, peer.DeviceID)
		t.mu.Unlock()
		dc.close()
	}()

	t.conns[peer.DeviceID] = dc
	return dc, nil
}

// Exchange 发送一条消息并等待对端响应
func (t *directTransport) Exchange(ctx context.Context, peer *domain.DeviceIdentity, msg *Message) (*Message, error) {
	dc, err := t.dial(peer)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(msg.Action)+1+len(msg.Payload))
	frame = append(frame, []byte(msg.Action)...)
	frame = append(frame, '|')
	frame = append(frame, msg.Payload...)

	if err := dc.conn.WriteMessage(gws.OpcodeText, frame); err != nil {
		t.Close(peer)
		return nil, code.ErrorTransportUnreachable.WithDetails(err.Error())
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-dc.inbox:
		if !ok {
			return nil, code.ErrorTransportUnreachable.WithDetails("connection closed by peer")
		}
		return resp, nil
	case <-timer.C:
		return nil, code.ErrorTransportUnreachable.WithDetails("exchange timeout")
	case <-ctx.Done():
		return nil, code.ErrorTransportUnreachable.WithDetails(ctx.Err().Error())
	}
}

// Close 释放与对端的连接
func (t *directTransport) Close(peer *domain.DeviceIdentity) {
	t.mu.Lock()
	dc, ok := t.conns[peer.DeviceID]
	if ok {
		delete(t.conns, peer.DeviceID)
	}
	t.mu.Unlock()
	if ok {
		dc.close()
	}
}

// 确保 directTransport 实现了 Transport 接口
var _ Transport = (*directTransport)(nil)
