package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/pkg/code"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// RelayClientConfig 中继客户端配置
type RelayClientConfig struct {
	// Endpoint 中继服务地址，如 https://relay.example.com
	Endpoint string
	// Token 中继访问令牌
	Token string
	// Timeout 单次请求超时
	Timeout time.Duration
}

// RelayClient 中继信箱 HTTP 客户端
// 中继是不可信的投递盒，只经手密文
type RelayClient struct {
	config RelayClientConfig
	client *http.Client
	logger *zap.Logger
}

// NewRelayClient 创建中继客户端
func NewRelayClient(config RelayClientConfig, lg *zap.Logger) *RelayClient {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &RelayClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: lg,
	}
}

// relayResponse 中继响应外层结构，与服务端 app.Response 对应
type relayResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *RelayClient) do(ctx context.Context, path string, body any, out any) error {
	buf, err := sonic.Marshal(body)
	if err != nil {
		return code.ErrorServerInternal.WithDetails(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+path, bytes.NewReader(buf))
	if err != nil {
		return code.ErrorServerInternal.WithDetails(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return code.ErrorRelayRejected.WithDetails(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return code.ErrorRelayRejected.WithDetails(err.Error())
	}

	var wrapper relayResponse
	if err := sonic.Unmarshal(raw, &wrapper); err != nil {
		return code.ErrorRelayRejected.WithDetails("malformed relay response")
	}
	if wrapper.Code != code.Success.Code() {
		return code.ErrorRelayRejected.WithDetails(fmt.Sprintf("relay error %d: %s", wrapper.Code, wrapper.Message))
	}
	if out != nil && len(wrapper.Data) > 0 {
		if err := sonic.Unmarshal(wrapper.Data, out); err != nil {
			return code.ErrorRelayRejected.WithDetails("malformed relay payload")
		}
	}
	return nil
}

// Push 投递一条密封批次到对端信箱
func (c *RelayClient) Push(ctx context.Context, params *dto.RelayPushRequest) error {
	return c.do(ctx, "/api/relay/push", params, nil)
}

// Pull 拉取本设备信箱内的全部待收消息
func (c *RelayClient) Pull(ctx context.Context, params *dto.RelayPullRequest) ([]*dto.RelayMessageDTO, error) {
	var messages []*dto.RelayMessageDTO
	if err := c.do(ctx, "/api/relay/pull", params, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Ack 确认并删除已取走的消息
func (c *RelayClient) Ack(ctx context.Context, params *dto.RelayAckRequest) error {
	return c.do(ctx, "/api/relay/ack", params, nil)
}
