package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haierkeys/vault-device-sync/global"
	"github.com/haierkeys/vault-device-sync/pkg/code"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lxzan/gws"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type LogType string

const (
	WebSocketServerPingInterval         = 25
	WebSocketServerPingWait             = 40
	LogInfo                     LogType = "info"
	LogError                    LogType = "error"
	LogWarn                     LogType = "warn"
)

func log(t LogType, msg string, fields ...zap.Field) {
	if global.Logger == nil {
		return
	}
	if t == "error" {
		global.Logger.Error(msg, fields...)
	} else if t == "warn" {
		global.Logger.Warn(msg, fields...)
	} else if t == "info" {
		global.Logger.Info(msg, fields...)
	}
}

// WebSocketMessage 动作消息，格式为 "Action|payload"
type WebSocketMessage struct {
	Type string `json:"type"` // 操作类型，例如 "SyncHello", "SyncBatch"
	Data []byte `json:"data"` // 消息负载
}

type WebsocketServerConfig struct {
	GWSOption    gws.ServerOption
	PingInterval time.Duration
	PingWait     time.Duration
}

// DeviceSelectEntity represents the device data attached to an authorized connection.
type DeviceSelectEntity struct {
	DeviceID    string `json:"deviceId"`
	VaultID     string `json:"vaultId"`
	DisplayName string `json:"displayName"`
}

// WebsocketClient 结构体来存储每个 WebSocket 连接及其相关状态
type WebsocketClient struct {
	conn          *gws.Conn
	done          chan struct{}
	Ctx           *gin.Context
	Device        *DeviceSelectEntity
	DeviceClients *ConnStorage
	SF            *singleflight.Group // 用于处理并发请求的缓存
}

// BindAndValid WebSocket 版本参数绑定和验证工具函数
func (c *WebsocketClient) BindAndValid(data []byte, obj any) (bool, ValidErrors) {
	var errs ValidErrors

	if err := json.Unmarshal(data, obj); err != nil {
		errs = append(errs, &ValidError{
			Key:     "body",
			Message: "Invalid message format",
		})
		return false, errs
	}

	if err := validate.Struct(obj); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, validationErr := range validationErrors {
				errs = append(errs, &ValidError{
					Key:     validationErr.Field(),
					Message: validationErr.Error(),
				})
			}
		}
		return false, errs
	}
	return true, nil
}

// PingLoop 定期发送 Ping 消息
func (c *WebsocketClient) PingLoop(PingInterval time.Duration) {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			log(LogInfo, "WebsocketServer Client Close Ping")
			return
		case <-ticker.C:
			if c.conn == nil {
				return
			}
			if err := c.conn.WritePing(nil); err != nil {
				log(LogError, "WebsocketServer Client Ping err ", zap.Error(err))
				return
			}
		}
	}
}

// ToResponse 将结果转换为 JSON 格式并发送给客户端
func (c *WebsocketClient) ToResponse(codeObj *code.Code, action ...string) {
	var actionType string
	if len(action) > 0 {
		actionType = action[0]
	}

	content := Res{
		Code:    codeObj.Code(),
		Status:  codeObj.Status(),
		Message: codeObj.Lang.GetMessage(),
		Data:    codeObj.Data(),
	}
	if codeObj.HaveDetails() {
		content.Details = strings.Join(codeObj.Details(), ",")
	}

	if actionType != "" || codeObj.Code() > 200 || codeObj.HaveData() {
		c.send(actionType, content, false, false)
	}
	codeObj.Reset()
}

// ToAction 以 "Action|payload" 原始帧发送业务消息
// 同步协议的应答帧不经过 Res 包装，对端直接反序列化 DTO
func (c *WebsocketClient) ToAction(action string, payload any) {
	buf, err := json.Marshal(payload)
	if err != nil {
		log(LogError, "WebsocketServer ToAction marshal err", zap.Error(err))
		return
	}
	c.message([]byte(action + "|" + string(buf)))
}

// BroadcastResponse 将结果转换为 JSON 格式并广播给同金库的所有连接
// 第二个options参数为是否排除自己 第三个options参数为动作类型
func (c *WebsocketClient) BroadcastResponse(codeObj *code.Code, options ...any) {
	var actionType string
	if len(options) > 1 {
		actionType = options[1].(string)
	}

	content := Res{
		Code:    codeObj.Code(),
		Status:  codeObj.Status(),
		Message: codeObj.Lang.GetMessage(),
		Data:    codeObj.Data(),
	}
	if codeObj.HaveDetails() {
		content.Details = strings.Join(codeObj.Details(), ",")
	}

	excludeSelf := false
	if len(options) > 0 {
		excludeSelf, _ = options[0].(bool)
	}
	c.send(actionType, content, true, excludeSelf)

	codeObj.Reset()
}

func (c *WebsocketClient) send(actionType string, content any, isBroadcast bool, isExcludeSelf bool) {
	responseBytes, _ := json.Marshal(content)
	if actionType != "" {
		responseBytes = []byte(fmt.Sprintf(`%s|%s`, actionType, string(responseBytes)))
	}
	if isBroadcast {
		c.broadcast(responseBytes, isExcludeSelf)
	} else {
		c.message(responseBytes)
	}
}

func (c *WebsocketClient) message(payload []byte) {
	c.conn.WriteMessage(gws.OpcodeText, payload)
}

func (c *WebsocketClient) broadcast(payload []byte, isExcludeSelf bool) {
	var b = gws.NewBroadcaster(gws.OpcodeText, payload)
	defer b.Close()

	if c.DeviceClients == nil {
		return
	}
	for _, dc := range *c.DeviceClients {
		if dc.conn == nil {
			continue
		}
		if isExcludeSelf && dc.conn == c.conn {
			continue
		}

		_ = b.Broadcast(dc.conn)
	}
}

// ------------------------------------> WebsocketServer

type ConnStorage = map[*gws.Conn]*WebsocketClient

// WebsocketServer 管理设备同步连接
// 连接在通过 SyncHello 身份验证后按金库分组，便于定向广播
type WebsocketServer struct {
	handlers      map[string]func(*WebsocketClient, *WebSocketMessage)
	verifyHandler func(*WebsocketClient, []byte) (*DeviceSelectEntity, error)
	clients       ConnStorage
	vaultClients  map[string]ConnStorage
	mu            sync.Mutex
	up            *gws.Upgrader
	config        *WebsocketServerConfig
}

func NewWebsocketServer(c WebsocketServerConfig) *WebsocketServer {
	if c.PingInterval == 0 {
		c.PingInterval = WebSocketServerPingInterval
	}
	if c.PingWait == 0 {
		c.PingWait = WebSocketServerPingWait
	}
	wss := WebsocketServer{
		handlers:     make(map[string]func(*WebsocketClient, *WebSocketMessage)),
		clients:      make(ConnStorage),
		vaultClients: make(map[string]ConnStorage),
		config:       &c,
	}
	return &wss
}

func (w *WebsocketServer) Upgrade() {
	w.up = gws.NewUpgrader(w, &w.config.GWSOption)
}

func (w *WebsocketServer) Run() gin.HandlerFunc {
	return func(c *gin.Context) {
		w.Upgrade()
		socket, err := w.up.Upgrade(c.Writer, c.Request)
		if err != nil {
			log(LogError, "WebsocketServer Start err", zap.Error(err))
			return
		}
		client := &WebsocketClient{conn: socket, done: make(chan struct{}), Ctx: c, SF: new(singleflight.Group)}
		w.AddClient(client)
		log(LogInfo, "WebsocketServer Start", zap.String("type", "ReadLoop"))
		go socket.ReadLoop()
	}
}

func (w *WebsocketServer) Use(action string, handler func(*WebsocketClient, *WebSocketMessage)) {
	w.handlers[action] = handler
}

// UseDeviceVerify 注册设备身份验证回调
// 回调负责解析握手负载、校验签名与设备信任状态
func (w *WebsocketServer) UseDeviceVerify(handler func(*WebsocketClient, []byte) (*DeviceSelectEntity, error)) {
	w.verifyHandler = handler
}

// Authorization 处理握手消息，验证通过后将连接归入金库分组
func (w *WebsocketServer) Authorization(c *WebsocketClient, msg *WebSocketMessage) {
	device, err := w.verifyHandler(c, msg.Data)
	if err != nil || device == nil {
		log(LogError, "WebsocketServer Authorization FAILD", zap.Error(err))
		werr := struct {
			Code   int    `json:"code"`
			Reason string `json:"reason"`
		}{Code: code.ErrorAuthenticationFailed.Code(), Reason: "authorization failed"}
		if ec, ok := err.(*code.Code); ok {
			werr.Code = ec.Code()
			werr.Reason = ec.Msg()
		}
		c.ToAction("SyncError", werr)
		time.Sleep(2 * time.Second)
		c.conn.WriteClose(1000, []byte("AuthorizationFaild"))
		return
	}

	log(LogInfo, "WebsocketServer Authorization",
		zap.String("deviceId", device.DeviceID),
		zap.String("vaultId", device.VaultID))
	c.Device = device
	w.AddVaultClient(c)

	vaultClients := w.vaultClients[device.VaultID]
	c.DeviceClients = &vaultClients
	log(LogInfo, "WebsocketServer Device Enters",
		zap.String("deviceId", device.DeviceID),
		zap.Int("Count", len(vaultClients)))
	go c.PingLoop(w.config.PingInterval)
}

func (w *WebsocketServer) GetClient(conn *gws.Conn) *WebsocketClient {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clients[conn]
}

func (w *WebsocketServer) AddClient(c *WebsocketClient) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clients[c.conn] = c
}

func (w *WebsocketServer) RemoveClient(conn *gws.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.clients, conn)
}

func (w *WebsocketServer) AddVaultClient(c *WebsocketClient) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.vaultClients[c.Device.VaultID] == nil {
		w.vaultClients[c.Device.VaultID] = make(ConnStorage)
	}
	w.vaultClients[c.Device.VaultID][c.conn] = c
}

func (w *WebsocketServer) RemoveVaultClient(c *WebsocketClient) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.vaultClients[c.Device.VaultID], c.conn)
	log(LogInfo, "WebsocketServer Client Remove", zap.Int("clientCount", len(w.clients)))
}

func (w *WebsocketServer) OnOpen(conn *gws.Conn) {
	log(LogInfo, "WebsocketServer Client Connect", zap.Int("Count", len(w.clients)))
	_ = conn.SetDeadline(time.Now().Add(w.config.PingWait * time.Second))
}

func (w *WebsocketServer) OnClose(conn *gws.Conn, err error) {
	c := w.GetClient(conn)

	w.RemoveClient(conn)

	if c != nil && c.Device != nil {
		c.done <- struct{}{}
		log(LogInfo, "WebsocketServer Device Leave", zap.String("deviceId", c.Device.DeviceID))
		w.RemoveVaultClient(c)
	}

	log(LogInfo, "WebsocketServer Client Leave", zap.Int("Count", len(w.clients)))
}

func (w *WebsocketServer) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(w.config.PingWait * time.Second))
	_ = socket.WritePong(nil)
}

func (w *WebsocketServer) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(w.config.PingWait * time.Second))
}

func (w *WebsocketServer) OnMessage(conn *gws.Conn, message *gws.Message) {
	defer message.Close()
	if message.Opcode != gws.OpcodeText {
		return
	}
	if message.Data.String() == "close" {
		conn.WriteClose(1000, []byte("ClientClose"))
		return
	}

	c := w.GetClient(conn)

	messageStr := message.Data.String()
	index := strings.Index(messageStr, "|")

	var msg WebSocketMessage
	if index != -1 {
		msg.Type = messageStr[:index]
		msg.Data = []byte(messageStr[index+1:])
	} else {
		log(LogError, "WebsocketServer OnMessage", zap.String("type", "Illegal message type"))
		return
	}

	if msg.Type == "SyncHello" {
		w.Authorization(c, &msg)
		return
	}

	// 验证设备是否已完成握手
	if c.Device == nil {
		c.ToResponse(code.ErrorUnknownSender)
		return
	}

	handler, exists := w.handlers[msg.Type]
	if exists {
		log(LogInfo, "WebsocketServer OnMessage", zap.String("Type", msg.Type))
		handler(c, &msg)
	} else {
		log(LogError, "WebsocketServer OnMessage", zap.String("msg", "Unknown message type"))
	}
}
