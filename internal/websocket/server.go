// internal/websocket/server.go
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 仅本地使用，认证由 authKey 负责
	},
}

// Option 配置 Server
type Option func(*Server)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// WithAuthKey 要求客户端携带 X-Auth-Key
func WithAuthKey(key string) Option {
	return func(s *Server) {
		s.authKey = key
	}
}

// WithMetrics 在 /metrics 暴露 gatherer 中的指标
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// WithErrorCodes 为 RPC 错误附加分类
func WithErrorCodes(fn func(error) string) Option {
	return func(s *Server) {
		s.errorCode = fn
	}
}

// WithExcludedMethods 不对前端开放的 App 方法
func WithExcludedMethods(names ...string) Option {
	return func(s *Server) {
		s.exclude = append(s.exclude, names...)
	}
}

// Server WebSocket 服务器
type Server struct {
	addr       string
	port       int
	authKey    string
	router     *Router
	exclude    []string
	gatherer   prometheus.Gatherer
	errorCode  func(error) string
	log        *zap.Logger
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	httpServer *http.Server
}

// NewServer 创建新的 WebSocket 服务器，addr 为监听地址（端口 0 表示随机端口）
func NewServer(app interface{}, addr string, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		clients: make(map[string]*Client),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = NewRouter(app, s.exclude...)
	return s
}

// Handler 返回服务器的 HTTP 路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start 启动 WebSocket 服务器，返回实际监听的端口
func (s *Server) Start(ctx context.Context) (int, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.port = listener.Addr().(*net.TCPAddr).Port
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("websocket server error", zap.Error(err))
		}
	}()

	s.log.Info("websocket server listening", zap.String("addr", listener.Addr().String()))
	return s.port, nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clientsMu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth 健康检查端点
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleWebSocket 处理 WebSocket 连接
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authKey != "" && r.Header.Get("X-Auth-Key") != s.authKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn)

	s.clientsMu.Lock()
	s.clients[client.ID] = client
	s.clientsMu.Unlock()
	s.log.Debug("client connected", zap.String("client_id", client.ID))

	go client.WritePump()
	s.readPump(client)
}

// readPump 从客户端读取消息
func (s *Server) readPump(client *Client) {
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		client.Close()
		s.log.Debug("client disconnected", zap.String("client_id", client.ID))
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket read error", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}

		s.handleMessage(client, message)
	}
}

// handleMessage 处理收到的消息
func (s *Server) handleMessage(client *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.log.Warn("invalid message format", zap.String("client_id", client.ID), zap.Error(err))
		return
	}

	if msg.Kind == KindRequest && msg.Request != nil {
		s.handleRPCRequest(client, msg.Request)
	}
}

// handleRPCRequest 处理 RPC 请求
func (s *Server) handleRPCRequest(client *Client, req *RPCRequest) {
	result, err := s.router.Call(req.Method, req.Params)

	var errMsg, code string
	if err != nil {
		errMsg = err.Error()
		if s.errorCode != nil {
			code = s.errorCode(err)
		}
		s.log.Debug("rpc failed", zap.String("method", req.Method), zap.Error(err))
	}

	if err := client.SendResponse(req.ID, result, errMsg, code); err != nil {
		s.log.Warn("failed to send response", zap.String("client_id", client.ID), zap.Error(err))
	}
}

// BroadcastEvent 向所有客户端广播事件
func (s *Server) BroadcastEvent(eventType string, payload interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if err := client.SendEvent(eventType, payload); err != nil {
			s.log.Debug("event dropped", zap.String("client_id", client.ID), zap.String("event", eventType), zap.Error(err))
		}
	}
}

// ClientCount 返回当前连接数
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetPort 返回服务器端口
func (s *Server) GetPort() int {
	return s.port
}
