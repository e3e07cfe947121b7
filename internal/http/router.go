package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterPresenceRoutes 注册心跳、在线状态与安全相关路由
func (r *Router) RegisterPresenceRoutes(h *PresenceHandler) {
	r.Handle("/api/v1/heartbeats", method(http.MethodPost, h.PostHeartbeat))
	r.Handle("/api/v1/presence/refresh", method(http.MethodPost, h.Refresh))

	// presence/{userId} 与 presence/{userId}/heartbeats
	r.Handle("/api/v1/presence/", method(http.MethodGet, func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/presence/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			h.GetPresence(w, req, parts[0])
		case len(parts) == 2 && parts[0] != "" && parts[1] == "heartbeats":
			h.ListHeartbeats(w, req, parts[0])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	r.Handle("/api/v1/thresholds", method(http.MethodGet, h.GetThresholds))
	r.Handle("/api/v1/security/status", method(http.MethodGet, h.GetSecurityStatus))
	r.Handle("/api/v1/security/logs", method(http.MethodGet, h.ListSecurityLogs))
	r.Handle("/healthz", method(http.MethodGet, h.Health))
}

func method(m string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next(w, req)
	}
}
