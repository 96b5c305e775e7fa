package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/infergate/broker"
	"github.com/BaSui01/infergate/types"
)

// statusClientClosedRequest nginx 约定的客户端提前断开状态码
const statusClientClosedRequest = 499

// =============================================================================
// 📮 Broker HTTP Handler
// =============================================================================

// BrokerHandler 暴露 broker 的 HTTP 接口
type BrokerHandler struct {
	broker *broker.Broker
	logger *zap.Logger
}

// NewBrokerHandler 创建 handler
func NewBrokerHandler(b *broker.Broker, logger *zap.Logger) *BrokerHandler {
	return &BrokerHandler{
		broker: b,
		logger: logger.With(zap.String("component", "broker_handler")),
	}
}

// submitRequest POST /v1/requests 请求体
type submitRequest struct {
	Class     string          `json:"class"`
	Payload   json.RawMessage `json:"payload"`
	Priority  string          `json:"priority,omitempty"`
	TimeoutMs int             `json:"timeout_ms,omitempty"`
}

// submitResponse 成功响应体
type submitResponse struct {
	ID     string `json:"id"`
	Result any    `json:"result"`
}

// HandleRequests 处理 POST /v1/requests：提交请求并同步等待结果。
// 客户端断开时取消请求。
func (h *BrokerHandler) HandleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Class == "" {
		writeJSONError(w, http.StatusBadRequest, "class is required")
		return
	}

	var payload any = string(req.Payload)
	var decoded any
	if err := json.Unmarshal(req.Payload, &decoded); err == nil {
		if s, ok := decoded.(string); ok {
			payload = s
		} else {
			payload = decoded
		}
	}

	opts := []broker.SubmitOption{
		broker.WithPriority(parsePriority(req.Priority)),
	}
	if req.TimeoutMs > 0 {
		opts = append(opts, broker.WithTimeout(time.Duration(req.TimeoutMs)*time.Millisecond))
	}

	handle, err := h.broker.Submit(r.Context(), req.Class, payload, opts...)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	result, err := handle.Wait(r.Context())
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			// 客户端断开，尽力取消
			h.broker.Cancel(handle.ID())
			writeJSONError(w, statusClientClosedRequest, "client closed request")
			return
		}
		writeBrokerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{ID: handle.ID(), Result: result})
}

// HandleRequestByID 处理 DELETE /v1/requests/{id}：取消请求
func (h *BrokerHandler) HandleRequestByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONError(w, http.StatusBadRequest, "request id is required")
		return
	}

	h.broker.Cancel(id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSnapshot 处理 GET /v1/snapshot：返回各类别当前状态
func (h *BrokerHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"classes": h.broker.Snapshot(),
	})
}

// HandleHealthz 存活检查
func (h *BrokerHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleVersion 版本信息
func (h *BrokerHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func parsePriority(s string) broker.Priority {
	switch strings.ToLower(s) {
	case "low":
		return broker.PriorityLow
	case "high":
		return broker.PriorityHigh
	case "critical":
		return broker.PriorityCritical
	default:
		return broker.PriorityNormal
	}
}

// writeBrokerError 把 broker 错误映射到 HTTP 状态码
func writeBrokerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.GetErrorCode(err) {
	case types.ErrQueueFull:
		status = http.StatusTooManyRequests
	case types.ErrTimedOut:
		status = http.StatusGatewayTimeout
	case types.ErrCancelled:
		status = statusClientClosedRequest
	case types.ErrBackendError:
		status = http.StatusBadGateway
	case types.ErrBackendUnavailable, types.ErrBrokerClosed:
		status = http.StatusServiceUnavailable
	case types.ErrUnknownClass:
		status = http.StatusBadRequest
	}

	var te *types.Error
	if errors.As(err, &te) {
		writeJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":      string(te.Code),
				"message":   te.Message,
				"class":     te.Class,
				"retryable": te.Retryable,
			},
		})
		return
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message},
	})
}
