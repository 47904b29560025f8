package models

// LogEntry 定义了结构化日志与审计事件共用的数据格式。
type LogEntry struct {
	ServiceName string                 `json:"service_name"`
	TraceID     string                 `json:"trace_id,omitempty"`
	RequestInfo *RequestInfo           `json:"request_info,omitempty"`
	Error       *ErrorInfo             `json:"error,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// RequestInfo 存储了关于 HTTP 请求的上下文信息。
type RequestInfo struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
}

// ErrorInfo 存储了关于错误的结构化信息。
type ErrorInfo struct {
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"` // 例如 "extraction_error", "completion_error"
	StatusCode int    `json:"status_code,omitempty"`
}

// NewErrorInfo 从 error 构造 ErrorInfo。
func NewErrorInfo(errType string, err error) ErrorInfo {
	info := ErrorInfo{Type: errType}
	if err != nil {
		info.Message = err.Error()
	}
	return info
}
