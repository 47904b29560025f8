package service

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound 表示请求的协议文档不存在。
var ErrNotFound = interfaces.ErrNotFound

// Error 携带与 HTTP 对应的状态码和可以直接展示给用户的信息。
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

// StatusOf 返回 err 对应的 HTTP 状态码，未知错误视为 500。
func StatusOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Status
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// MessageOf 返回 err 对外展示的信息。
func MessageOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	if errors.Is(err, ErrNotFound) {
		return "protocol not found"
	}
	return "internal error"
}
