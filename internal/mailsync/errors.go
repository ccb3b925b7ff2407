package mailsync

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTerminal 服务端明确拒绝的请求（4xx），重试不会改变结果
	ErrTerminal = errors.New("terminal failure")
	// ErrTransient 网络错误或 5xx，可由用户手动重试
	ErrTransient = errors.New("transient failure")

	ErrUnknownMessage = errors.New("message not in local view")
	ErrClosed         = errors.New("session closed")
)

// APIError 一次请求的失败
type APIError struct {
	Op     string
	Status int // 0 表示未收到响应
	Msg    string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

func (e *APIError) Unwrap() []error {
	kind := ErrTransient
	if isTerminalStatus(e.Status) {
		kind = ErrTerminal
	}
	if e.Err != nil {
		return []error{kind, e.Err}
	}
	return []error{kind}
}

func isTerminalStatus(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusConflict, http.StatusRequestEntityTooLarge:
		return true
	}
	return false
}

// IsTerminal 判断失败是否为终态
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}
