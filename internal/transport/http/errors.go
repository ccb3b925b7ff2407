package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/engine/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidRequest  = "请求参数格式错误"
	MsgInternalError   = "服务器内部错误，请稍后再试"
	MsgExhausted       = "暂时无法分配新地址，请稍后再试"
	MsgNotFound        = "资源不存在"
	MsgConflict        = "资源冲突"
	MsgValidation      = "请求参数无效"
	MsgInvalidFlagBody = "缺少标记值"
)

// 具体错误的中文消息，按 errors.Is 依次匹配
var errorMessages = []struct {
	err error
	msg string
}{
	{domain.ErrInvalidDomain, "域名无效或未启用"},
	{domain.ErrInvalidLocalPart, "邮箱前缀格式无效"},
	{domain.ErrLocalPartTooLong, "邮箱前缀过长"},
	{domain.ErrDomainTooLong, "域名过长"},
	{domain.ErrInvalidEmail, "邮箱地址格式无效"},
	{domain.ErrInvalidRequest, MsgInvalidRequest},
	{domain.ErrInvalidFlag, "未知的邮件标记"},
	{domain.ErrInvalidAction, "未知的批量操作"},
	{domain.ErrInvalidSeverity, "未知的公告类型"},

	{domain.ErrAddressNotFound, "邮箱不存在或已过期"},
	{domain.ErrMessageNotFound, "邮件不存在"},
	{domain.ErrAttachmentNotFound, "附件不存在"},
	{domain.ErrDomainNotFound, "域名不存在"},
	{domain.ErrNoticeNotFound, "公告不存在"},

	{domain.ErrAddressTaken, "该邮箱地址已被占用"},
	{domain.ErrDomainExists, "域名已存在"},
	{domain.ErrDomainInUse, "域名下仍有未过期的邮箱"},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		return MsgValidation
	case errors.Is(err, domain.ErrNotFound):
		return MsgNotFound
	case errors.Is(err, domain.ErrConflict):
		return MsgConflict
	case errors.Is(err, domain.ErrAddressExhausted):
		return MsgExhausted
	}
	return MsgInternalError
}

// StatusFor 将错误类别映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAddressExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError 按错误类别写出响应，存储故障与未知错误记录日志且不暴露细节
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		InternalError(c, "")
		return
	}
	Error(c, status, GetErrorMessage(err))
}
