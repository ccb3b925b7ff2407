package httptransport

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/middleware"
	"tempmail/engine/internal/monitoring"
	"tempmail/engine/internal/service"
)

// MessageHandler 处理收件箱相关请求，所有路由都位于 RequireOwnedAddress 之后
type MessageHandler struct {
	messages *service.MessageService
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewMessageHandler 创建邮件处理器，metrics 可为 nil
func NewMessageHandler(messages *service.MessageService, metrics *monitoring.Metrics, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, metrics: metrics, log: log}
}

// List 列出地址收到的邮件
// @Summary 获取收件列表
// @Description 默认隐藏已归档与垃圾邮件
// @Tags Messages
// @Produce json
// @Param id path string true "邮箱ID"
// @Param includeArchived query bool false "包含已归档"
// @Param includeSpam query bool false "包含垃圾邮件"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /emails/{id}/received [get]
func (h *MessageHandler) List(c *gin.Context) {
	filter, ok := parseFilter(c)
	if !ok {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	addr := middleware.CurrentAddress(c)
	msgs, err := h.messages.List(c.Request.Context(), addr.ID, filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, msgs)
}

func parseFilter(c *gin.Context) (domain.MessageFilter, bool) {
	var filter domain.MessageFilter
	for key, dst := range map[string]*bool{
		"includeArchived": &filter.IncludeArchived,
		"includeSpam":     &filter.IncludeSpam,
	} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, false
		}
		*dst = v
	}
	return filter, true
}

// Get 获取单封邮件
// @Summary 获取邮件详情
// @Tags Messages
// @Produce json
// @Param id path string true "邮箱ID"
// @Param msgId path string true "邮件ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /emails/{id}/received/{msgId} [get]
func (h *MessageHandler) Get(c *gin.Context) {
	addr := middleware.CurrentAddress(c)
	msg, err := h.messages.Get(c.Request.Context(), addr.ID, c.Param("msgId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, msg)
}

// DownloadAttachment 下载附件原始内容
// @Summary 下载附件
// @Tags Messages
// @Produce octet-stream
// @Param id path string true "邮箱ID"
// @Param msgId path string true "邮件ID"
// @Param attId path string true "附件ID"
// @Success 200 {file} binary
// @Failure 404 {object} Response
// @Router /emails/{id}/received/{msgId}/attachments/{attId} [get]
func (h *MessageHandler) DownloadAttachment(c *gin.Context) {
	addr := middleware.CurrentAddress(c)
	att, err := h.messages.Attachment(c.Request.Context(), addr.ID, c.Param("msgId"), c.Param("attId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	c.Data(http.StatusOK, contentType, att.Content)
}

type flagRequest struct {
	Starred  *bool `json:"starred"`
	Archived *bool `json:"archived"`
	Spam     *bool `json:"spam"`
}

func (r flagRequest) value(flag domain.Flag) *bool {
	switch flag {
	case domain.FlagStarred:
		return r.Starred
	case domain.FlagArchived:
		return r.Archived
	case domain.FlagSpam:
		return r.Spam
	}
	return nil
}

// SetFlag 返回设置指定标记的处理函数
// @Summary 设置邮件标记
// @Description star 接收 {starred}，archive 接收 {archived}，spam 接收 {spam}
// @Tags Messages
// @Accept json
// @Produce json
// @Param id path string true "邮箱ID"
// @Param msgId path string true "邮件ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /emails/{id}/received/{msgId}/star [patch]
func (h *MessageHandler) SetFlag(flag domain.Flag) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req flagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		value := req.value(flag)
		if value == nil {
			BadRequest(c, MsgInvalidFlagBody)
			return
		}

		addr := middleware.CurrentAddress(c)
		msgID := c.Param("msgId")
		if err := h.messages.SetFlag(c.Request.Context(), addr.ID, msgID, flag, *value); err != nil {
			respondError(c, h.log, err)
			return
		}
		Success(c, gin.H{"id": msgID, string(flag): *value})
	}
}

// Delete 删除邮件
// @Summary 删除邮件
// @Tags Messages
// @Param id path string true "邮箱ID"
// @Param msgId path string true "邮件ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /emails/{id}/received/{msgId} [delete]
func (h *MessageHandler) Delete(c *gin.Context) {
	addr := middleware.CurrentAddress(c)
	if err := h.messages.Delete(c.Request.Context(), addr.ID, c.Param("msgId")); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "邮件已删除", nil)
}

type bulkRequest struct {
	EmailIDs []string `json:"emailIds"`
}

// Bulk 批量删除、归档或标记垃圾邮件
// @Summary 批量操作邮件
// @Description 不属于该邮箱的ID会被忽略，返回实际影响数量
// @Tags Messages
// @Accept json
// @Produce json
// @Param id path string true "邮箱ID"
// @Param action path string true "delete | archive | spam"
// @Param request body bulkRequest true "邮件ID列表"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /emails/{id}/received/bulk/{action} [post]
func (h *MessageHandler) Bulk(c *gin.Context) {
	action, err := domain.ParseBulkAction(c.Param("action"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	addr := middleware.CurrentAddress(c)
	affected, err := h.messages.Bulk(c.Request.Context(), addr.ID, req.EmailIDs, action)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordBulk(string(action), affected)
	}
	Success(c, gin.H{"affected": affected})
}
