package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/engine/internal/middleware"
	"tempmail/engine/internal/service"
)

// NoticeHandler 处理系统公告
type NoticeHandler struct {
	notices *service.NoticeService
	log     *zap.Logger
}

// NewNoticeHandler 创建公告处理器
func NewNoticeHandler(notices *service.NoticeService, log *zap.Logger) *NoticeHandler {
	return &NoticeHandler{notices: notices, log: log}
}

// ListVisible 列出当前用户未关闭的公告
// @Summary 获取公告
// @Tags Notices
// @Produce json
// @Success 200 {object} Response
// @Router /messages [get]
func (h *NoticeHandler) ListVisible(c *gin.Context) {
	notices, err := h.notices.ListVisible(c.Request.Context(), c.GetString(middleware.ContextUserID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, notices)
}

// Dismiss 关闭公告，重复关闭视为成功
// @Summary 关闭公告
// @Tags Notices
// @Param id path string true "公告ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /messages/{id}/dismiss [post]
func (h *NoticeHandler) Dismiss(c *gin.Context) {
	if err := h.notices.Dismiss(c.Request.Context(), c.GetString(middleware.ContextUserID), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "公告已关闭", nil)
}

// ListAll 管理员查看全部公告
// @Summary 公告列表（管理员）
// @Tags Admin
// @Produce json
// @Success 200 {object} Response
// @Router /admin/messages [get]
func (h *NoticeHandler) ListAll(c *gin.Context) {
	notices, err := h.notices.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, notices)
}

type createNoticeRequest struct {
	Content string `json:"content" binding:"required"`
	Type    string `json:"type"`
}

// Create 发布公告
// @Summary 发布公告（管理员）
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body createNoticeRequest true "公告内容"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /admin/messages [post]
func (h *NoticeHandler) Create(c *gin.Context) {
	var req createNoticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	notice, err := h.notices.Create(c.Request.Context(), service.CreateNoticeInput{
		Content:   req.Content,
		Severity:  req.Type,
		CreatedBy: c.GetString(middleware.ContextUserID),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "公告已发布", notice)
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// SetActive 启用或停用公告
// @Summary 启停公告（管理员）
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "公告ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /admin/messages/{id} [patch]
func (h *NoticeHandler) SetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	notice, err := h.notices.SetActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, notice)
}
