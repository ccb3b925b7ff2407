package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/engine/internal/service"
)

// DomainHandler 处理邮件域名
type DomainHandler struct {
	domains *service.DomainService
	log     *zap.Logger
}

// NewDomainHandler 创建域名处理器
func NewDomainHandler(domains *service.DomainService, log *zap.Logger) *DomainHandler {
	return &DomainHandler{domains: domains, log: log}
}

// List 公开的可用域名列表
// @Summary 获取可用域名
// @Tags Domains
// @Produce json
// @Success 200 {object} Response
// @Router /domains [get]
func (h *DomainHandler) List(c *gin.Context) {
	domains, err := h.domains.List(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, domains)
}

type createDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// Create 注册域名
// @Summary 添加域名（管理员）
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body createDomainRequest true "域名"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /admin/domains [post]
func (h *DomainHandler) Create(c *gin.Context) {
	var req createDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	d, err := h.domains.Create(c.Request.Context(), req.Domain)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "域名已添加", d)
}

// Delete 删除域名，仍有存活地址时返回冲突
// @Summary 删除域名（管理员）
// @Tags Admin
// @Param id path string true "域名ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /admin/domains/{id} [delete]
func (h *DomainHandler) Delete(c *gin.Context) {
	if err := h.domains.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "域名已删除", nil)
}
