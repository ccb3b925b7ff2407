package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/engine/internal/middleware"
	"tempmail/engine/internal/service"
)

// AddressHandler 处理临时地址相关请求
type AddressHandler struct {
	addresses *service.AddressService
	log       *zap.Logger
}

// NewAddressHandler 创建地址处理器
func NewAddressHandler(addresses *service.AddressService, log *zap.Logger) *AddressHandler {
	return &AddressHandler{addresses: addresses, log: log}
}

type createAddressRequest struct {
	Email    string `json:"email"`
	DomainID string `json:"domainId" binding:"required"`
}

// Create 创建临时地址
// @Summary 创建临时邮箱
// @Description email 为空时随机生成，可为本地部分或完整地址
// @Tags Emails
// @Accept json
// @Produce json
// @Param request body createAddressRequest true "邮箱参数"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Failure 503 {object} Response
// @Router /emails/create [post]
func (h *AddressHandler) Create(c *gin.Context) {
	var req createAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	addr, err := h.addresses.Create(c.Request.Context(), service.CreateAddressInput{
		OwnerID:  middleware.OwnerID(c),
		Email:    req.Email,
		DomainID: req.DomainID,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "邮箱创建成功", addr)
}

// List 列出调用方的存活地址
// @Summary 获取邮箱列表
// @Description 返回调用方未过期的邮箱，附带最新一封邮件的摘要
// @Tags Emails
// @Produce json
// @Success 200 {object} Response
// @Router /emails [get]
func (h *AddressHandler) List(c *gin.Context) {
	items, err := h.addresses.List(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, items)
}

// Get 返回地址详情，地址已由中间件加载
// @Summary 获取邮箱详情
// @Tags Emails
// @Produce json
// @Param id path string true "邮箱ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /emails/{id} [get]
func (h *AddressHandler) Get(c *gin.Context) {
	Success(c, middleware.CurrentAddress(c))
}

// Delete 删除地址及其全部邮件
// @Summary 删除临时邮箱
// @Tags Emails
// @Param id path string true "邮箱ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /emails/delete/{id} [delete]
func (h *AddressHandler) Delete(c *gin.Context) {
	if err := h.addresses.Delete(c.Request.Context(), c.Param("id"), middleware.OwnerID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "邮箱已删除", nil)
}
