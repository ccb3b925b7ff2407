package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/service"
)

// AddressAccess 校验路径中的地址属于当前调用方且未过期
type AddressAccess struct {
	addresses *service.AddressService
	log       *zap.Logger
}

// NewAddressAccess 创建地址访问中间件
func NewAddressAccess(addresses *service.AddressService, log *zap.Logger) *AddressAccess {
	if log == nil {
		log = zap.NewNop()
	}
	return &AddressAccess{addresses: addresses, log: log}
}

// RequireOwnedAddress 加载 :id 对应的地址并存入上下文
func (aa *AddressAccess) RequireOwnedAddress() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id == "" {
			abort(c, http.StatusBadRequest, "缺少邮箱ID")
			return
		}

		addr, err := aa.addresses.Get(c.Request.Context(), id, OwnerID(c))
		switch {
		case err == nil:
			c.Set(ContextAddress, addr)
			c.Next()
		case errors.Is(err, domain.ErrNotFound):
			abort(c, http.StatusNotFound, "邮箱不存在或已过期")
		default:
			aa.log.Error("load address failed", zap.String("address_id", id), zap.Error(err))
			abort(c, http.StatusInternalServerError, "服务器内部错误")
		}
	}
}

// CurrentAddress 取出 RequireOwnedAddress 放入上下文的地址
func CurrentAddress(c *gin.Context) *domain.TemporaryAddress {
	v, ok := c.Get(ContextAddress)
	if !ok {
		return nil
	}
	addr, _ := v.(*domain.TemporaryAddress)
	return addr
}
