package public

import "github.com/credit-ledger/internal/provider"

// Handler 用户侧与支付回调接口处理器入口
type Handler struct {
	*provider.Container
}

// New 创建前台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
