package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequestIDKey 请求 ID 在 gin 上下文中的键
const RequestIDKey = "request_id"

// Response 统一响应结构，HTTP 状态恒为 200，业务结果看 status_code
type Response struct {
	StatusCode int         `json:"status_code"`
	Msg        string      `json:"msg"`
	Data       interface{} `json:"data"`
	RequestID  string      `json:"request_id,omitempty"`
}

// PageResponse 分页响应结构
type PageResponse struct {
	Response
	Pagination Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"total_page"`
}

// NewPagination 计算总页数
func NewPagination(page, pageSize int, total int64) Pagination {
	p := Pagination{Page: page, PageSize: pageSize, Total: total}
	if pageSize > 0 {
		p.TotalPage = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	return p
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, build(c, CodeOK, "success", data))
}

// SuccessWithPage 分页成功响应
func SuccessWithPage(c *gin.Context, data interface{}, pagination Pagination) {
	c.JSON(http.StatusOK, PageResponse{
		Response:   build(c, CodeOK, "success", data),
		Pagination: pagination,
	})
}

// Error 业务错误响应
func Error(c *gin.Context, statusCode int, msg string) {
	ErrorWithStatus(c, http.StatusOK, statusCode, msg)
}

// ErrorWithStatus 指定 HTTP 状态码的错误响应，支付回调依赖真实状态码决定是否重试
func ErrorWithStatus(c *gin.Context, httpStatus, statusCode int, msg string) {
	c.JSON(httpStatus, build(c, statusCode, msg, nil))
}

// Unauthorized 未登录或令牌无效
func Unauthorized(c *gin.Context, msg string) {
	Error(c, CodeUnauthorized, msg)
}

func build(c *gin.Context, code int, msg string, data interface{}) Response {
	return Response{StatusCode: code, Msg: msg, Data: data, RequestID: requestID(c)}
}

func requestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	id, _ := c.Get(RequestIDKey)
	s, _ := id.(string)
	return s
}
