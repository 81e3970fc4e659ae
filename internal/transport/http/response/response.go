package response

import "github.com/gin-gonic/gin"

const (
	CodeOK              = 0
	CodeBadRequest      = 40000
	CodeValidation      = 40001
	CodeUnauthorized    = 40100
	CodeNotFound        = 40400
	CodeIllegalState    = 40900
	CodeInternalServer  = 50000
	CodeUpstream        = 50200
	CodeUpstreamTimeout = 50400
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Reason  string      `json:"reason,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// Reasoned is Error with a machine-readable reason such as a validation code.
func Reasoned(c *gin.Context, httpStatus, code int, reason, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Reason:  reason,
	})
}

// Partial reports an outcome that carries data alongside an error, such as a
// chat reply whose assistant slot holds the failure.
func Partial(c *gin.Context, httpStatus, code int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}
