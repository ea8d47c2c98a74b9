// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/FlagLens/internal/errors"
	"github.com/Corphon/FlagLens/internal/intake"
	"github.com/Corphon/FlagLens/internal/utils"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct {
	logger *utils.Logger
}

// NewResponseHelper 创建响应助手
func NewResponseHelper(logger *utils.Logger) *ResponseHelper {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &ResponseHelper{logger: logger}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: message,
	}
	if len(details) > 0 {
		apiError.Details = details[0]
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// FromError maps an AppError onto status code, error code and the message
// the page shows. Errors without a type are reported as internal and their
// text is only logged.
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		rh.logger.Error("unhandled error", map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": rh.getRequestID(c),
			"error":      err,
		})
		rh.InternalError(c, "Something went wrong, please try again")
		return
	}

	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		switch intake.ReasonOf(err) {
		case intake.ReasonSize:
			rh.Error(c, http.StatusRequestEntityTooLarge, ErrorImageTooLarge, appErr.UserMessage())
		case intake.ReasonType:
			rh.Error(c, http.StatusUnsupportedMediaType, ErrorUnsupportedImage, appErr.UserMessage())
		default:
			rh.Error(c, http.StatusBadRequest, ErrorInvalidImage, appErr.UserMessage())
		}
	case apperrors.ErrorTypeService:
		rh.Error(c, http.StatusBadGateway, ErrorAnalysisFailed, appErr.UserMessage())
	case apperrors.ErrorTypeNotFound:
		rh.Error(c, http.StatusNotFound, ErrorSessionNotFound, appErr.UserMessage())
	case apperrors.ErrorTypeConflict:
		rh.Error(c, http.StatusConflict, ErrorAnalysisInProgress, appErr.UserMessage())
	case apperrors.ErrorTypeUnavailable:
		rh.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable, appErr.UserMessage())
	default:
		rh.logger.Error("internal error", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err,
		})
		rh.InternalError(c, "Something went wrong, please try again")
	}
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
