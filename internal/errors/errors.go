// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// ErrorTypeValidation covers intake failures: bad file type, oversize, empty upload.
	ErrorTypeValidation ErrorType = "validation_error"
	// ErrorTypeService covers every failure of the remote analysis call.
	ErrorTypeService    ErrorType = "service_error"

	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeInternal    ErrorType = "internal_error"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// UserMessage is what gets shown to the person using the page. Service errors
// surface the provider message as-is.
func (e *AppError) UserMessage() string {
	if e.Type == ErrorTypeService && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewServiceError wraps a failed call to the remote analysis service.
func NewServiceError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeService, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewUnavailableError 服务未就绪
func NewUnavailableError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnavailable, message, originalError)
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeInternal.
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ErrorTypeInternal
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeValidation
}

// IsServiceError 检查是否为分析服务错误
func IsServiceError(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeService
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeNotFound
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeConflict
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "INVALID_IMAGE"
	case ErrorTypeService:
		return "ANALYSIS_FAILED"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeConflict:
		return "ANALYSIS_IN_PROGRESS"
	case ErrorTypeUnavailable:
		return "LLM_SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
