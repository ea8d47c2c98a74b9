// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 图片相关错误
	ErrorInvalidImage     = "INVALID_IMAGE"
	ErrorImageTooLarge    = "IMAGE_TOO_LARGE"
	ErrorUnsupportedImage = "UNSUPPORTED_IMAGE_TYPE"

	// 分析相关错误
	ErrorAnalysisFailed     = "ANALYSIS_FAILED"
	ErrorAnalysisInProgress = "ANALYSIS_IN_PROGRESS"
	ErrorSessionNotFound    = "SESSION_NOT_FOUND"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorLLMProviderMissing    = "LLM_PROVIDER_MISSING"
)
