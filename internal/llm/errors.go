package llm

import (
	"fmt"
	"strings"
)

// ErrorType categorizes provider errors for retry and user messaging
// decisions. Transient errors are retried with backoff; fatal errors
// surface to the user immediately.
type ErrorType string

const (
	ErrorTypeUnknown         ErrorType = "unknown"
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeOverloaded      ErrorType = "overloaded"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeBilling         ErrorType = "billing"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeFormat          ErrorType = "format"
)

// Classify determines the error type from an error message. Providers and
// gateways disagree on status codes and phrasing, so this matches known
// patterns across Anthropic, OpenAI and OpenAI-compatible servers.
func Classify(msg string) ErrorType {
	if msg == "" {
		return ErrorTypeUnknown
	}
	switch {
	case isContextOverflowMessage(msg):
		return ErrorTypeContextOverflow
	case isRateLimitMessage(msg):
		return ErrorTypeRateLimit
	case isOverloadedMessage(msg):
		return ErrorTypeOverloaded
	case isBillingMessage(msg):
		return ErrorTypeBilling
	case isAuthMessage(msg):
		return ErrorTypeAuth
	case isTimeoutMessage(msg):
		return ErrorTypeTimeout
	case isFormatMessage(msg):
		return ErrorTypeFormat
	}
	return ErrorTypeUnknown
}

// ClassifyError is Classify over an error value.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	return Classify(err.Error())
}

// IsTransient reports whether the error is worth retrying: timeouts,
// connection failures, rate limits and overloaded/5xx responses. Auth,
// billing, format and context-overflow errors never clear on retry.
func IsTransient(err error) bool {
	switch ClassifyError(err) {
	case ErrorTypeRateLimit, ErrorTypeOverloaded, ErrorTypeTimeout:
		return true
	}
	return false
}

// FormatForUser returns a short user-facing description of the failure.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}
	switch ClassifyError(err) {
	case ErrorTypeContextOverflow:
		return "The conversation grew too large for the model. It has been compacted; please try again."
	case ErrorTypeRateLimit:
		return "Rate limited by the AI provider. Please wait a moment and try again."
	case ErrorTypeOverloaded:
		return "The AI service is temporarily overloaded. Please try again shortly."
	case ErrorTypeAuth:
		return "Authentication with the AI provider failed. Check the API key configuration."
	case ErrorTypeBilling:
		return "Billing issue with the AI provider. Check the account credits."
	case ErrorTypeTimeout:
		return "The request timed out. Please try again."
	case ErrorTypeFormat:
		return "Message format error. Resetting the session may help."
	}
	return fmt.Sprintf("LLM error: %v", err)
}

func isContextOverflowMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "context_length_exceeded") ||
		strings.Contains(lower, "context length exceeded") ||
		strings.Contains(lower, "context size has been exceeded") ||
		strings.Contains(lower, "maximum context length") ||
		strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "request_too_large") ||
		strings.Contains(lower, "exceeds model context window") ||
		strings.Contains(lower, "context overflow")
}

func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "requests per minute")
}

func isOverloadedMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "503") && (strings.Contains(lower, "service") || strings.Contains(lower, "unavailable")) {
		return true
	}
	if strings.Contains(lower, "500") && strings.Contains(lower, "internal") {
		return true
	}
	if strings.Contains(lower, "502") && strings.Contains(lower, "gateway") {
		return true
	}
	return strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "server is busy") ||
		strings.Contains(lower, "temporarily unavailable")
}

func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "401") ||
		strings.Contains(lower, "403") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid_api_key") ||
		strings.Contains(lower, "incorrect api key") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "authentication")
}

func isBillingMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "402") ||
		strings.Contains(lower, "payment required") ||
		strings.Contains(lower, "insufficient credits") ||
		strings.Contains(lower, "credit balance") ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "billing")
}

func isTimeoutMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "408") ||
		strings.Contains(lower, "504") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "eof")
}

func isFormatMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "invalid request format") ||
		strings.Contains(lower, "roles must alternate") ||
		strings.Contains(lower, "tool_use.id") ||
		strings.Contains(lower, "invalid_request_error") ||
		strings.Contains(lower, "malformed") ||
		strings.Contains(lower, "schema validation")
}
