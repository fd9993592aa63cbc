package agent

import (
	"errors"

	"github.com/BaSui01/orchestra/types"
)

var (
	// ErrBreakerOpen 熔断器已打开，调用被拒绝
	ErrBreakerOpen = errors.New("agent breaker open")

	// ErrTimeout 调用超时
	ErrTimeout = errors.New("agent invocation timed out")

	// ErrLogicPanic 领域逻辑发生 panic
	ErrLogicPanic = errors.New("agent logic panicked")

	// ErrPingUnsupported 逻辑未实现 Pinger
	ErrPingUnsupported = errors.New("agent logic does not support ping")

	// ErrInvalidIdentity 身份配置无效
	ErrInvalidIdentity = errors.New("invalid agent identity")

	// ErrNilLogic 未提供领域逻辑
	ErrNilLogic = errors.New("agent logic is nil")
)

// CodeOf 将调用错误映射为统一错误码。
func CodeOf(err error) types.ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBreakerOpen):
		return types.ErrBreakerOpen
	case errors.Is(err, ErrTimeout):
		return types.ErrTimeout
	default:
		return types.ErrAgentFailed
	}
}
