package entity

import (
	"errors"
	"fmt"
)

// TransportErrorKind 传输层错误类别
type TransportErrorKind int

const (
	TransportRemote         TransportErrorKind = iota // 引擎返回的业务错误，连接仍然可用
	TransportConnectionLost                           // 连接已断开（对端关闭、连接重置、管道断裂）
	TransportProtocol                                 // 响应无法解析
)

func (k TransportErrorKind) String() string {
	switch k {
	case TransportRemote:
		return "remote"
	case TransportConnectionLost:
		return "connection lost"
	case TransportProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("TransportErrorKind(%d)", int(k))
	}
}

// TransportError 引擎调用错误，类别由传输层在边界处确定
type TransportError struct {
	Kind   TransportErrorKind
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("engine %s: %s: %v", e.Method, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsConnectionLost 判断错误链中是否包含连接断开
func IsConnectionLost(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == TransportConnectionLost
}
