package session

import (
	"errors"
	"fmt"
)

var (
	ErrMissingConfig      = errors.New("scenario config is missing")
	ErrInvalidEnginePath  = errors.New("engine executable is invalid")
	ErrNetworkFileMissing = errors.New("network file referenced by the scenario config is missing")
	ErrHandshakeFailed    = errors.New("engine handshake failed")

	ErrNotConnected      = errors.New("not connected")
	ErrEngineUnreachable = errors.New("engine unreachable")
	ErrEngineFailed      = errors.New("engine call failed")
)

// ConnectErrorKind 连接失败原因
type ConnectErrorKind int

const (
	MissingConfig ConnectErrorKind = iota
	InvalidEnginePath
	NetworkFileMissing
	HandshakeFailed
)

func (k ConnectErrorKind) sentinel() error {
	switch k {
	case MissingConfig:
		return ErrMissingConfig
	case InvalidEnginePath:
		return ErrInvalidEnginePath
	case NetworkFileMissing:
		return ErrNetworkFileMissing
	default:
		return ErrHandshakeFailed
	}
}

func (k ConnectErrorKind) String() string {
	switch k {
	case MissingConfig:
		return "MissingConfig"
	case InvalidEnginePath:
		return "InvalidEnginePath"
	case NetworkFileMissing:
		return "NetworkFileMissing"
	default:
		return "HandshakeFailed"
	}
}

// ConnectError 连接或重启引擎失败，失败后会话处于断开状态
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind.sentinel(), e.Err)
}

// Unwrap 同时匹配类别哨兵错误与底层错误
func (e *ConnectError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func connectError(kind ConnectErrorKind, format string, args ...any) *ConnectError {
	return &ConnectError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// StepErrorKind 步进失败原因
type StepErrorKind int

const (
	NotConnected      StepErrorKind = iota
	EngineUnreachable               // 连接已断开，会话随之转为断开状态
	EngineFailed                    // 引擎返回错误，连接仍然可用
)

func (k StepErrorKind) sentinel() error {
	switch k {
	case NotConnected:
		return ErrNotConnected
	case EngineUnreachable:
		return ErrEngineUnreachable
	default:
		return ErrEngineFailed
	}
}

func (k StepErrorKind) String() string {
	switch k {
	case NotConnected:
		return "NotConnected"
	case EngineUnreachable:
		return "EngineUnreachable"
	default:
		return "EngineFailed"
	}
}

// StepError 步进（以及其他需要连接的命令）失败
type StepError struct {
	Kind StepErrorKind
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind.sentinel(), e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

var errNotConnected = &StepError{Kind: NotConnected}
