package junction

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownController = errors.New("unknown traffic light")
	ErrNoController      = errors.New("no traffic light selected")
	ErrNoPhase           = errors.New("no phase selected")
	ErrNoMode            = errors.New("no phase mode selected")
	ErrNotCustom         = errors.New("custom phase mode is not active")
	ErrBadColor          = errors.New("color must be one of r, y, g")
	ErrBadDuration       = errors.New("duration must be a positive number")
	ErrLastPhase         = errors.New("can not remove last remaining phase")
	ErrNoProgram         = errors.New("traffic light has no program")
	ErrConcurrentEdit    = errors.New("program was changed by someone else since the phase was selected")
	ErrStaleSession      = errors.New("edit session token does not match")
)

// EditError 相位编辑错误，阻止本次提交但不影响仿真步进
type EditError struct {
	Op  string
	ID  string
	Err error
}

func (e *EditError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// IsEditError 判断是否为编辑错误（而非引擎错误）
func IsEditError(err error) bool {
	var ee *EditError
	return errors.As(err, &ee)
}
