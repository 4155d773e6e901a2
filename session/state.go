package session

// State 会话状态
// Disconnected -> Connecting -> Connected -> {Stepping, ContinuousRunning} -> Disconnected
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Stepping          // Connected的子状态：单步进行中
	ContinuousRunning // Connected的子状态：连续模式运行中
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Stepping:
		return "Stepping"
	case ContinuousRunning:
		return "ContinuousRunning"
	default:
		return "Disconnected"
	}
}

// IsConnected 是否为Connected或其子状态
func (s State) IsConnected() bool {
	return s >= Connected
}

// StepMode 步进模式
type StepMode int

const (
	SingleStep StepMode = iota
	Continuous
)

func (m StepMode) String() string {
	if m == Continuous {
		return "Continuous"
	}
	return "Single"
}
