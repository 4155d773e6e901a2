package junction

import (
	"context"
	"errors"
	"strconv"
	"strings"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/entity/junction/trafficlight"
)

// EditState 相位编辑状态
type EditState int

const (
	StateListing       EditState = iota // 浏览控制器（可能已选中控制器但未选相位）
	StatePhaseSelected                  // 已选中相位，尚未选择编辑模式
	StateEditing                        // 已选择编辑模式，等待提交
)

func (s EditState) String() string {
	switch s {
	case StatePhaseSelected:
		return "PhaseSelected"
	case StateEditing:
		return "Editing"
	default:
		return "Listing"
	}
}

// Mode 相位编辑模式
type Mode int

const (
	ModeNone Mode = iota
	ModeAllRed
	ModeAllYellow
	ModeAllGreen
	ModeCustom
)

func (m Mode) String() string {
	switch m {
	case ModeAllRed:
		return "AllRed"
	case ModeAllYellow:
		return "AllYellow"
	case ModeAllGreen:
		return "AllGreen"
	case ModeCustom:
		return "Custom"
	default:
		return "None"
	}
}

// ParseMode 解析模式名（不区分大小写）
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "allred", "red":
		return ModeAllRed, true
	case "allyellow", "yellow":
		return ModeAllYellow, true
	case "allgreen", "green":
		return ModeAllGreen, true
	case "custom":
		return ModeCustom, true
	}
	return ModeNone, false
}

func (m Mode) color() mapv2.LightState {
	switch m {
	case ModeAllRed:
		return mapv2.LightState_LIGHT_STATE_RED
	case ModeAllYellow:
		return mapv2.LightState_LIGHT_STATE_YELLOW
	case ModeAllGreen:
		return mapv2.LightState_LIGHT_STATE_GREEN
	}
	return mapv2.LightState_LIGHT_STATE_UNSPECIFIED
}

// editSession 当前编辑会话
type editSession struct {
	token      string
	controller *Controller
	phaseIndex int
	mode       Mode
	uniform    string   // 统一颜色模式下预先计算的状态
	seen       [32]byte // 选择相位时程序的指纹
}

func newEditSession() editSession {
	return editSession{phaseIndex: -1}
}

func (e *editSession) state() EditState {
	switch {
	case e.controller == nil || e.phaseIndex < 0:
		return StateListing
	case e.mode == ModeNone:
		return StatePhaseSelected
	default:
		return StateEditing
	}
}

// discard 丢弃编辑缓冲，回到相位已选中状态
func (e *editSession) discard() {
	if e.controller != nil {
		e.controller.customState = nil
	}
	e.mode = ModeNone
	e.uniform = ""
}

// State 当前编辑状态
func (m *JunctionManager) State() EditState {
	return m.edit.state()
}

// Mode 当前编辑模式
func (m *JunctionManager) Mode() Mode {
	return m.edit.mode
}

// Selected 当前选中的控制器与相位下标（未选相位时为-1）
func (m *JunctionManager) Selected() (*Controller, int) {
	return m.edit.controller, m.edit.phaseIndex
}

// Token 当前编辑会话的令牌，选择控制器时生成
func (m *JunctionManager) Token() string {
	return m.edit.token
}

// CheckToken 校验调用方持有的令牌；空令牌不校验
func (m *JunctionManager) CheckToken(token string) error {
	if token == "" || token == m.edit.token {
		return nil
	}
	return &EditError{Op: "check token", Err: ErrStaleSession}
}

// Pending 提交时将写入的状态字符串
func (m *JunctionManager) Pending() string {
	if m.edit.mode == ModeCustom && m.edit.controller != nil {
		return m.edit.controller.CustomState()
	}
	return m.edit.uniform
}

// SelectController 选择控制器
// 功能：读取受控车道与第一个程序的相位列表，开启新的编辑会话
// 返回：按下标标记的相位名列表
// 说明：之前未提交的编辑被丢弃
func (m *JunctionManager) SelectController(ctx context.Context, id string) ([]string, error) {
	c, err := m.GetOrError(id)
	if err != nil {
		return nil, err
	}
	lanes, err := m.eng.SignalControlledLanes(ctx, id)
	if err != nil {
		return nil, err
	}
	l, err := m.firstLogic(ctx, id)
	if err != nil {
		return nil, err
	}
	m.edit.discard()
	c.controlledLanes = lanes
	c.setLogic(l)
	m.edit = editSession{
		token:      newToken(),
		controller: c,
		phaseIndex: -1,
	}
	log.Debugf("traffic light %s selected with %d phases", id, len(c.phases))
	return c.PhaseLabels(), nil
}

// SelectPhase 选择要编辑的相位，不访问引擎
func (m *JunctionManager) SelectPhase(index int) error {
	c := m.edit.controller
	if c == nil {
		return &EditError{Op: "select phase", Err: ErrNoController}
	}
	if index < 0 || index >= len(c.phases) {
		return &EditError{Op: "select phase", ID: c.id, Err: trafficlight.ErrPhaseIndex}
	}
	m.edit.discard()
	m.edit.phaseIndex = index
	m.edit.seen = trafficlight.Fingerprint(entity.Logic{ProgramID: c.programID, Phases: c.phases})
	return nil
}

// EnterMode 选择编辑模式
// 功能：统一颜色模式按控制器当前状态长度预先生成状态字符串；
// 自定义模式将控制器的实时状态复制到编辑缓冲
func (m *JunctionManager) EnterMode(ctx context.Context, mode Mode) error {
	c := m.edit.controller
	if c == nil {
		return &EditError{Op: "enter mode", Err: ErrNoController}
	}
	if m.edit.phaseIndex < 0 {
		return &EditError{Op: "enter mode", ID: c.id, Err: ErrNoPhase}
	}
	if mode == ModeNone {
		m.edit.discard()
		return nil
	}
	live, err := m.eng.SignalState(ctx, c.id)
	if err != nil {
		return err
	}
	m.edit.discard()
	if mode == ModeCustom {
		c.customState = []byte(live)
	} else {
		m.edit.uniform = trafficlight.Uniform(mode.color(), len(live))
	}
	m.edit.mode = mode
	return nil
}

// SetLaneColor 在自定义相位缓冲中将车道lane的所有槽位写为颜色color
// 返回：被修改的槽位数
func (m *JunctionManager) SetLaneColor(lane string, color string) (int, error) {
	c := m.edit.controller
	if c == nil {
		return 0, &EditError{Op: "set lane color", Err: ErrNoController}
	}
	if m.edit.mode != ModeCustom || c.customState == nil {
		return 0, &EditError{Op: "set lane color", ID: c.id, Err: ErrNotCustom}
	}
	if len(color) != 1 {
		return 0, &EditError{Op: "set lane color", ID: c.id, Err: ErrBadColor}
	}
	ch := trafficlight.ColorChar(trafficlight.ParseColor(color[0]))
	if ch == 0 || color[0] == 'u' || color[0] == 'U' {
		return 0, &EditError{Op: "set lane color", ID: c.id, Err: ErrBadColor}
	}
	return trafficlight.Paint(c.customState, c.controlledLanes, lane, ch), nil
}

// ParseDuration 解析用户输入的相位时长，必须为正数
func ParseDuration(text string) (float64, error) {
	d, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || !(d > 0) {
		return 0, ErrBadDuration
	}
	return d, nil
}

// Commit 提交当前编辑
// 功能：用{状态, 时长}替换选中相位，写回整个程序并重新激活
// 参数：ctx-上下文，durationText-用户输入的时长
// 算法说明：
// 1. 校验：必须已选择模式，时长必须能解析为正数；校验失败不访问引擎
// 2. 重新读取权威程序，避免覆盖他人在此期间的修改
// 3. strict模式下比较程序指纹，不一致则拒绝
// 4. 替换相位、写回程序、按程序ID重新激活
// 5. 丢弃编辑缓冲，回到相位已选中状态
func (m *JunctionManager) Commit(ctx context.Context, durationText string) error {
	c := m.edit.controller
	if c == nil {
		return &EditError{Op: "commit", Err: ErrNoController}
	}
	if m.edit.phaseIndex < 0 {
		return &EditError{Op: "commit", ID: c.id, Err: ErrNoPhase}
	}
	if m.edit.mode == ModeNone {
		return &EditError{Op: "commit", ID: c.id, Err: ErrNoMode}
	}
	duration, err := ParseDuration(durationText)
	if err != nil {
		return &EditError{Op: "commit", ID: c.id, Err: err}
	}
	state := m.Pending()

	l, err := m.firstLogic(ctx, c.id)
	if err != nil {
		return err
	}
	if m.strict && trafficlight.Fingerprint(l) != m.edit.seen {
		c.setLogic(l)
		return &EditError{Op: "commit", ID: c.id, Err: ErrConcurrentEdit}
	}
	next, err := trafficlight.ReplacePhase(l, m.edit.phaseIndex, entity.Phase{State: state, Duration: duration})
	if err != nil {
		c.setLogic(l)
		return &EditError{Op: "commit", ID: c.id, Err: err}
	}
	if err := m.pushLogic(ctx, c.id, next); err != nil {
		return err
	}
	c.setLogic(next)
	m.edit.discard()
	m.edit.seen = trafficlight.Fingerprint(next)
	log.Infof("traffic light %s: phase %d updated to %q for %gs", c.id, m.edit.phaseIndex, state, duration)
	return nil
}

// Abandon 放弃当前编辑，回到相位已选中状态
func (m *JunctionManager) Abandon() {
	m.edit.discard()
}

// AddPhase 以控制器当前实时状态与相位时长克隆出一个新相位并追加到程序末尾
func (m *JunctionManager) AddPhase(ctx context.Context) error {
	c := m.edit.controller
	if c == nil {
		return &EditError{Op: "add phase", Err: ErrNoController}
	}
	l, err := m.firstLogic(ctx, c.id)
	if err != nil {
		return err
	}
	state, err := m.eng.SignalState(ctx, c.id)
	if err != nil {
		return err
	}
	duration, err := m.eng.SignalPhaseDuration(ctx, c.id)
	if err != nil {
		return err
	}
	next := trafficlight.AppendPhase(l, entity.Phase{State: state, Duration: duration})
	if err := m.pushLogic(ctx, c.id, next); err != nil {
		return err
	}
	c.setLogic(next)
	m.afterProgramChange(next)
	log.Infof("traffic light %s: new phase added", c.id)
	return nil
}

// RemovePhase 删除第index个相位
// 说明：会导致程序没有相位的删除被拒绝（不访问引擎写接口，记录警告）
func (m *JunctionManager) RemovePhase(ctx context.Context, index int) error {
	c := m.edit.controller
	if c == nil {
		return &EditError{Op: "remove phase", Err: ErrNoController}
	}
	l, err := m.firstLogic(ctx, c.id)
	if err != nil {
		return err
	}
	next, err := trafficlight.RemovePhase(l, index)
	if err != nil {
		c.setLogic(l)
		if errors.Is(err, trafficlight.ErrLastPhase) {
			log.Warnf("traffic light %s: can not remove last remaining phase", c.id)
			return &EditError{Op: "remove phase", ID: c.id, Err: ErrLastPhase}
		}
		return &EditError{Op: "remove phase", ID: c.id, Err: err}
	}
	if err := m.pushLogic(ctx, c.id, next); err != nil {
		return err
	}
	c.setLogic(next)
	if m.edit.phaseIndex == index {
		m.edit.discard()
		m.edit.phaseIndex = -1
	} else if m.edit.phaseIndex > index {
		m.edit.phaseIndex--
	}
	m.afterProgramChange(next)
	log.Infof("traffic light %s: phase %d removed", c.id, index)
	return nil
}

// afterProgramChange 本会话自己修改程序后更新指纹，避免strict模式误判
func (m *JunctionManager) afterProgramChange(l entity.Logic) {
	if m.edit.phaseIndex >= 0 {
		m.edit.seen = trafficlight.Fingerprint(l)
	}
}
