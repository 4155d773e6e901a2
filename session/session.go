// Package session 仿真会话：管理引擎连接的生命周期与步进节奏，承载展示层的全部命令
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tsinghua-fib-lab/traffic-console/clock"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/entity/junction"
	"github.com/tsinghua-fib-lab/traffic-console/entity/lane"
	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
	"github.com/tsinghua-fib-lab/traffic-console/utils/config"
	"github.com/tsinghua-fib-lab/traffic-console/viewport"
)

// Options 会话参数
type Options struct {
	Engine       config.Engine  // 默认引擎路径、场景配置、允许的可执行文件名、追加参数
	Control      config.Control // 速度档位与心跳
	StrictCommit bool           // 相位提交前检查程序是否被他人修改
	Canvas       viewport.Canvas
	Listener     Listener
}

// Session 仿真会话
// 功能：独占引擎连接与视图状态，串行化全部引擎访问，每步生成并原子发布快照
// 说明：锁的顺序为lifecycleMu -> engineMu -> mu；连续模式的停止等待只能在不持有engineMu时进行
type Session struct {
	eng  entity.IEngine
	opts Options

	lifecycleMu sync.Mutex // 串行化connect/reset/disconnect
	engineMu    sync.Mutex // 串行化全部引擎访问

	mu      sync.Mutex
	state   State
	live    bool // 引擎已启动且尚未关闭
	busy    bool // connect/reset进行中
	pending bool // connect/reset期间收到的断开请求
	gen     uint64 // 每次成功connect/reset加一，标识当前这条引擎连接

	// 以下字段在engineMu内访问
	args      []string
	acc       telemetry.Accumulator
	clock     *clock.Clock
	agg       *telemetry.Aggregator
	junctions *junction.JunctionManager
	injected  int64

	lanes    *lane.LaneManager
	frame    atomic.Pointer[telemetry.Frame] // 最近一次完成步进的结果
	boundary atomic.Pointer[entity.Boundary]

	viewMu   sync.RWMutex
	view     viewport.Viewport
	filter   viewport.FilterMode
	labels   [2]bool // 车辆标签、信号灯标签
	canvas   viewport.Canvas
	loopMu   sync.Mutex
	loop     *loop
	speed    atomic.Int32
	stepping atomic.Bool

	events *dispatcher
	ctx    context.Context // 连续模式使用的基础上下文
	cancel context.CancelFunc
}

// New 创建会话，初始为断开状态
func New(eng entity.IEngine, opts Options) *Session {
	opts.Control.SpeedLevel = clampLevel(opts.Control.SpeedLevel)
	if opts.Control.Heartbeat <= 0 {
		opts.Control.Heartbeat = config.DefaultHeartbeat
	}
	if len(opts.Engine.Executables) == 0 {
		opts.Engine.Executables = config.DefaultExecutables
	}
	if opts.Canvas.Width <= 0 || opts.Canvas.Height <= 0 {
		opts.Canvas = viewport.Canvas{Width: 1200, Height: 800}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		eng:       eng,
		opts:      opts,
		clock:     clock.New(),
		agg:       telemetry.New(eng),
		junctions: junction.NewManager(eng, opts.StrictCommit),
		lanes:     lane.NewManager(),
		view:      viewport.Default(),
		canvas:    opts.Canvas,
		events:    newDispatcher(opts.Listener, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.speed.Store(int32(opts.Control.SpeedLevel))
	return s
}

// Close 断开连接并停止事件投递，会话不可再用
func (s *Session) Close(ctx context.Context) {
	s.Disconnect(ctx)
	s.cancel()
	s.events.close()
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != Connected {
		return state
	}
	if s.Continuous() {
		return ContinuousRunning
	}
	if s.stepping.Load() {
		return Stepping
	}
	return Connected
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		log.Infof("session state: %v", state)
		s.events.state(state)
	}
}

func (s *Session) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Connected
}

// Clock 会话时钟（步数与引擎时间）
func (s *Session) Clock() *clock.Clock {
	return s.clock
}

// Lanes 车道几何缓存（只读共享给渲染侧）
func (s *Session) Lanes() *lane.LaneManager {
	return s.lanes
}

// Last 最近一次完成步进的结果，尚未步进时返回nil
func (s *Session) Last() *telemetry.Frame {
	return s.frame.Load()
}

// Snapshot 最近一次完成步进的快照
func (s *Session) Snapshot() (telemetry.Snapshot, bool) {
	f := s.frame.Load()
	if f == nil {
		return telemetry.Snapshot{}, false
	}
	return f.Snapshot, true
}

// Boundary 当前连接的路网范围
func (s *Session) Boundary() (entity.Boundary, bool) {
	b := s.boundary.Load()
	if b == nil {
		return entity.Boundary{}, false
	}
	return *b, true
}

// withEngine 在引擎锁内执行需要连接的命令，连接断开时转入断开状态
func (s *Session) withEngine(ctx context.Context, f func(ctx context.Context) error) error {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	if !s.connected() {
		return errNotConnected
	}
	return s.engineFailed(f(ctx))
}

// engineFailed 识别连接断开：立即标记为断开，并在后台完成清理
func (s *Session) engineFailed(err error) error {
	if err == nil || !entity.IsConnectionLost(err) {
		return err
	}
	s.mu.Lock()
	wasConnected := s.state == Connected
	if wasConnected {
		s.state = Disconnected
	}
	gen := s.gen
	s.mu.Unlock()
	if wasConnected {
		log.Errorf("engine connection lost: %v", err)
		s.events.state(Disconnected)
		s.events.error(err)
		go s.disconnectGen(context.Background(), gen)
	}
	return &StepError{Kind: EngineUnreachable, Err: err}
}
