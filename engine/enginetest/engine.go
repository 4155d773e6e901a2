// Package enginetest 提供内存实现的仿真引擎，供各模块测试使用
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
)

var (
	ErrNotStarted = errors.New("engine not started")
	ErrNoSuchID   = errors.New("no such id")
)

// Vehicle 内存车辆
type Vehicle struct {
	Speed     float64
	Distance  float64
	Departure float64
	Position  geometry.Point
	Angle     float64
	Lane      string
	Route     string
}

// Lane 内存车道
type Lane struct {
	Shape []geometry.Point
	Width float64
}

// Signal 内存信号控制器
type Signal struct {
	ControlledLanes []string
	State           string
	PhaseDuration   float64
	Program         string
	Logics          []entity.Logic
}

// Engine 内存引擎，所有方法并发安全
type Engine struct {
	mu sync.Mutex

	Boundary entity.Boundary
	Vehicles map[string]*Vehicle
	Edges    map[string][]Lane // 道路ID -> 车道（按序号）
	Signals  map[string]*Signal
	DT       float64

	// 故障注入
	FailVehicles map[string]error // 读取该车辆任意属性时返回错误
	FailSignals  map[string]error
	FailStart    error
	Lost         bool // 为true时所有调用返回连接断开

	started   bool
	t         float64
	StartArgs [][]string
	Steps     int
	Closes    int
	Calls     map[string]int
	OnStep    func(e *Engine) // 每步推进后回调（持锁）
}

// New 创建空的内存引擎
func New() *Engine {
	return &Engine{
		Boundary:     entity.Boundary{Max: geometry.Point{X: 100, Y: 100}},
		Vehicles:     make(map[string]*Vehicle),
		Edges:        make(map[string][]Lane),
		Signals:      make(map[string]*Signal),
		DT:           1,
		FailVehicles: make(map[string]error),
		FailSignals:  make(map[string]error),
		Calls:        make(map[string]int),
	}
}

// Lose 模拟引擎进程退出
func (e *Engine) Lose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Lost = true
}

// Started 是否已启动
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// CallCount 某方法的调用次数
func (e *Engine) CallCount(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Calls[method]
}

// Do 持锁修改引擎状态
func (e *Engine) Do(f func(e *Engine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(e)
}

func (e *Engine) enter(method string) error {
	e.Calls[method]++
	if e.Lost {
		return &entity.TransportError{Kind: entity.TransportConnectionLost, Method: method, Err: errors.New("connection reset by peer")}
	}
	if !e.started && method != "Start" {
		return &entity.TransportError{Kind: entity.TransportRemote, Method: method, Err: ErrNotStarted}
	}
	return nil
}

func remote(method string, err error) error {
	return &entity.TransportError{Kind: entity.TransportRemote, Method: method, Err: err}
}

func (e *Engine) Start(ctx context.Context, args []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("Start"); err != nil {
		return err
	}
	if e.FailStart != nil {
		return remote("Start", e.FailStart)
	}
	e.StartArgs = append(e.StartArgs, append([]string(nil), args...))
	e.started = true
	e.t = 0
	return nil
}

func (e *Engine) Step(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("Step"); err != nil {
		return err
	}
	e.Steps++
	e.t += e.DT
	if e.OnStep != nil {
		e.OnStep(e)
	}
	return nil
}

func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("Close"); err != nil {
		return err
	}
	e.Closes++
	e.started = false
	return nil
}

func (e *Engine) Time(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("Time"); err != nil {
		return 0, err
	}
	return e.t, nil
}

// SetTime 直接设置引擎时钟
func (e *Engine) SetTime(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.t = t
}

func (e *Engine) NetBoundary(ctx context.Context) (entity.Boundary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("NetBoundary"); err != nil {
		return entity.Boundary{}, err
	}
	return e.Boundary, nil
}

func (e *Engine) vehicle(method, id string) (*Vehicle, error) {
	if err := e.enter(method); err != nil {
		return nil, err
	}
	if err, ok := e.FailVehicles[id]; ok {
		return nil, remote(method, err)
	}
	v, ok := e.Vehicles[id]
	if !ok {
		return nil, remote(method, fmt.Errorf("vehicle %s: %w", id, ErrNoSuchID))
	}
	return v, nil
}

func (e *Engine) VehicleIDs(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("VehicleIDs"); err != nil {
		return nil, err
	}
	return sortedKeys(e.Vehicles), nil
}

func (e *Engine) VehicleSpeed(ctx context.Context, id string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.vehicle("VehicleSpeed", id)
	if err != nil {
		return 0, err
	}
	return v.Speed, nil
}

func (e *Engine) VehicleDistance(ctx context.Context, id string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.vehicle("VehicleDistance", id)
	if err != nil {
		return 0, err
	}
	return v.Distance, nil
}

func (e *Engine) VehicleDeparture(ctx context.Context, id string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.vehicle("VehicleDeparture", id)
	if err != nil {
		return 0, err
	}
	return v.Departure, nil
}

func (e *Engine) VehiclePosition(ctx context.Context, id string) (geometry.Point, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.vehicle("VehiclePosition", id)
	if err != nil {
		return geometry.Point{}, err
	}
	return v.Position, nil
}

func (e *Engine) VehicleAngle(ctx context.Context, id string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.vehicle("VehicleAngle", id)
	if err != nil {
		return 0, err
	}
	return v.Angle, nil
}

func (e *Engine) AddVehicle(ctx context.Context, spec entity.VehicleSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("AddVehicle"); err != nil {
		return err
	}
	if _, ok := e.Vehicles[spec.ID]; ok {
		return remote("AddVehicle", fmt.Errorf("vehicle %s already exists", spec.ID))
	}
	e.Vehicles[spec.ID] = &Vehicle{Route: spec.RouteID, Speed: spec.DepartSpeed, Departure: e.t}
	return nil
}

func (e *Engine) MoveVehicle(ctx context.Context, id string, laneID string, pos float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.vehicle("MoveVehicle", id)
	if err != nil {
		return err
	}
	edge := entity.EdgeOfLane(laneID)
	lanes, ok := e.Edges[edge]
	found := false
	if ok {
		for i := range lanes {
			if entity.LaneID(edge, i) == laneID {
				found = true
			}
		}
	}
	if !found {
		return remote("MoveVehicle", fmt.Errorf("lane %s: %w", laneID, ErrNoSuchID))
	}
	v.Lane = laneID
	return nil
}

func (e *Engine) EdgeIDs(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("EdgeIDs"); err != nil {
		return nil, err
	}
	return sortedKeys(e.Edges), nil
}

func (e *Engine) EdgeLaneCount(ctx context.Context, edgeID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("EdgeLaneCount"); err != nil {
		return 0, err
	}
	lanes, ok := e.Edges[edgeID]
	if !ok {
		return 0, remote("EdgeLaneCount", fmt.Errorf("edge %s: %w", edgeID, ErrNoSuchID))
	}
	return len(lanes), nil
}

func (e *Engine) lane(method, laneID string) (Lane, error) {
	if err := e.enter(method); err != nil {
		return Lane{}, err
	}
	edge := entity.EdgeOfLane(laneID)
	for i, l := range e.Edges[edge] {
		if entity.LaneID(edge, i) == laneID {
			return l, nil
		}
	}
	return Lane{}, remote(method, fmt.Errorf("lane %s: %w", laneID, ErrNoSuchID))
}

func (e *Engine) LaneShape(ctx context.Context, laneID string) ([]geometry.Point, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.lane("LaneShape", laneID)
	if err != nil {
		return nil, err
	}
	return append([]geometry.Point(nil), l.Shape...), nil
}

func (e *Engine) LaneWidth(ctx context.Context, laneID string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.lane("LaneWidth", laneID)
	if err != nil {
		return 0, err
	}
	return l.Width, nil
}

func (e *Engine) signal(method, id string) (*Signal, error) {
	if err := e.enter(method); err != nil {
		return nil, err
	}
	if err, ok := e.FailSignals[id]; ok {
		return nil, remote(method, err)
	}
	s, ok := e.Signals[id]
	if !ok {
		return nil, remote(method, fmt.Errorf("signal %s: %w", id, ErrNoSuchID))
	}
	return s, nil
}

func (e *Engine) SignalIDs(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("SignalIDs"); err != nil {
		return nil, err
	}
	return sortedKeys(e.Signals), nil
}

func (e *Engine) SignalControlledLanes(ctx context.Context, id string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.signal("SignalControlledLanes", id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.ControlledLanes...), nil
}

func (e *Engine) SignalState(ctx context.Context, id string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.signal("SignalState", id)
	if err != nil {
		return "", err
	}
	return s.State, nil
}

func (e *Engine) SetSignalState(ctx context.Context, id string, state string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.signal("SetSignalState", id)
	if err != nil {
		return err
	}
	s.State = state
	return nil
}

func (e *Engine) SignalPhaseDuration(ctx context.Context, id string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.signal("SignalPhaseDuration", id)
	if err != nil {
		return 0, err
	}
	return s.PhaseDuration, nil
}

func (e *Engine) SignalProgram(ctx context.Context, id string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.signal("SignalProgram", id)
	if err != nil {
		return "", err
	}
	return s.Program, nil
}

func (e *Engine) SetSignalProgram(ctx context.Context, id string, programID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.signal("SetSignalProgram", id)
	if err != nil {
		return err
	}
	for _, l := range s.Logics {
		if l.ProgramID == programID {
			s.Program = programID
			return nil
		}
	}
	return remote("SetSignalProgram", fmt.Errorf("program %s: %w", programID, ErrNoSuchID))
}

func (e *Engine) SignalLogics(ctx context.Context, id string) ([]entity.Logic, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.signal("SignalLogics", id)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Logic, len(s.Logics))
	for i, l := range s.Logics {
		out[i] = l.Clone()
	}
	return out, nil
}

func (e *Engine) SetSignalLogic(ctx context.Context, id string, logic entity.Logic) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.signal("SetSignalLogic", id)
	if err != nil {
		return err
	}
	for i, l := range s.Logics {
		if l.ProgramID == logic.ProgramID {
			s.Logics[i] = logic.Clone()
			return nil
		}
	}
	s.Logics = append(s.Logics, logic.Clone())
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ entity.IEngine = (*Engine)(nil)
