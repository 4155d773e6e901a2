package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/traffic-console/engine/enginetest"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/entity/junction"
	"github.com/tsinghua-fib-lab/traffic-console/session"
	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
	"github.com/tsinghua-fib-lab/traffic-console/utils/config"
	"github.com/tsinghua-fib-lab/traffic-console/viewport"
)

var ctx = context.Background()

type paths struct {
	engine string
	config string
	net    string
}

// scenario 在临时目录中生成可执行文件、场景配置与路网文件
func scenario(t *testing.T) paths {
	dir := t.TempDir()
	p := paths{
		engine: filepath.Join(dir, "bin", "sumo"),
		config: filepath.Join(dir, "demo.sumocfg"),
		net:    filepath.Join(dir, "demo.net.xml"),
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(p.engine), 0o755))
	require.NoError(t, os.WriteFile(p.engine, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(p.net, []byte("<net/>"), 0o644))
	require.NoError(t, os.WriteFile(p.config, []byte(`<configuration><input><net-file value="demo.net.xml"/></input></configuration>`), 0o644))
	return p
}

func fixture() *enginetest.Engine {
	eng := enginetest.New()
	eng.Boundary = entity.Boundary{Max: geometry.Point{X: 200, Y: 100}}
	eng.Edges["E"] = []enginetest.Lane{{Shape: []geometry.Point{{X: 0, Y: 50}, {X: 100, Y: 50}}, Width: 3.2}}
	eng.Edges["F"] = []enginetest.Lane{
		{Shape: []geometry.Point{{X: 100, Y: 50}, {X: 200, Y: 50}}, Width: 3.2},
		{Shape: []geometry.Point{{X: 100, Y: 53}, {X: 200, Y: 53}}, Width: 3.2},
	}
	eng.Signals["J1"] = &enginetest.Signal{
		ControlledLanes: []string{"E_0", "E_0", "F_0"},
		State:           "GGr",
		PhaseDuration:   30,
		Program:         "0",
		Logics: []entity.Logic{{ProgramID: "0", Phases: []entity.Phase{
			{State: "GGr", Duration: 30},
			{State: "rrG", Duration: 30},
		}}},
	}
	for _, id := range []string{"v1", "v2", "v3"} {
		eng.Vehicles[id] = &enginetest.Vehicle{}
	}
	return eng
}

type recorder struct {
	mu     sync.Mutex
	states []session.State
	frames int
	errs   []error
}

func (r *recorder) OnStateChange(s session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnSnapshot(*telemetry.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) snapshot() ([]session.State, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.State(nil), r.states...), r.frames, len(r.errs)
}

func newSession(t *testing.T, eng entity.IEngine, l session.Listener) *session.Session {
	s := session.New(eng, session.Options{Listener: l})
	t.Cleanup(func() { s.Close(ctx) })
	return s
}

func connected(t *testing.T) (*session.Session, *enginetest.Engine, paths) {
	eng := fixture()
	p := scenario(t)
	s := newSession(t, eng, nil)
	require.NoError(t, s.Connect(ctx, p.engine, p.config))
	return s, eng, p
}

func TestConnectValidation(t *testing.T) {
	p := scenario(t)
	eng := fixture()
	s := newSession(t, eng, nil)

	err := s.Connect(ctx, p.engine, "")
	assert.ErrorIs(t, err, session.ErrMissingConfig)

	err = s.Connect(ctx, filepath.Join(filepath.Dir(p.engine), "missing"), p.config)
	assert.ErrorIs(t, err, session.ErrInvalidEnginePath)

	other := filepath.Join(filepath.Dir(p.engine), "python")
	require.NoError(t, os.WriteFile(other, nil, 0o755))
	err = s.Connect(ctx, other, p.config)
	assert.ErrorIs(t, err, session.ErrInvalidEnginePath)

	err = s.Connect(ctx, p.engine, p.config+".missing")
	assert.ErrorIs(t, err, session.ErrMissingConfig)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.Remove(p.net))
	err = s.Connect(ctx, p.engine, p.config)
	assert.ErrorIs(t, err, session.ErrNetworkFileMissing)
	var ce *session.ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, session.NetworkFileMissing, ce.Kind)

	assert.Equal(t, session.Disconnected, s.State())
	assert.Zero(t, eng.CallCount("Start"))
}

func TestConnectExeSuffix(t *testing.T) {
	p := scenario(t)
	exe := filepath.Join(filepath.Dir(p.engine), "sumo-gui.exe")
	require.NoError(t, os.WriteFile(exe, nil, 0o755))
	s := newSession(t, fixture(), nil)
	require.NoError(t, s.Connect(ctx, exe, p.config))
	assert.Equal(t, session.Connected, s.State())
}

func TestHandshakeFailed(t *testing.T) {
	p := scenario(t)
	eng := fixture()
	eng.FailStart = errors.New("port in use")
	s := newSession(t, eng, nil)
	err := s.Connect(ctx, p.engine, p.config)
	assert.ErrorIs(t, err, session.ErrHandshakeFailed)
	assert.Equal(t, session.Disconnected, s.State())
}

func TestConnectAndStep(t *testing.T) {
	l := &recorder{}
	eng := fixture()
	p := scenario(t)
	s := newSession(t, eng, l)
	require.NoError(t, s.Connect(ctx, p.engine, p.config))

	eng.Do(func(e *enginetest.Engine) {
		assert.Equal(t, [][]string{{p.engine, "-c", p.config, "--start"}}, e.StartArgs)
	})
	assert.Equal(t, session.Connected, s.State())
	assert.Equal(t, 3, s.Lanes().Len())
	b, ok := s.Boundary()
	require.True(t, ok)
	assert.Equal(t, geometry.Point{X: 100, Y: 50}, b.Center())

	f, err := s.Step(ctx)
	require.NoError(t, err)
	sn := f.Snapshot
	assert.Equal(t, int64(1), sn.TotalSteps)
	assert.Equal(t, 3, sn.VehicleTotal)
	assert.Zero(t, sn.VehicleRunning)
	assert.Zero(t, sn.VehicleCongested)
	assert.Zero(t, sn.TrafficEfficiencyPct)
	// E、F各计一次
	assert.Equal(t, 2, sn.SignalTotal)
	assert.Equal(t, 1, sn.SignalGreen)
	assert.Equal(t, 1, sn.SignalRed)
	assert.Equal(t, "00:00:01", sn.SimulationTime)

	last, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, sn, last)

	require.Eventually(t, func() bool {
		states, frames, _ := l.snapshot()
		return frames == 1 && len(states) >= 2
	}, time.Second, 5*time.Millisecond)
	states, _, _ := l.snapshot()
	assert.Equal(t, []session.State{session.Connecting, session.Connected}, states[:2])
}

func TestStepNotConnected(t *testing.T) {
	s := newSession(t, fixture(), nil)
	_, err := s.Step(ctx)
	assert.ErrorIs(t, err, session.ErrNotConnected)
	var se *session.StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, session.NotConnected, se.Kind)
	assert.ErrorIs(t, s.StartContinuous(time.Second), session.ErrNotConnected)
	assert.ErrorIs(t, s.Reset(ctx), session.ErrNotConnected)
}

func TestConnectionLost(t *testing.T) {
	s, eng, _ := connected(t)
	_, err := s.Step(ctx)
	require.NoError(t, err)

	eng.Lose()
	_, err = s.Step(ctx)
	assert.ErrorIs(t, err, session.ErrEngineUnreachable)
	assert.True(t, entity.IsConnectionLost(err))
	assert.Equal(t, session.Disconnected, s.State())

	require.Eventually(t, func() bool { return s.Lanes().Len() == 0 }, time.Second, 5*time.Millisecond)
	_, err = s.Step(ctx)
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestDisconnectIdempotent(t *testing.T) {
	s, eng, _ := connected(t)
	s.Zoom(2)
	s.Pan(10, 10)

	s.Disconnect(ctx)
	s.Disconnect(ctx)
	assert.Equal(t, 1, eng.CallCount("Close"))
	assert.Equal(t, session.Disconnected, s.State())
	assert.Equal(t, viewport.Default(), s.Viewport())
	assert.Zero(t, s.Lanes().Len())
	_, err := s.ListSignals(ctx)
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestReset(t *testing.T) {
	s, eng, p := connected(t)
	eng.Do(func(e *enginetest.Engine) {
		e.Vehicles["v1"].Speed = 10
		e.Vehicles["v1"].Distance = 100
	})
	for i := 0; i < 3; i++ {
		_, err := s.Step(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, s.StartContinuous(time.Hour))
	require.NoError(t, s.Reset(ctx))
	assert.False(t, s.Continuous())
	assert.Zero(t, s.Clock().Steps())
	assert.Nil(t, s.Last())
	eng.Do(func(e *enginetest.Engine) {
		require.Len(t, e.StartArgs, 2)
		assert.Equal(t, e.StartArgs[0], e.StartArgs[1])
		assert.Equal(t, p.config, e.StartArgs[1][2])
	})

	f, err := s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Snapshot.TotalSteps)
	// 累计量已清零：里程100m，三辆车各1s
	assert.InDelta(t, 120.0, f.Snapshot.AvgSpeedKmh, 1e-9)
}

func TestContinuousMode(t *testing.T) {
	s, eng, _ := connected(t)
	require.NoError(t, s.StartContinuous(10*time.Millisecond))
	assert.Equal(t, session.ContinuousRunning, s.State())
	require.Eventually(t, func() bool { return eng.CallCount("Step") >= 3 }, 2*time.Second, 5*time.Millisecond)

	// 手动单步与连续模式串行执行
	_, err := s.Step(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetStepMode(session.SingleStep))
	assert.False(t, s.Continuous())
	n := eng.CallCount("Step")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, eng.CallCount("Step"))
	assert.Equal(t, int64(n), s.Clock().Steps())
	assert.Equal(t, session.Connected, s.State())
}

func TestContinuousStopsWhenConnectionLost(t *testing.T) {
	s, eng, _ := connected(t)
	require.NoError(t, s.StartContinuous(10*time.Millisecond))
	eng.Lose()
	require.Eventually(t, func() bool {
		return !s.Continuous() && s.State() == session.Disconnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSpeedLevel(t *testing.T) {
	assert.Equal(t, time.Second, session.IntervalOf(1))
	assert.Equal(t, 100*time.Millisecond, session.IntervalOf(10))
	assert.Equal(t, 600*time.Millisecond, session.IntervalOf(5))
	assert.Equal(t, 100*time.Millisecond, session.IntervalOf(42))

	s, _, _ := connected(t)
	assert.Equal(t, config.DefaultSpeedLevel, s.SpeedLevel())
	assert.Equal(t, 10, s.SetSpeedLevel(99))
	require.NoError(t, s.SetStepMode(session.Continuous))
	assert.True(t, s.Continuous())
	assert.Equal(t, 3, s.SetSpeedLevel(3))
	assert.True(t, s.Continuous())
}

// blockingEngine 启动时阻塞，直到release被关闭
type blockingEngine struct {
	*enginetest.Engine
	entered chan struct{}
	release chan struct{}
}

func (e *blockingEngine) Start(ctx context.Context, args []string) error {
	close(e.entered)
	<-e.release
	return e.Engine.Start(ctx, args)
}

func TestDisconnectDeferredDuringConnect(t *testing.T) {
	eng := &blockingEngine{Engine: fixture(), entered: make(chan struct{}), release: make(chan struct{})}
	p := scenario(t)
	s := newSession(t, eng, nil)

	done := make(chan error, 1)
	go func() { done <- s.Connect(ctx, p.engine, p.config) }()
	<-eng.entered
	assert.Equal(t, session.Connecting, s.State())

	s.Disconnect(ctx)
	close(eng.release)
	require.NoError(t, <-done)
	assert.Equal(t, session.Disconnected, s.State())
	assert.Equal(t, 1, eng.CallCount("Close"))
}

func TestSignalEditing(t *testing.T) {
	s, eng, _ := connected(t)
	list, err := s.ListSignals(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "TL J1 [E_0, F_0]", list[0].Label)

	v, err := s.SelectSignal(ctx, "J1")
	require.NoError(t, err)
	require.NotEmpty(t, v.Token)
	assert.Equal(t, []string{"Phase 0", "Phase 1"}, v.Labels)
	assert.Equal(t, junction.StateListing, v.State)

	_, err = s.SelectPhase(ctx, "stale", 1)
	assert.ErrorIs(t, err, junction.ErrStaleSession)

	v, err = s.SelectPhase(ctx, v.Token, 1)
	require.NoError(t, err)
	assert.Equal(t, junction.StatePhaseSelected, v.State)
	v, err = s.EnterMode(ctx, v.Token, junction.ModeCustom)
	require.NoError(t, err)
	assert.Equal(t, "GGr", v.Pending)
	v, err = s.SetLaneColor(ctx, v.Token, "E_0", "y")
	require.NoError(t, err)
	assert.Equal(t, "yyr", v.Pending)

	_, err = s.CommitPhase(ctx, v.Token, "-1")
	assert.ErrorIs(t, err, junction.ErrBadDuration)

	v, err = s.CommitPhase(ctx, v.Token, "12.5")
	require.NoError(t, err)
	assert.Equal(t, junction.StatePhaseSelected, v.State)
	assert.Equal(t, entity.Phase{State: "yyr", Duration: 12.5}, v.Phases[1])
	eng.Do(func(e *enginetest.Engine) {
		assert.Equal(t, entity.Phase{State: "yyr", Duration: 12.5}, e.Signals["J1"].Logics[0].Phases[1])
	})

	v, err = s.AddPhase(ctx, v.Token)
	require.NoError(t, err)
	assert.Len(t, v.Phases, 3)
	v, err = s.RemovePhase(ctx, v.Token, 2)
	require.NoError(t, err)
	assert.Len(t, v.Phases, 2)
}

func TestInjectVehicles(t *testing.T) {
	s, eng, _ := connected(t)
	ids, err := s.InjectVehicles(ctx, "E", "r0", 36, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	eng.Do(func(e *enginetest.Engine) {
		for _, id := range ids {
			assert.Equal(t, "E_0", e.Vehicles[id].Lane)
			assert.Equal(t, "r0", e.Vehicles[id].Route)
			assert.InDelta(t, 10.0, e.Vehicles[id].Speed, 1e-9)
		}
	})

	// 没有车道的道路：保留默认位置
	ids, err = s.InjectVehicles(ctx, "G", "r0", 0, 1)
	require.NoError(t, err)
	eng.Do(func(e *enginetest.Engine) {
		assert.Empty(t, e.Vehicles[ids[0]].Lane)
	})

	_, err = s.InjectVehicles(ctx, "E", "r0", 10, 0)
	assert.Error(t, err)
	_, err = s.InjectVehicles(ctx, "E", "", 10, 1)
	assert.Error(t, err)
}

func TestVehicleDetails(t *testing.T) {
	s, _, _ := connected(t)
	details, now, err := s.VehicleDetails(ctx)
	require.NoError(t, err)
	assert.Len(t, details, 3)
	assert.Zero(t, now)
}

func TestScene(t *testing.T) {
	s := newSession(t, fixture(), nil)
	assert.Nil(t, s.Scene())

	s, _, _ = connected(t)
	_, err := s.Step(ctx)
	require.NoError(t, err)
	s.SetCanvas(viewport.Canvas{Width: 400, Height: 200})
	sc := s.Scene()
	require.NotNil(t, sc)
	assert.Len(t, sc.Lanes, 3)
	assert.Len(t, sc.Vehicles, 3)
	assert.Len(t, sc.Signals, 2)

	s.SetFilterMode(viewport.FilterRunning)
	assert.Empty(t, s.Scene().Vehicles)
}

func TestReconnectAfterConnectionLost(t *testing.T) {
	s, eng, p := connected(t)
	for i := 0; i < 20; i++ {
		eng.Lose()
		_, err := s.Step(ctx)
		require.ErrorIs(t, err, session.ErrEngineUnreachable)
		eng.Do(func(e *enginetest.Engine) { e.Lost = false })

		require.NoError(t, s.Connect(ctx, p.engine, p.config))
		// 旧连接的后台清理不能影响新连接
		assert.Never(t, func() bool { return s.State() != session.Connected }, 50*time.Millisecond, 5*time.Millisecond)
		_, err = s.Step(ctx)
		require.NoError(t, err)
	}
}

// droppingEngine 被arm后下一次步进阻塞到release关闭，然后报告连接断开
type droppingEngine struct {
	*enginetest.Engine
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (e *droppingEngine) Step(ctx context.Context) error {
	if e.armed.CompareAndSwap(true, false) {
		close(e.entered)
		<-e.release
		return &entity.TransportError{Kind: entity.TransportConnectionLost, Method: "Step", Err: errors.New("broken pipe")}
	}
	return e.Engine.Step(ctx)
}

func TestResetWhileContinuousStepLosesConnection(t *testing.T) {
	eng := &droppingEngine{Engine: fixture(), entered: make(chan struct{}), release: make(chan struct{})}
	p := scenario(t)
	s := newSession(t, eng, nil)
	require.NoError(t, s.Connect(ctx, p.engine, p.config))

	eng.armed.Store(true)
	require.NoError(t, s.StartContinuous(10*time.Millisecond))
	<-eng.entered

	done := make(chan error, 1)
	go func() { done <- s.Reset(ctx) }()
	// Reset已在等待连续模式退出
	require.Eventually(t, func() bool { return !s.Continuous() }, time.Second, time.Millisecond)
	close(eng.release)

	require.NoError(t, <-done)
	assert.Never(t, func() bool { return s.State() != session.Connected }, 100*time.Millisecond, 5*time.Millisecond)
	_, err := s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, eng.CallCount("Start"))
}
