package session

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
	"github.com/tsinghua-fib-lab/traffic-console/utils/config"
)

// Step 推进一步并聚合统计
// 返回：本步结果；未连接时为StepError{NotConnected}，连接断开时为StepError{EngineUnreachable}且会话转为断开
// 说明：与其他引擎访问互斥，手动单步与连续模式的步进不会重叠
func (s *Session) Step(ctx context.Context) (*telemetry.Frame, error) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	if !s.connected() {
		return nil, errNotConnected
	}
	s.stepping.Store(true)
	defer s.stepping.Store(false)

	if err := s.eng.Step(ctx); err != nil {
		return nil, s.stepFailed(err)
	}
	steps := s.clock.Tick()
	frame, err := s.agg.Collect(ctx, &s.acc, steps)
	if err != nil {
		return nil, s.stepFailed(err)
	}
	s.clock.Observe(frame.Snapshot.SimulationSeconds)
	s.frame.Store(frame)
	s.events.snapshot(frame)

	if steps%s.opts.Control.Heartbeat == 0 {
		log.Infof("step %d, t=%s, vehicles=%d", steps, frame.Snapshot.SimulationTime, frame.Snapshot.VehicleTotal)
	} else {
		log.Debugf("step %d, t=%s", steps, frame.Snapshot.SimulationTime)
	}
	return frame, nil
}

func (s *Session) stepFailed(err error) error {
	if entity.IsConnectionLost(err) {
		return s.engineFailed(err)
	}
	log.Errorf("step failed: %v", err)
	return &StepError{Kind: EngineFailed, Err: err}
}

// IntervalOf 速度档位对应的连续模式间隔：1100 - level*100 ms
func IntervalOf(level int) time.Duration {
	return time.Duration(1100-clampLevel(level)*100) * time.Millisecond
}

func clampLevel(level int) int {
	if level == 0 {
		level = config.DefaultSpeedLevel
	}
	return lo.Clamp(level, config.MinSpeedLevel, config.MaxSpeedLevel)
}

const (
	minInterval = 10 * time.Millisecond
	maxInterval = time.Minute
)

// loop 连续模式的单个定时器goroutine，串行调用Step
type loop struct {
	stop     chan struct{}
	done     chan struct{}
	interval chan time.Duration
}

// StartContinuous 开启连续模式
// 参数：interval-步进间隔，会被限制在[10ms, 1min]；已在连续模式时只调整间隔
func (s *Session) StartContinuous(interval time.Duration) error {
	if !s.connected() {
		return errNotConnected
	}
	interval = lo.Clamp(interval, minInterval, maxInterval)

	s.loopMu.Lock()
	if l := s.loop; l != nil {
		s.loopMu.Unlock()
		select {
		case l.interval <- interval:
		case <-l.done:
		}
		return nil
	}
	l := &loop{
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		interval: make(chan time.Duration),
	}
	s.loop = l
	s.loopMu.Unlock()
	go s.run(l, interval)
	log.Infof("continuous mode started, interval=%v", interval)
	s.events.state(ContinuousRunning)
	return nil
}

func (s *Session) run(l *loop, interval time.Duration) {
	defer close(l.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-s.ctx.Done():
			s.detach(l)
			return
		case d := <-l.interval:
			t.Reset(d)
		case <-t.C:
			if _, err := s.Step(s.ctx); err != nil {
				var se *StepError
				if errors.As(err, &se) && se.Kind != EngineFailed {
					log.Warnf("continuous mode stopped: %v", err)
					s.detach(l)
					return
				}
				s.events.error(err)
			}
		}
	}
}

// detach 定时器自行退出时解除登记
func (s *Session) detach(l *loop) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loop == l {
		s.loop = nil
	}
}

// StopContinuous 停止连续模式并等待正在进行的步进完成，未运行时无操作
// 说明：不能在持有engineMu时调用
func (s *Session) StopContinuous() {
	s.loopMu.Lock()
	l := s.loop
	s.loop = nil
	s.loopMu.Unlock()
	if l == nil {
		return
	}
	close(l.stop)
	<-l.done
	log.Info("continuous mode stopped")
	if s.connected() {
		s.events.state(Connected)
	}
}

// Continuous 连续模式是否运行中
func (s *Session) Continuous() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.loop != nil
}

// SpeedLevel 当前速度档位
func (s *Session) SpeedLevel() int {
	return int(s.speed.Load())
}

// SetSpeedLevel 设置速度档位[1, 10]，连续模式运行中时立即生效
func (s *Session) SetSpeedLevel(level int) int {
	level = clampLevel(level)
	s.speed.Store(int32(level))
	s.loopMu.Lock()
	running := s.loop != nil
	s.loopMu.Unlock()
	if running {
		_ = s.StartContinuous(IntervalOf(level))
	}
	return level
}

// SetStepMode 切换步进模式；切换到单步时停止连续模式
func (s *Session) SetStepMode(mode StepMode) error {
	if mode == SingleStep {
		s.StopContinuous()
		return nil
	}
	return s.StartContinuous(IntervalOf(s.SpeedLevel()))
}
