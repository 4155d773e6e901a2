package session

import (
	"sync"

	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
)

// Listener 展示层回调，由单个goroutine按发生顺序串行调用
type Listener interface {
	OnStateChange(State)
	OnSnapshot(*telemetry.Frame)
	OnError(error)
}

// NopListener 忽略全部事件
type NopListener struct{}

func (NopListener) OnStateChange(State)         {}
func (NopListener) OnSnapshot(*telemetry.Frame) {}
func (NopListener) OnError(error)               {}

type event struct {
	state *State
	frame *telemetry.Frame
	err   error
}

// dispatcher 将事件串行投递给Listener
// 说明：快照事件在队列满时丢弃（后续快照会覆盖），状态与错误事件不丢弃
type dispatcher struct {
	l      Listener
	ch     chan event
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func newDispatcher(l Listener, size int) *dispatcher {
	if l == nil {
		l = NopListener{}
	}
	d := &dispatcher{l: l, ch: make(chan event, size), done: make(chan struct{})}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for e := range d.ch {
		switch {
		case e.state != nil:
			d.l.OnStateChange(*e.state)
		case e.frame != nil:
			d.l.OnSnapshot(e.frame)
		case e.err != nil:
			d.l.OnError(e.err)
		}
	}
}

func (d *dispatcher) send(e event, drop bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	if !drop {
		d.ch <- e
		return
	}
	select {
	case d.ch <- e:
	default:
		log.Debug("listener is slow, snapshot dropped")
	}
}

func (d *dispatcher) state(s State) {
	d.send(event{state: &s}, false)
}

func (d *dispatcher) snapshot(f *telemetry.Frame) {
	d.send(event{frame: f}, true)
}

func (d *dispatcher) error(err error) {
	d.send(event{err: err}, false)
}

// close 停止接收事件并等待已排队事件投递完成
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	<-d.done
}
