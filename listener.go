package main

import (
	"context"
	"time"

	"github.com/tsinghua-fib-lab/traffic-console/recorder"
	"github.com/tsinghua-fib-lab/traffic-console/session"
	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
)

// listener 记录每步快照并输出会话事件日志
type listener struct {
	rec recorder.Recorder
}

func (l *listener) OnStateChange(s session.State) {
	log.Debugf("state changed: %v", s)
}

func (l *listener) OnSnapshot(f *telemetry.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.rec.Record(ctx, f.Snapshot); err != nil {
		log.Warnf("record step %d err: %v", f.Snapshot.TotalSteps, err)
	}
}

func (l *listener) OnError(err error) {
	log.Errorf("session error: %v", err)
}
