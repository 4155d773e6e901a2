package clock

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	clockv1 "git.fiblab.net/sim/protos/v2/go/city/clock/v1"
	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"git.fiblab.net/sim/syncer/v3"
)

// Service 将Clock以ClockService形式对外提供
type Service struct {
	clockv1connect.UnimplementedClockServiceHandler

	c *Clock
}

// NewService 包装时钟
func NewService(c *Clock) *Service {
	return &Service{c: c}
}

// Register 将ClockService注册到sidecar
// 说明：时钟只读，注册时不需要与仿真步进互斥
func (s *Service) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		clockv1connect.ClockServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return clockv1connect.NewClockServiceHandler(s, opts...)
		},
		syncer.WithNoLock(),
	)
}

// Now 返回引擎最近一次报告的仿真时间
func (s *Service) Now(ctx context.Context, in *connect.Request[clockv1.NowRequest]) (*connect.Response[clockv1.NowResponse], error) {
	return connect.NewResponse(&clockv1.NowResponse{
		T: s.c.T(),
	}), nil
}
