package session

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/paulmach/orb"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/entity/junction"
	"github.com/tsinghua-fib-lab/traffic-console/recorder"
	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
	"github.com/tsinghua-fib-lab/traffic-console/viewport"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName 控制台RPC服务名
const ServiceName = "console.v1.ConsoleService"

type procedure func(ctx context.Context, req *request) (map[string]any, error)

// request 请求字段的宽松读取，缺失字段取零值
type request struct {
	fields map[string]*structpb.Value
}

func (r *request) str(key string) string {
	return r.fields[key].GetStringValue()
}

func (r *request) num(key string) float64 {
	return r.fields[key].GetNumberValue()
}

func (r *request) integer(key string) int {
	return int(r.fields[key].GetNumberValue())
}

func (r *request) flag(key string) bool {
	return r.fields[key].GetBoolValue()
}

func (r *request) has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// Register 将控制台服务注册到sidecar
// 说明：会话内部自行串行化引擎访问，注册时不需要与其他服务互斥
func (s *Session) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(ServiceName, s.Handler, syncer.WithNoLock())
}

// Handler 控制台服务的HTTP处理器，每个命令一个connect一元过程，请求与响应均为google.protobuf.Struct
func (s *Session) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	for name, p := range s.procedures() {
		path := "/" + ServiceName + "/" + name
		mux.Handle(path, connect.NewUnaryHandler(path, func(ctx context.Context, in *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
			out, err := p(ctx, &request{fields: in.Msg.GetFields()})
			if err != nil {
				return nil, rpcError(err)
			}
			res, err := structpb.NewStruct(out)
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(res), nil
		}, opts...))
	}
	return "/" + ServiceName + "/", mux
}

// rpcError 将会话错误映射为connect错误码
func rpcError(err error) error {
	var (
		ce *ConnectError
		se *StepError
		te *entity.TransportError
	)
	switch {
	case errors.As(err, &ce):
		if ce.Kind == HandshakeFailed {
			return connect.NewError(connect.CodeUnavailable, err)
		}
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.As(err, &se):
		switch se.Kind {
		case NotConnected:
			return connect.NewError(connect.CodeFailedPrecondition, err)
		case EngineUnreachable:
			return connect.NewError(connect.CodeUnavailable, err)
		default:
			return connect.NewError(connect.CodeUnknown, err)
		}
	case errors.Is(err, junction.ErrConcurrentEdit), errors.Is(err, junction.ErrStaleSession):
		return connect.NewError(connect.CodeAborted, err)
	case junction.IsEditError(err):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.As(err, &te):
		return connect.NewError(connect.CodeUnknown, err)
	default:
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
}

func (s *Session) procedures() map[string]procedure {
	return map[string]procedure{
		"Connect": func(ctx context.Context, r *request) (map[string]any, error) {
			if err := s.Connect(ctx, r.str("engine"), r.str("config")); err != nil {
				return nil, err
			}
			return s.status(), nil
		},
		"Disconnect": func(ctx context.Context, _ *request) (map[string]any, error) {
			s.Disconnect(ctx)
			return s.status(), nil
		},
		"State": func(context.Context, *request) (map[string]any, error) {
			return s.status(), nil
		},
		"Step": func(ctx context.Context, _ *request) (map[string]any, error) {
			f, err := s.Step(ctx)
			if err != nil {
				return nil, err
			}
			return frameValue(f), nil
		},
		"StartContinuous": func(_ context.Context, r *request) (map[string]any, error) {
			interval := IntervalOf(s.SpeedLevel())
			if r.has("interval_ms") {
				ms := r.num("interval_ms")
				if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 {
					return nil, errors.New("interval_ms must be a positive number")
				}
				// 先截断再换算，避免Duration溢出
				ms = math.Min(ms, float64(maxInterval/time.Millisecond))
				interval = time.Duration(ms * float64(time.Millisecond))
			}
			if err := s.StartContinuous(interval); err != nil {
				return nil, err
			}
			return s.status(), nil
		},
		"StopContinuous": func(context.Context, *request) (map[string]any, error) {
			s.StopContinuous()
			return s.status(), nil
		},
		"SetSpeedLevel": func(_ context.Context, r *request) (map[string]any, error) {
			s.SetSpeedLevel(r.integer("level"))
			return s.status(), nil
		},
		"SetStepMode": func(_ context.Context, r *request) (map[string]any, error) {
			mode := SingleStep
			switch r.str("mode") {
			case "Single", "single", "":
			case "Continuous", "continuous":
				mode = Continuous
			default:
				return nil, errors.New("step mode must be Single or Continuous")
			}
			if err := s.SetStepMode(mode); err != nil {
				return nil, err
			}
			return s.status(), nil
		},
		"Reset": func(ctx context.Context, _ *request) (map[string]any, error) {
			if err := s.Reset(ctx); err != nil {
				return nil, err
			}
			return s.status(), nil
		},
		"Snapshot": func(context.Context, *request) (map[string]any, error) {
			f := s.Last()
			if f == nil {
				return map[string]any{}, nil
			}
			return frameValue(f), nil
		},
		"ExportSnapshot": func(context.Context, *request) (map[string]any, error) {
			snap, ok := s.Snapshot()
			if !ok {
				return nil, errors.New("no snapshot yet")
			}
			var buf bytes.Buffer
			if err := recorder.Export(&buf, snap); err != nil {
				return nil, err
			}
			return map[string]any{"csv": buf.String()}, nil
		},
		"SetFilterMode": func(_ context.Context, r *request) (map[string]any, error) {
			m, err := viewport.ParseFilterMode(r.str("mode"))
			if err != nil {
				return nil, err
			}
			s.SetFilterMode(m)
			return map[string]any{"mode": m.String()}, nil
		},
		"Zoom": func(_ context.Context, r *request) (map[string]any, error) {
			return viewValue(s.Zoom(r.num("factor"))), nil
		},
		"Pan": func(_ context.Context, r *request) (map[string]any, error) {
			return viewValue(s.Pan(r.num("dx"), r.num("dy"))), nil
		},
		"ResetView": func(context.Context, *request) (map[string]any, error) {
			return viewValue(s.ResetView()), nil
		},
		"TogglePan": func(context.Context, *request) (map[string]any, error) {
			return viewValue(s.TogglePan()), nil
		},
		"ToggleTranslate": func(context.Context, *request) (map[string]any, error) {
			return viewValue(s.ToggleTranslate()), nil
		},
		"SetLabels": func(_ context.Context, r *request) (map[string]any, error) {
			s.SetLabels(r.flag("vehicles"), r.flag("signals"))
			return map[string]any{}, nil
		},
		"SetCanvas": func(_ context.Context, r *request) (map[string]any, error) {
			s.SetCanvas(viewport.Canvas{Width: r.num("width"), Height: r.num("height")})
			return map[string]any{}, nil
		},
		"Scene": func(context.Context, *request) (map[string]any, error) {
			sc := s.Scene()
			if sc == nil {
				return nil, errNotConnected
			}
			return sceneValue(sc), nil
		},
		"ListSignals": func(ctx context.Context, _ *request) (map[string]any, error) {
			list, err := s.ListSignals(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"signals": lo.Map(list, func(i SignalInfo, _ int) any {
				return map[string]any{"id": i.ID, "label": i.Label, "lanes": strs(i.Lanes)}
			})}, nil
		},
		"EditView": func(ctx context.Context, _ *request) (map[string]any, error) {
			return editResult(s.EditView(ctx))
		},
		"SelectSignal": func(ctx context.Context, r *request) (map[string]any, error) {
			return editResult(s.SelectSignal(ctx, r.str("id")))
		},
		"SelectPhase": func(ctx context.Context, r *request) (map[string]any, error) {
			return editResult(s.SelectPhase(ctx, r.str("token"), r.integer("index")))
		},
		"EnterMode": func(ctx context.Context, r *request) (map[string]any, error) {
			mode, ok := junction.ParseMode(r.str("mode"))
			if !ok {
				return nil, errors.New("mode must be one of AllRed, AllYellow, AllGreen, Custom")
			}
			return editResult(s.EnterMode(ctx, r.str("token"), mode))
		},
		"SetLaneColor": func(ctx context.Context, r *request) (map[string]any, error) {
			return editResult(s.SetLaneColor(ctx, r.str("token"), r.str("lane"), r.str("color")))
		},
		"CommitPhase": func(ctx context.Context, r *request) (map[string]any, error) {
			return editResult(s.CommitPhase(ctx, r.str("token"), r.str("duration")))
		},
		"AbandonEdit": func(ctx context.Context, r *request) (map[string]any, error) {
			return editResult(s.AbandonEdit(ctx, r.str("token")))
		},
		"AddPhase": func(ctx context.Context, r *request) (map[string]any, error) {
			return editResult(s.AddPhase(ctx, r.str("token")))
		},
		"RemovePhase": func(ctx context.Context, r *request) (map[string]any, error) {
			return editResult(s.RemovePhase(ctx, r.str("token"), r.integer("index")))
		},
		"VehicleDetails": func(ctx context.Context, _ *request) (map[string]any, error) {
			details, now, err := s.VehicleDetails(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"t": now,
				"vehicles": lo.Map(details, func(d telemetry.VehicleDetail, _ int) any {
					return map[string]any{
						"id":          d.ID,
						"status":      d.Status.String(),
						"speed_kmh":   d.SpeedKmh,
						"distance":    d.Distance,
						"travel_time": d.TravelTime,
					}
				}),
			}, nil
		},
		"InjectVehicles": func(ctx context.Context, r *request) (map[string]any, error) {
			ids, err := s.InjectVehicles(ctx, r.str("edge"), r.str("route"), r.num("speed_kmh"), r.integer("count"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"ids": strs(ids)}, nil
		},
	}
}

func strs(ss []string) []any {
	return lo.Map(ss, func(s string, _ int) any { return s })
}

func (s *Session) status() map[string]any {
	state := s.State()
	return map[string]any{
		"state":       state.String(),
		"connected":   state.IsConnected(),
		"speed_level": s.SpeedLevel(),
		"steps":       s.clock.Steps(),
		"time":        s.clock.String(),
	}
}

func snapshotValue(sn telemetry.Snapshot) map[string]any {
	return map[string]any{
		"vehicle_total":          sn.VehicleTotal,
		"vehicle_running":        sn.VehicleRunning,
		"vehicle_congested":      sn.VehicleCongested,
		"vehicle_static":         sn.VehicleStatic,
		"signal_total":           sn.SignalTotal,
		"signal_red":             sn.SignalRed,
		"signal_green":           sn.SignalGreen,
		"signal_yellow":          sn.SignalYellow,
		"total_steps":            sn.TotalSteps,
		"avg_speed_kmh":          sn.AvgSpeedKmh,
		"traffic_efficiency_pct": sn.TrafficEfficiencyPct,
		"simulation_seconds":     sn.SimulationSeconds,
		"simulation_time":        sn.SimulationTime,
	}
}

func frameValue(f *telemetry.Frame) map[string]any {
	return map[string]any{
		"snapshot":         snapshotValue(f.Snapshot),
		"skipped_vehicles": f.SkippedVehicles,
		"skipped_signals":  f.SkippedSignals,
	}
}

func viewValue(v viewport.Viewport) map[string]any {
	return map[string]any{
		"scale":          v.Scale,
		"translate":      pointValue(v.Translate),
		"pan_mode":       v.PanMode,
		"translate_mode": v.TranslateMode,
	}
}

func pointValue(p orb.Point) []any {
	return []any{p[0], p[1]}
}

func sceneValue(sc *viewport.Scene) map[string]any {
	return map[string]any{
		"lanes": lo.Map(sc.Lanes, func(l viewport.SceneLane, _ int) any {
			return map[string]any{
				"id":     l.LaneID,
				"stroke": l.Stroke,
				"points": lo.Map(l.Line, func(p orb.Point, _ int) any { return pointValue(p) }),
			}
		}),
		"vehicles": lo.Map(sc.Vehicles, func(v viewport.SceneVehicle, _ int) any {
			return map[string]any{
				"id":      v.ID,
				"at":      pointValue(v.At),
				"heading": v.Heading,
				"class":   v.Class.String(),
				"label":   v.Label,
			}
		}),
		"signals": lo.Map(sc.Signals, func(sig viewport.SceneSignal, _ int) any {
			return map[string]any{
				"controller": sig.ControllerID,
				"lane":       sig.LaneID,
				"at":         pointValue(sig.At),
				"color":      sig.Color.String(),
				"label":      sig.Label,
			}
		}),
		"bound": []any{pointValue(sc.Bound.Min), pointValue(sc.Bound.Max)},
	}
}

func editResult(v EditView, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"token":      v.Token,
		"controller": v.Controller,
		"lanes":      strs(v.Lanes),
		"phases": lo.Map(v.Phases, func(p entity.Phase, i int) any {
			return map[string]any{"label": v.Labels[i], "state": p.State, "duration": p.Duration}
		}),
		"phase":   v.Phase,
		"state":   v.State.String(),
		"mode":    v.Mode.String(),
		"pending": v.Pending,
	}, nil
}
