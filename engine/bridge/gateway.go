package bridge

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"google.golang.org/protobuf/types/known/structpb"
)

type gatewayMethod func(ctx context.Context, req map[string]*structpb.Value) (*structpb.Value, error)

// NewGatewayHandler 将任意IEngine实现以网关协议对外提供
// 返回：路由前缀与HTTP处理器，可直接注册到http.ServeMux或syncer sidecar
// 说明：引擎侧连接断开映射为CodeUnavailable，请求体格式错误映射为CodeInvalidArgument
func NewGatewayHandler(eng entity.IEngine, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	for name, m := range gatewayMethods(eng) {
		procedure := "/" + ServiceName + "/" + name
		mux.Handle(procedure, connect.NewUnaryHandler(procedure, func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
			v, err := m(ctx, req.Msg.GetFields())
			if err != nil {
				return nil, gatewayError(err)
			}
			res := &structpb.Struct{Fields: map[string]*structpb.Value{}}
			if v != nil {
				res.Fields[valueField] = v
			}
			return connect.NewResponse(res), nil
		}, opts...))
	}
	return "/" + ServiceName + "/", mux
}

func gatewayError(err error) error {
	switch {
	case errors.Is(err, errPayload):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case entity.IsConnectionLost(err):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeUnknown, err)
	}
}

func number(v float64, err error) (*structpb.Value, error) {
	if err != nil {
		return nil, err
	}
	return structpb.NewNumberValue(v), nil
}

func text(v string, err error) (*structpb.Value, error) {
	if err != nil {
		return nil, err
	}
	return structpb.NewStringValue(v), nil
}

func texts(v []string, err error) (*structpb.Value, error) {
	if err != nil {
		return nil, err
	}
	return stringsValue(v), nil
}

func none(err error) (*structpb.Value, error) {
	return nil, err
}

// withID 读取请求中的id字段后调用f
func withID(f func(ctx context.Context, id string, req map[string]*structpb.Value) (*structpb.Value, error)) gatewayMethod {
	return func(ctx context.Context, req map[string]*structpb.Value) (*structpb.Value, error) {
		id, err := asString(req["id"])
		if err != nil {
			return nil, err
		}
		return f(ctx, id, req)
	}
}

func gatewayMethods(eng entity.IEngine) map[string]gatewayMethod {
	return map[string]gatewayMethod{
		"Start": func(ctx context.Context, req map[string]*structpb.Value) (*structpb.Value, error) {
			args, err := asStrings(req["args"])
			if err != nil {
				return nil, err
			}
			return none(eng.Start(ctx, args))
		},
		"Step":  func(ctx context.Context, _ map[string]*structpb.Value) (*structpb.Value, error) { return none(eng.Step(ctx)) },
		"Close": func(ctx context.Context, _ map[string]*structpb.Value) (*structpb.Value, error) { return none(eng.Close(ctx)) },
		"Time":  func(ctx context.Context, _ map[string]*structpb.Value) (*structpb.Value, error) { return number(eng.Time(ctx)) },
		"NetBoundary": func(ctx context.Context, _ map[string]*structpb.Value) (*structpb.Value, error) {
			b, err := eng.NetBoundary(ctx)
			if err != nil {
				return nil, err
			}
			return boundaryValue(b), nil
		},
		"VehicleIDs": func(ctx context.Context, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return texts(eng.VehicleIDs(ctx))
		},
		"VehicleSpeed": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return number(eng.VehicleSpeed(ctx, id))
		}),
		"VehicleDistance": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return number(eng.VehicleDistance(ctx, id))
		}),
		"VehicleDeparture": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return number(eng.VehicleDeparture(ctx, id))
		}),
		"VehiclePosition": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			p, err := eng.VehiclePosition(ctx, id)
			if err != nil {
				return nil, err
			}
			return pointValue(p), nil
		}),
		"VehicleAngle": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return number(eng.VehicleAngle(ctx, id))
		}),
		"AddVehicle": withID(func(ctx context.Context, id string, req map[string]*structpb.Value) (*structpb.Value, error) {
			spec := entity.VehicleSpec{ID: id}
			var err error
			if spec.RouteID, err = asString(req["route"]); err != nil {
				return nil, err
			}
			if spec.TypeID, err = asString(req["type"]); err != nil {
				return nil, err
			}
			if spec.DepartLane, err = asString(req["depart_lane"]); err != nil {
				return nil, err
			}
			if spec.DepartSpeed, err = asNumber(req["depart_speed"]); err != nil {
				return nil, err
			}
			return none(eng.AddVehicle(ctx, spec))
		}),
		"MoveVehicle": withID(func(ctx context.Context, id string, req map[string]*structpb.Value) (*structpb.Value, error) {
			laneID, err := asString(req["lane"])
			if err != nil {
				return nil, err
			}
			pos, err := asNumber(req["pos"])
			if err != nil {
				return nil, err
			}
			return none(eng.MoveVehicle(ctx, id, laneID, pos))
		}),
		"EdgeIDs": func(ctx context.Context, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return texts(eng.EdgeIDs(ctx))
		},
		"EdgeLaneCount": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			n, err := eng.EdgeLaneCount(ctx, id)
			return number(float64(n), err)
		}),
		"LaneShape": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			ps, err := eng.LaneShape(ctx, id)
			if err != nil {
				return nil, err
			}
			return pointsValue(ps), nil
		}),
		"LaneWidth": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return number(eng.LaneWidth(ctx, id))
		}),
		"SignalIDs": func(ctx context.Context, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return texts(eng.SignalIDs(ctx))
		},
		"SignalControlledLanes": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return texts(eng.SignalControlledLanes(ctx, id))
		}),
		"SignalState": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return text(eng.SignalState(ctx, id))
		}),
		"SetSignalState": withID(func(ctx context.Context, id string, req map[string]*structpb.Value) (*structpb.Value, error) {
			state, err := asString(req["state"])
			if err != nil {
				return nil, err
			}
			return none(eng.SetSignalState(ctx, id, state))
		}),
		"SignalPhaseDuration": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return number(eng.SignalPhaseDuration(ctx, id))
		}),
		"SignalProgram": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			return text(eng.SignalProgram(ctx, id))
		}),
		"SetSignalProgram": withID(func(ctx context.Context, id string, req map[string]*structpb.Value) (*structpb.Value, error) {
			program, err := asString(req["program"])
			if err != nil {
				return nil, err
			}
			return none(eng.SetSignalProgram(ctx, id, program))
		}),
		"SignalLogics": withID(func(ctx context.Context, id string, _ map[string]*structpb.Value) (*structpb.Value, error) {
			ls, err := eng.SignalLogics(ctx, id)
			if err != nil {
				return nil, err
			}
			return logicsValue(ls), nil
		}),
		"SetSignalLogic": withID(func(ctx context.Context, id string, req map[string]*structpb.Value) (*structpb.Value, error) {
			l, err := asLogic(req["logic"])
			if err != nil {
				return nil, err
			}
			return none(eng.SetSignalLogic(ctx, id, l))
		}),
	}
}
