package bridge

import (
	"errors"
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"google.golang.org/protobuf/types/known/structpb"
)

// 请求体为Struct，各方法的参数作为字段；响应体为Struct，结果在"value"字段
const valueField = "value"

var errPayload = errors.New("malformed payload")

func payloadErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errPayload, fmt.Sprintf(format, args...))
}

func object(fields map[string]*structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func pointValue(p geometry.Point) *structpb.Value {
	return object(map[string]*structpb.Value{
		"x": structpb.NewNumberValue(p.X),
		"y": structpb.NewNumberValue(p.Y),
	})
}

func pointsValue(ps []geometry.Point) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: lo.Map(ps, func(p geometry.Point, _ int) *structpb.Value {
		return pointValue(p)
	})})
}

func stringsValue(ss []string) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: lo.Map(ss, func(s string, _ int) *structpb.Value {
		return structpb.NewStringValue(s)
	})})
}

func boundaryValue(b entity.Boundary) *structpb.Value {
	return object(map[string]*structpb.Value{
		"min": pointValue(b.Min),
		"max": pointValue(b.Max),
	})
}

func logicValue(l entity.Logic) *structpb.Value {
	return object(map[string]*structpb.Value{
		"program": structpb.NewStringValue(l.ProgramID),
		"phases": structpb.NewListValue(&structpb.ListValue{Values: lo.Map(l.Phases, func(p entity.Phase, _ int) *structpb.Value {
			return object(map[string]*structpb.Value{
				"state":    structpb.NewStringValue(p.State),
				"duration": structpb.NewNumberValue(p.Duration),
			})
		})}),
	})
}

func logicsValue(ls []entity.Logic) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: lo.Map(ls, func(l entity.Logic, _ int) *structpb.Value {
		return logicValue(l)
	})})
}

func asNumber(v *structpb.Value) (float64, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, payloadErrorf("want number, got %T", v.GetKind())
	}
	return n.NumberValue, nil
}

// maxCount 计数类响应的上限
const maxCount = 1 << 16

// asCount 非负整数计数
func asCount(v *structpb.Value) (int, error) {
	n, err := asNumber(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || n < 0 || n > maxCount || n != math.Trunc(n) {
		return 0, payloadErrorf("want count in [0, %d], got %v", maxCount, n)
	}
	return int(n), nil
}

func asString(v *structpb.Value) (string, error) {
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", payloadErrorf("want string, got %T", v.GetKind())
	}
	return s.StringValue, nil
}

func asList(v *structpb.Value) ([]*structpb.Value, error) {
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, payloadErrorf("want list, got %T", v.GetKind())
	}
	return l.ListValue.GetValues(), nil
}

func asObject(v *structpb.Value) (map[string]*structpb.Value, error) {
	o, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, payloadErrorf("want object, got %T", v.GetKind())
	}
	return o.StructValue.GetFields(), nil
}

func asListOf[T any](v *structpb.Value, f func(*structpb.Value) (T, error)) ([]T, error) {
	items, err := asList(v)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(items))
	for i, item := range items {
		if out[i], err = f(item); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func asStrings(v *structpb.Value) ([]string, error) {
	return asListOf(v, asString)
}

func asPoint(v *structpb.Value) (p geometry.Point, err error) {
	o, err := asObject(v)
	if err != nil {
		return
	}
	if p.X, err = asNumber(o["x"]); err != nil {
		return
	}
	p.Y, err = asNumber(o["y"])
	return
}

func asPoints(v *structpb.Value) ([]geometry.Point, error) {
	return asListOf(v, asPoint)
}

func asBoundary(v *structpb.Value) (b entity.Boundary, err error) {
	o, err := asObject(v)
	if err != nil {
		return
	}
	if b.Min, err = asPoint(o["min"]); err != nil {
		return
	}
	b.Max, err = asPoint(o["max"])
	return
}

func asPhase(v *structpb.Value) (p entity.Phase, err error) {
	o, err := asObject(v)
	if err != nil {
		return
	}
	if p.State, err = asString(o["state"]); err != nil {
		return
	}
	p.Duration, err = asNumber(o["duration"])
	return
}

func asLogic(v *structpb.Value) (l entity.Logic, err error) {
	o, err := asObject(v)
	if err != nil {
		return
	}
	if l.ProgramID, err = asString(o["program"]); err != nil {
		return
	}
	l.Phases, err = asListOf(o["phases"], asPhase)
	return
}

func asLogics(v *structpb.Value) ([]entity.Logic, error) {
	return asListOf(v, asLogic)
}
