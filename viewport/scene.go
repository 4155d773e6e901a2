package viewport

import (
	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/paulmach/orb"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/traffic-console/entity/lane"
)

// Geometry 场景构建所需的车道几何只读视图
type Geometry interface {
	All() []lane.LaneShape
	Lane(laneID string) (lane.LaneShape, bool)
}

// SceneLane 投影后的车道
type SceneLane struct {
	LaneID string
	Line   orb.LineString
	Stroke float64 // 线宽（像素），不小于1
}

// SceneVehicle 投影后的车辆
type SceneVehicle struct {
	ID      string
	At      orb.Point
	Heading float64
	Class   entity.VehicleClass
	Label   string // 未开启标签时为空
}

// SceneSignal 投影后的信号灯标记
type SceneSignal struct {
	ControllerID string
	LaneID       string
	At           orb.Point
	Color        mapv2.LightState
	Label        string
}

// Scene 一帧可渲染的屏幕空间几何
type Scene struct {
	Lanes    []SceneLane
	Vehicles []SceneVehicle
	Signals  []SceneSignal
	Bound    orb.Bound // 全部元素的屏幕范围
}

// SceneOptions 场景构建参数
type SceneOptions struct {
	Viewport      Viewport
	Canvas        Canvas
	Center        geometry.Point // 世界范围中心
	Filter        FilterMode
	VehicleLabels bool
	SignalLabels  bool
}

// Visible 车辆在过滤模式下是否可见
func (m FilterMode) Visible(c entity.VehicleClass) bool {
	switch m {
	case FilterRunning:
		return c == entity.VehicleRunning || c == entity.VehicleCongested
	case FilterCongested:
		return c == entity.VehicleCongested
	default:
		return true
	}
}

// BuildScene 构建一帧场景
// 参数：geo-车道几何缓存，vehicles/signals-本步观测值，opts-视图与显示选项
// 算法说明：
// 1. 并行投影全部车道折线，线宽为max(车道宽度*缩放, 1)
// 2. 按过滤模式筛选车辆后投影
// 3. 信号灯标记位于受控车道终点后退2m、向左偏移1.5m处，同一车道只画一次
func BuildScene(geo Geometry, vehicles []entity.VehicleObservation, signals []entity.SignalObservation, opts SceneOptions) *Scene {
	v, c, center := opts.Viewport, opts.Canvas, opts.Center
	s := &Scene{
		Lanes: parallel.GoMap(geo.All(), func(l lane.LaneShape) SceneLane {
			return SceneLane{
				LaneID: l.LaneID,
				Line:   ProjectLine(l.Points, center, v, c),
				Stroke: max(l.Width*v.Scale, 1),
			}
		}),
	}
	for _, o := range vehicles {
		class := o.Class()
		if !opts.Filter.Visible(class) {
			continue
		}
		sv := SceneVehicle{ID: o.ID, At: Project(o.Position, center, v, c), Heading: o.Heading, Class: class}
		if opts.VehicleLabels {
			sv.Label = o.ID
		}
		s.Vehicles = append(s.Vehicles, sv)
	}
	for _, o := range signals {
		colors := trafficlight.ParseState(o.State)
		n := min(len(o.ControlledLanes), len(colors))
		drawn := make(map[string]struct{}, n)
		for i := 0; i < n; i++ {
			id := o.ControlledLanes[i]
			if _, ok := drawn[id]; ok {
				continue
			}
			drawn[id] = struct{}{}
			shape, ok := geo.Lane(id)
			if !ok {
				continue
			}
			p, ok := shape.SignalPosition()
			if !ok {
				continue
			}
			ss := SceneSignal{ControllerID: o.ID, LaneID: id, At: Project(p, center, v, c), Color: colors[i]}
			if opts.SignalLabels {
				ss.Label = o.ID
			}
			s.Signals = append(s.Signals, ss)
		}
	}
	s.Bound = s.bound()
	return s
}

func (s *Scene) bound() orb.Bound {
	points := lo.FlatMap(s.Lanes, func(l SceneLane, _ int) []orb.Point { return l.Line })
	for _, v := range s.Vehicles {
		points = append(points, v.At)
	}
	for _, sig := range s.Signals {
		points = append(points, sig.At)
	}
	if len(points) == 0 {
		return orb.Bound{}
	}
	return orb.MultiPoint(points).Bound()
}
