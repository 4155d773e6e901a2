package entity

import (
	"context"

	"git.fiblab.net/general/common/v2/geometry"
)

// Phase 信控程序中的一个相位
// 功能：描述一个相位的逐车道信号状态字符串与持续时长
type Phase struct {
	State    string  // 逐受控车道的信号字符，如"GrrY"
	Duration float64 // 相位时长（秒）
}

// Logic 信控程序
// 功能：描述引擎中一个信号控制器的完整程序定义
type Logic struct {
	ProgramID string  // 程序ID
	Phases    []Phase // 相位列表（有序）
}

// Clone 深拷贝程序，避免修改引擎返回的原始数据
func (l Logic) Clone() Logic {
	phases := make([]Phase, len(l.Phases))
	copy(phases, l.Phases)
	return Logic{ProgramID: l.ProgramID, Phases: phases}
}

// Boundary 路网世界坐标范围（引擎坐标系，Y轴向上）
type Boundary struct {
	Min geometry.Point
	Max geometry.Point
}

// Center 世界坐标范围中心点
func (b Boundary) Center() geometry.Point {
	return geometry.Point{X: (b.Min.X + b.Max.X) / 2, Y: (b.Min.Y + b.Max.Y) / 2}
}

// VehicleSpec 新增车辆的参数
type VehicleSpec struct {
	ID          string
	RouteID     string
	TypeID      string
	DepartLane  string
	DepartSpeed float64 // m/s
}

// IEngine 仿真引擎远程接口
// 功能：抽象仿真引擎提供的有状态远程调用，所有调用均为同步往返，不做自动重试
// 说明：实现必须在传输边界将连接断开识别为TransportError{Kind: ConnectionLost}
type IEngine interface {
	// 生命周期
	Start(ctx context.Context, args []string) error
	Step(ctx context.Context) error
	Close(ctx context.Context) error
	Time(ctx context.Context) (float64, error)
	NetBoundary(ctx context.Context) (Boundary, error)

	// 车辆
	VehicleIDs(ctx context.Context) ([]string, error)
	VehicleSpeed(ctx context.Context, id string) (float64, error)
	VehicleDistance(ctx context.Context, id string) (float64, error)
	VehicleDeparture(ctx context.Context, id string) (float64, error)
	VehiclePosition(ctx context.Context, id string) (geometry.Point, error)
	VehicleAngle(ctx context.Context, id string) (float64, error)
	AddVehicle(ctx context.Context, spec VehicleSpec) error
	MoveVehicle(ctx context.Context, id string, laneID string, pos float64) error

	// 道路与车道
	EdgeIDs(ctx context.Context) ([]string, error)
	EdgeLaneCount(ctx context.Context, edgeID string) (int, error)
	LaneShape(ctx context.Context, laneID string) ([]geometry.Point, error)
	LaneWidth(ctx context.Context, laneID string) (float64, error)

	// 信号控制器
	SignalIDs(ctx context.Context) ([]string, error)
	SignalControlledLanes(ctx context.Context, id string) ([]string, error)
	SignalState(ctx context.Context, id string) (string, error)
	SetSignalState(ctx context.Context, id string, state string) error
	SignalPhaseDuration(ctx context.Context, id string) (float64, error)
	SignalProgram(ctx context.Context, id string) (string, error)
	SetSignalProgram(ctx context.Context, id string, programID string) error
	SignalLogics(ctx context.Context, id string) ([]Logic, error)
	SetSignalLogic(ctx context.Context, id string, logic Logic) error
}
