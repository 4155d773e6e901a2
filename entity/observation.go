package entity

import (
	"strconv"
	"strings"

	"git.fiblab.net/general/common/v2/geometry"
)

// CongestionThresholdKmh 拥堵速度阈值（km/h）
const CongestionThresholdKmh = 5.0

// VehicleClass 车辆运行状态分类
type VehicleClass int

const (
	VehicleStatic VehicleClass = iota
	VehicleRunning
	VehicleCongested // 行驶中但低于拥堵阈值
)

func (c VehicleClass) String() string {
	switch c {
	case VehicleRunning:
		return "Running"
	case VehicleCongested:
		return "Congested"
	default:
		return "Static"
	}
}

// ClassifySpeed 根据速度（m/s）分类车辆
func ClassifySpeed(speed float64) VehicleClass {
	if speed <= 0 {
		return VehicleStatic
	}
	if speed*3.6 < CongestionThresholdKmh {
		return VehicleCongested
	}
	return VehicleRunning
}

// VehicleObservation 单步单车观测值，每步从引擎重新读取，不跨步缓存
type VehicleObservation struct {
	ID        string
	Speed     float64        // m/s
	Odometer  float64        // m
	Departure float64        // s
	Position  geometry.Point // 世界坐标
	Heading   float64        // 度，正北为0，顺时针
}

// Class 车辆分类
func (v VehicleObservation) Class() VehicleClass {
	return ClassifySpeed(v.Speed)
}

// SignalObservation 单步单个信号控制器的观测值
type SignalObservation struct {
	ID              string
	ControlledLanes []string
	State           string
}

// EdgeOfLane 由车道ID（<edge>_<index>）得到所属道路ID
func EdgeOfLane(laneID string) string {
	if i := strings.LastIndexByte(laneID, '_'); i > 0 {
		return laneID[:i]
	}
	return laneID
}

// LaneID 由道路ID与车道序号拼出车道ID
func LaneID(edgeID string, index int) string {
	return edgeID + "_" + strconv.Itoa(index)
}
