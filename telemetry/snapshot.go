package telemetry

import (
	"strconv"

	"github.com/tsinghua-fib-lab/traffic-console/entity"
)

// Snapshot 一步仿真后的统计结果，创建后不可修改，由下一步的快照整体替换
type Snapshot struct {
	VehicleTotal     int
	VehicleRunning   int // 速度>0（含拥堵）
	VehicleCongested int // 速度>0且低于拥堵阈值
	VehicleStatic    int // 速度<=0

	SignalTotal  int // 按道路去重、灯色可识别的信号数
	SignalRed    int
	SignalGreen  int
	SignalYellow int

	TotalSteps           int64
	AvgSpeedKmh          float64 // 自连接以来的累计平均速度
	TrafficEfficiencyPct float64 // [0, 100]
	SimulationSeconds    float64
	SimulationTime       string // HH:MM:SS
}

// Row 导出用的指标行
type Row struct {
	Metric string
	Value  string
}

// Rows 将快照展开为(指标, 值)行，每个字段一行
func (s Snapshot) Rows() []Row {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	i := strconv.Itoa
	return []Row{
		{"Total Vehicles", i(s.VehicleTotal)},
		{"Running Vehicles", i(s.VehicleRunning)},
		{"Congested Vehicles", i(s.VehicleCongested)},
		{"Static Vehicles", i(s.VehicleStatic)},
		{"Traffic Lights Total", i(s.SignalTotal)},
		{"Red Lights", i(s.SignalRed)},
		{"Green Lights", i(s.SignalGreen)},
		{"Yellow Lights", i(s.SignalYellow)},
		{"Total Steps", strconv.FormatInt(s.TotalSteps, 10)},
		{"Average Speed (km/h)", f(s.AvgSpeedKmh)},
		{"Traffic Efficiency (%)", f(s.TrafficEfficiencyPct)},
		{"Simulation Time", s.SimulationTime},
	}
}

// Frame 一步仿真的完整结果：统计快照与本步读取到的实体观测（供渲染使用）
type Frame struct {
	Snapshot Snapshot
	Vehicles []entity.VehicleObservation
	Signals  []entity.SignalObservation

	SkippedVehicles int // 读取失败而被排除的车辆数
	SkippedSignals  int
}
