package telemetry

// Accumulator 自连接以来的累计行驶距离与时间
// 说明：由会话独占持有，只在连接/重置时清零，按指针传入聚合器
type Accumulator struct {
	TotalDistance float64 // m
	TotalTime     float64 // s
}

// Reset 清零
func (a *Accumulator) Reset() {
	a.TotalDistance = 0
	a.TotalTime = 0
}

// Add 单调累加，负值按0处理
func (a *Accumulator) Add(distance, elapsed float64) {
	a.TotalDistance += max(0, distance)
	a.TotalTime += max(0, elapsed)
}

// AvgSpeedKmh 累计平均速度(km/h)，累计时间为0时返回0
func (a Accumulator) AvgSpeedKmh() float64 {
	if a.TotalTime <= 0 {
		return 0
	}
	return (a.TotalDistance / 1000) / (a.TotalTime / 3600)
}
