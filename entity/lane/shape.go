package lane

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
)

const (
	signalSetback = 2.0 // 信号灯标记距车道终点的回退距离(m)
	signalOffset  = 1.5 // 信号灯标记向行驶方向左侧的偏移(m)
)

// LaneShape 单条车道的几何数据（世界坐标）
type LaneShape struct {
	EdgeID string
	Index  int
	LaneID string
	Points []geometry.Point // 中心线折线，至少2个点
	Width  float64          // 车道宽度(m)
}

// Length 中心线长度
func (s LaneShape) Length() float64 {
	total := 0.0
	for i := 1; i < len(s.Points); i++ {
		total += math.Hypot(s.Points[i].X-s.Points[i-1].X, s.Points[i].Y-s.Points[i-1].Y)
	}
	return total
}

// SignalPosition 计算车道停止线处信号灯标记的位置
// 功能：取中心线最后一段，从终点沿反方向回退2m，再向左侧偏移1.5m
// 返回：标记位置，折线不足2个点时返回false
// 说明：最后一段长度不超过2m时不回退，只做侧向偏移；退化为零长度时不偏移
func (s LaneShape) SignalPosition() (geometry.Point, bool) {
	n := len(s.Points)
	if n < 2 {
		return geometry.Point{}, false
	}
	last, prev := s.Points[n-1], s.Points[n-2]
	dx, dy := last.X-prev.X, last.Y-prev.Y
	length := math.Hypot(dx, dy)
	ratio := 0.0
	if length > signalSetback {
		ratio = signalSetback / length
	}
	p := geometry.Point{X: last.X - ratio*dx, Y: last.Y - ratio*dy}
	if length > 0 {
		p.X += -dy / length * signalOffset
		p.Y += dx / length * signalOffset
	}
	return p, true
}
