package clock

import (
	"fmt"
	"sync"
)

// Clock 控制台侧的仿真时钟
// 功能：记录自连接以来的推进步数与引擎最近一次报告的仿真时间
// 说明：步数只在连接/重置时清零；时间完全以引擎为准，控制台不自行累加
type Clock struct {
	mtx sync.RWMutex

	steps int64   // 自连接以来的步数（单调递增）
	t     float64 // 引擎时钟（秒）
}

// New 创建归零的时钟
func New() *Clock {
	return &Clock{}
}

// Reset 清零步数与时间，在连接与重置时调用
func (c *Clock) Reset() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.steps = 0
	c.t = 0
}

// Tick 推进一步并返回新的步数
func (c *Clock) Tick() int64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.steps++
	return c.steps
}

// Observe 记录引擎报告的当前时间
func (c *Clock) Observe(t float64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.t = t
}

// Steps 当前步数
func (c *Clock) Steps() int64 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.steps
}

// T 当前仿真时间（秒）
func (c *Clock) T() float64 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.t
}

// String 当前时间的HH:MM:SS表示
func (c *Clock) String() string {
	return FormatHMS(c.T())
}

// FormatHMS 将秒数格式化为HH:MM:SS，小数部分截断，负数按0处理
// 说明：小时数不按天取模，超过24小时继续累加
func FormatHMS(t float64) string {
	if t < 0 {
		t = 0
	}
	total := int64(t)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
