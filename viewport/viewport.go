// Package viewport 视图状态（缩放、平移）与世界坐标到屏幕坐标的投影
package viewport

import (
	"fmt"
	"strings"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/paulmach/orb"
	"github.com/samber/lo"
)

const (
	MinScale = 0.1
	MaxScale = 5.0
)

// FilterMode 车辆显示过滤模式
type FilterMode int

const (
	FilterAll FilterMode = iota
	FilterRunning
	FilterCongested
)

func (m FilterMode) String() string {
	switch m {
	case FilterRunning:
		return "Running"
	case FilterCongested:
		return "Congested"
	default:
		return "All"
	}
}

// ParseFilterMode 解析过滤模式名称（不区分大小写）
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(s) {
	case "all", "":
		return FilterAll, nil
	case "running":
		return FilterRunning, nil
	case "congested":
		return FilterCongested, nil
	}
	return FilterAll, fmt.Errorf("unknown filter mode %q", s)
}

// Viewport 视图变换状态
// 说明：值类型，零值不可用，使用Default()获取默认状态
type Viewport struct {
	Scale         float64   // [MinScale, MaxScale]
	Translate     orb.Point // 屏幕像素偏移
	PanMode       bool
	TranslateMode bool
}

// Default 默认视图：缩放1，无偏移，两种模式均关闭
func Default() Viewport {
	return Viewport{Scale: 1}
}

// Zoom 按倍数缩放，结果限制在[MinScale, MaxScale]
// 非正数或非有限的倍数被忽略
func (v *Viewport) Zoom(factor float64) {
	if !(factor > 0) || factor > 1e12 {
		log.Warnf("ignore zoom factor %v", factor)
		return
	}
	v.Scale = lo.Clamp(v.Scale*factor, MinScale, MaxScale)
}

// Pan 平移屏幕偏移量（像素）
func (v *Viewport) Pan(dx, dy float64) {
	v.Translate[0] += dx
	v.Translate[1] += dy
}

// TogglePan 切换拖拽平移模式，开启时关闭平移偏移模式
func (v *Viewport) TogglePan() {
	v.PanMode = !v.PanMode
	if v.PanMode {
		v.TranslateMode = false
	}
}

// ToggleTranslate 切换平移偏移模式，开启时关闭拖拽平移模式
func (v *Viewport) ToggleTranslate() {
	v.TranslateMode = !v.TranslateMode
	if v.TranslateMode {
		v.PanMode = false
	}
}

// Canvas 画布尺寸（像素）
type Canvas struct {
	Width  float64
	Height float64
}

// Project 世界坐标到屏幕坐标
// 参数：p-世界坐标（Y轴向上），center-世界范围中心，v-视图，c-画布
// 返回：屏幕坐标（Y轴向下）
// 算法说明：
// sx = (x - cx) * s + W/2 + tx
// sy = -(y - cy) * s + H/2 + ty
func Project(p, center geometry.Point, v Viewport, c Canvas) orb.Point {
	return orb.Point{
		(p.X-center.X)*v.Scale + c.Width/2 + v.Translate[0],
		-(p.Y-center.Y)*v.Scale + c.Height/2 + v.Translate[1],
	}
}

// ProjectLine 投影折线
func ProjectLine(points []geometry.Point, center geometry.Point, v Viewport, c Canvas) orb.LineString {
	return lo.Map(points, func(p geometry.Point, _ int) orb.Point {
		return Project(p, center, v, c)
	})
}
