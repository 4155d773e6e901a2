package session

import (
	"github.com/tsinghua-fib-lab/traffic-console/viewport"
)

// Viewport 当前视图
func (s *Session) Viewport() viewport.Viewport {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// Zoom 按倍数缩放，结果限制在[0.1, 5]
func (s *Session) Zoom(factor float64) viewport.Viewport {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.view.Zoom(factor)
	return s.view
}

// Pan 平移（像素）
func (s *Session) Pan(dx, dy float64) viewport.Viewport {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.view.Pan(dx, dy)
	return s.view
}

// ResetView 恢复默认视图
func (s *Session) ResetView() viewport.Viewport {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.view = viewport.Default()
	return s.view
}

// TogglePan 切换拖拽平移模式
func (s *Session) TogglePan() viewport.Viewport {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.view.TogglePan()
	return s.view
}

// ToggleTranslate 切换平移偏移模式
func (s *Session) ToggleTranslate() viewport.Viewport {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.view.ToggleTranslate()
	return s.view
}

// FilterMode 当前车辆过滤模式
func (s *Session) FilterMode() viewport.FilterMode {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.filter
}

// SetFilterMode 设置车辆过滤模式
func (s *Session) SetFilterMode(m viewport.FilterMode) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.filter = m
}

// SetLabels 开关车辆与信号灯标签
func (s *Session) SetLabels(vehicles, signals bool) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.labels = [2]bool{vehicles, signals}
}

// SetCanvas 设置画布尺寸，非正值被忽略
func (s *Session) SetCanvas(c viewport.Canvas) {
	if c.Width <= 0 || c.Height <= 0 {
		return
	}
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.canvas = c
}

// Scene 用最近一次完成的步进结果与缓存的几何构建可渲染场景
// 说明：不访问引擎，可与步进并发；尚未连接时返回nil
func (s *Session) Scene() *viewport.Scene {
	b, ok := s.Boundary()
	if !ok {
		return nil
	}
	s.viewMu.RLock()
	opts := viewport.SceneOptions{
		Viewport:      s.view,
		Canvas:        s.canvas,
		Center:        b.Center(),
		Filter:        s.filter,
		VehicleLabels: s.labels[0],
		SignalLabels:  s.labels[1],
	}
	s.viewMu.RUnlock()
	if f := s.frame.Load(); f != nil {
		return viewport.BuildScene(s.lanes, f.Vehicles, f.Signals, opts)
	}
	return viewport.BuildScene(s.lanes, nil, nil, opts)
}
