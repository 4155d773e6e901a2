package session

import (
	"context"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/entity/junction"
)

// SignalInfo 信号控制器列表项
type SignalInfo struct {
	ID    string
	Label string
	Lanes []string // 去重排序后的受控车道
}

// EditView 相位编辑会话的当前视图
type EditView struct {
	Token      string
	Controller string
	Lanes      []string
	Phases     []entity.Phase
	Labels     []string
	Phase      int // 未选相位时为-1
	State      junction.EditState
	Mode       junction.Mode
	Pending    string // 提交时将写入的状态字符串
}

// ListSignals 列出有受控车道的信号控制器
func (s *Session) ListSignals(ctx context.Context) ([]SignalInfo, error) {
	var out []SignalInfo
	err := s.withEngine(ctx, func(ctx context.Context) error {
		out = lo.Map(s.junctions.List(), func(c *junction.Controller, _ int) SignalInfo {
			return SignalInfo{ID: c.ID(), Label: c.Label(), Lanes: c.DistinctLanes()}
		})
		return nil
	})
	return out, err
}

// editView 必须在engineMu内调用
func (s *Session) editView() EditView {
	c, phase := s.junctions.Selected()
	v := EditView{
		Token:   s.junctions.Token(),
		Phase:   phase,
		State:   s.junctions.State(),
		Mode:    s.junctions.Mode(),
		Pending: s.junctions.Pending(),
	}
	if c != nil {
		v.Controller = c.ID()
		v.Lanes = c.DistinctLanes()
		v.Phases = append([]entity.Phase(nil), c.Phases()...)
		v.Labels = c.PhaseLabels()
	}
	return v
}

// edit 在引擎锁内执行编辑命令并返回最新视图；token非空时必须与当前编辑会话一致
func (s *Session) edit(ctx context.Context, token string, f func(ctx context.Context) error) (EditView, error) {
	var v EditView
	err := s.withEngine(ctx, func(ctx context.Context) error {
		if err := s.junctions.CheckToken(token); err != nil {
			return err
		}
		err := f(ctx)
		v = s.editView()
		return err
	})
	return v, err
}

// EditView 当前编辑会话
func (s *Session) EditView(ctx context.Context) (EditView, error) {
	return s.edit(ctx, "", func(context.Context) error { return nil })
}

// SelectSignal 选择控制器并开启新的编辑会话（生成新令牌）
func (s *Session) SelectSignal(ctx context.Context, id string) (EditView, error) {
	return s.edit(ctx, "", func(ctx context.Context) error {
		_, err := s.junctions.SelectController(ctx, id)
		return err
	})
}

// SelectPhase 选择相位
func (s *Session) SelectPhase(ctx context.Context, token string, index int) (EditView, error) {
	return s.edit(ctx, token, func(context.Context) error {
		return s.junctions.SelectPhase(index)
	})
}

// EnterMode 选择编辑模式
func (s *Session) EnterMode(ctx context.Context, token string, mode junction.Mode) (EditView, error) {
	return s.edit(ctx, token, func(ctx context.Context) error {
		return s.junctions.EnterMode(ctx, mode)
	})
}

// SetLaneColor 自定义模式下设置一条车道的颜色
func (s *Session) SetLaneColor(ctx context.Context, token, laneID, color string) (EditView, error) {
	return s.edit(ctx, token, func(context.Context) error {
		_, err := s.junctions.SetLaneColor(laneID, color)
		return err
	})
}

// CommitPhase 提交当前编辑
func (s *Session) CommitPhase(ctx context.Context, token, duration string) (EditView, error) {
	return s.edit(ctx, token, func(ctx context.Context) error {
		return s.junctions.Commit(ctx, duration)
	})
}

// AbandonEdit 放弃当前编辑
func (s *Session) AbandonEdit(ctx context.Context, token string) (EditView, error) {
	return s.edit(ctx, token, func(context.Context) error {
		s.junctions.Abandon()
		return nil
	})
}

// AddPhase 追加相位
func (s *Session) AddPhase(ctx context.Context, token string) (EditView, error) {
	return s.edit(ctx, token, func(ctx context.Context) error {
		return s.junctions.AddPhase(ctx)
	})
}

// RemovePhase 删除相位
func (s *Session) RemovePhase(ctx context.Context, token string, index int) (EditView, error) {
	return s.edit(ctx, token, func(ctx context.Context) error {
		return s.junctions.RemovePhase(ctx, index)
	})
}
