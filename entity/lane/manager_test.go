package lane_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/traffic-console/engine/enginetest"
	"github.com/tsinghua-fib-lab/traffic-console/entity/lane"
)

func newEngine(t *testing.T) *enginetest.Engine {
	eng := enginetest.New()
	eng.Edges["A"] = []enginetest.Lane{
		{Shape: []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}, Width: 3.2},
		{Shape: []geometry.Point{{X: 0, Y: 3}, {X: 10, Y: 3}}, Width: 3.0},
	}
	eng.Edges["B"] = []enginetest.Lane{
		{Shape: []geometry.Point{{X: 10, Y: 0}, {X: 10, Y: 20}, {X: 15, Y: 25}}, Width: 3.5},
	}
	eng.Edges["C"] = []enginetest.Lane{
		{Shape: []geometry.Point{{X: 1, Y: 1}}, Width: 3},
	}
	require.NoError(t, eng.Start(context.Background(), nil))
	return eng
}

func TestPreloadAndGet(t *testing.T) {
	eng := newEngine(t)
	m := lane.NewManager()
	require.NoError(t, m.Preload(context.Background(), eng))

	a := m.Get("A")
	require.Len(t, a, 2)
	assert.Equal(t, "A_0", a[0].LaneID)
	assert.Equal(t, 3.2, a[0].Width)
	assert.Equal(t, "A_1", a[1].LaneID)
	assert.Len(t, m.Get("B"), 1)
	// 单点车道不入缓存
	assert.Empty(t, m.Get("C"))
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"A", "B", "C"}, m.Edges())

	l, ok := m.Lane("B_0")
	require.True(t, ok)
	assert.Len(t, l.Points, 3)
	assert.InDelta(t, 20+math.Hypot(5, 5), l.Length(), 1e-9)
}

func TestGetMissReturnsEmpty(t *testing.T) {
	m := lane.NewManager()
	got := m.Get("nope")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPreloadIsOnePass(t *testing.T) {
	eng := newEngine(t)
	m := lane.NewManager()
	require.NoError(t, m.Preload(context.Background(), eng))
	calls := eng.CallCount("LaneShape")
	for i := 0; i < 5; i++ {
		m.Get("A")
		m.Get("B")
	}
	assert.Equal(t, calls, eng.CallCount("LaneShape"))
}

func TestPreloadSkipsBrokenEdge(t *testing.T) {
	eng := newEngine(t)
	eng.Edges["D"] = []enginetest.Lane{{Shape: nil}} // D_0 shape exists but empty
	m := lane.NewManager()
	require.NoError(t, m.Preload(context.Background(), eng))
	assert.Empty(t, m.Get("D"))
	assert.Len(t, m.Get("A"), 2)
}

func TestPreloadConnectionLost(t *testing.T) {
	eng := newEngine(t)
	m := lane.NewManager()
	require.NoError(t, m.Preload(context.Background(), eng))
	eng.Lose()
	err := m.Preload(context.Background(), eng)
	require.Error(t, err)
	// 失败时保留旧缓存
	assert.Len(t, m.Get("A"), 2)
}

func TestInvalidate(t *testing.T) {
	eng := newEngine(t)
	m := lane.NewManager()
	require.NoError(t, m.Preload(context.Background(), eng))
	m.Invalidate()
	assert.Empty(t, m.Get("A"))
	assert.Zero(t, m.Len())
	assert.Empty(t, m.All())
}

func TestSignalPosition(t *testing.T) {
	s := lane.LaneShape{Points: []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}}
	p, ok := s.SignalPosition()
	require.True(t, ok)
	// 沿+X行驶，回退2m，左侧为+Y
	assert.InDelta(t, 8.0, p.X, 1e-9)
	assert.InDelta(t, 1.5, p.Y, 1e-9)

	short := lane.LaneShape{Points: []geometry.Point{{X: 0, Y: 0}, {X: 0, Y: 1}}}
	p, ok = short.SignalPosition()
	require.True(t, ok)
	assert.InDelta(t, -1.5, p.X, 1e-9)
	assert.InDelta(t, 1.0, p.Y, 1e-9)

	_, ok = lane.LaneShape{}.SignalPosition()
	assert.False(t, ok)
}

func TestPreloadEdgeListFailure(t *testing.T) {
	eng := enginetest.New() // 未启动
	m := lane.NewManager()
	err := m.Preload(context.Background(), eng)
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginetest.ErrNotStarted))
}

// negativeCount 对道路B返回负的车道数
type negativeCount struct {
	*enginetest.Engine
}

func (e negativeCount) EdgeLaneCount(ctx context.Context, edgeID string) (int, error) {
	if edgeID == "B" {
		return -3, nil
	}
	return e.Engine.EdgeLaneCount(ctx, edgeID)
}

func TestPreloadRejectsNegativeLaneCount(t *testing.T) {
	m := lane.NewManager()
	require.NoError(t, m.Preload(context.Background(), negativeCount{newEngine(t)}))
	assert.Empty(t, m.Get("B"))
	assert.Len(t, m.Get("A"), 2)
}
