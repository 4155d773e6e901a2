package viewport_test

import (
	"math"
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/entity/lane"
	"github.com/tsinghua-fib-lab/traffic-console/viewport"
)

func TestProjectCenter(t *testing.T) {
	v := viewport.Default()
	c := viewport.Canvas{Width: 800, Height: 600}
	center := geometry.Point{X: 50, Y: 50}
	assert.Equal(t, orb.Point{400, 300}, viewport.Project(center, center, v, c))
	// Y轴翻转
	assert.Equal(t, orb.Point{410, 290}, viewport.Project(geometry.Point{X: 60, Y: 60}, center, v, c))

	v.Pan(5, -5)
	assert.Equal(t, orb.Point{405, 295}, viewport.Project(center, center, v, c))
}

func TestProjectScaleDoublesDistance(t *testing.T) {
	c := viewport.Canvas{Width: 640, Height: 480}
	center := geometry.Point{X: 3, Y: -7}
	a, b := geometry.Point{X: 12, Y: 40}, geometry.Point{X: -30, Y: 5}
	v := viewport.Default()
	v.Pan(17, 23)
	for _, s := range []float64{0.1, 0.3, 1, 2.5} {
		v.Scale = s
		d1 := orbDist(viewport.Project(a, center, v, c), viewport.Project(b, center, v, c))
		v.Scale = 2 * s
		d2 := orbDist(viewport.Project(a, center, v, c), viewport.Project(b, center, v, c))
		assert.InDelta(t, 2*d1, d2, 1e-9)
	}
}

func orbDist(p, q orb.Point) float64 {
	return math.Hypot(p[0]-q[0], p[1]-q[1])
}

func TestZoomClamp(t *testing.T) {
	v := viewport.Default()
	for i := 0; i < 10; i++ {
		v.Zoom(1.1)
		assert.LessOrEqual(t, v.Scale, viewport.MaxScale)
	}
	for i := 0; i < 10; i++ {
		v.Zoom(1.1)
	}
	assert.Equal(t, viewport.MaxScale, v.Scale)
	for i := 0; i < 100; i++ {
		v.Zoom(0.5)
	}
	assert.Equal(t, viewport.MinScale, v.Scale)

	v.Zoom(0)
	v.Zoom(-2)
	v.Zoom(math.NaN())
	v.Zoom(math.Inf(1))
	assert.Equal(t, viewport.MinScale, v.Scale)
}

func TestModeToggles(t *testing.T) {
	v := viewport.Default()
	v.TogglePan()
	assert.True(t, v.PanMode)
	v.ToggleTranslate()
	assert.True(t, v.TranslateMode)
	assert.False(t, v.PanMode)
	v.ToggleTranslate()
	assert.False(t, v.TranslateMode)
}

func TestParseFilterMode(t *testing.T) {
	m, err := viewport.ParseFilterMode("Congested")
	require.NoError(t, err)
	assert.Equal(t, viewport.FilterCongested, m)
	_, err = viewport.ParseFilterMode("parked")
	assert.Error(t, err)
	assert.Equal(t, "Running", viewport.FilterRunning.String())
}

type fakeGeometry map[string]lane.LaneShape

func (g fakeGeometry) All() []lane.LaneShape {
	out := make([]lane.LaneShape, 0, len(g))
	for _, l := range g {
		out = append(out, l)
	}
	return out
}

func (g fakeGeometry) Lane(id string) (lane.LaneShape, bool) {
	l, ok := g[id]
	return l, ok
}

func TestBuildScene(t *testing.T) {
	geo := fakeGeometry{
		"A_0": {EdgeID: "A", LaneID: "A_0", Points: []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}, Width: 3.2},
		"B_0": {EdgeID: "B", LaneID: "B_0", Points: []geometry.Point{{X: 0, Y: 0}, {X: 0, Y: 10}}, Width: 0.1},
	}
	vehicles := []entity.VehicleObservation{
		{ID: "fast", Speed: 10, Position: geometry.Point{X: 1, Y: 1}},
		{ID: "slow", Speed: 1, Position: geometry.Point{X: 2, Y: 2}},
		{ID: "stop", Speed: 0, Position: geometry.Point{X: 3, Y: 3}},
	}
	signals := []entity.SignalObservation{
		{ID: "J1", ControlledLanes: []string{"A_0", "A_0", "B_0", "X_0"}, State: "Grry"},
	}
	opts := viewport.SceneOptions{
		Viewport:      viewport.Default(),
		Canvas:        viewport.Canvas{Width: 100, Height: 100},
		VehicleLabels: true,
	}

	s := viewport.BuildScene(geo, vehicles, signals, opts)
	require.Len(t, s.Lanes, 2)
	for _, l := range s.Lanes {
		assert.GreaterOrEqual(t, l.Stroke, 1.0)
		assert.Len(t, l.Line, 2)
	}
	assert.Len(t, s.Vehicles, 3)
	assert.Equal(t, "fast", s.Vehicles[0].Label)

	// A_0只画一次，X_0无几何
	require.Len(t, s.Signals, 2)
	assert.Equal(t, "A_0", s.Signals[0].LaneID)
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, s.Signals[0].Color)
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, s.Signals[1].Color)
	// 终点(10,0)回退2m，向左（+Y）偏移1.5m，再投影到屏幕（Y翻转）
	assert.InDelta(t, 58.0, s.Signals[0].At[0], 1e-9)
	assert.InDelta(t, 48.5, s.Signals[0].At[1], 1e-9)
	assert.Empty(t, s.Signals[0].Label)

	opts.Filter = viewport.FilterRunning
	assert.Len(t, viewport.BuildScene(geo, vehicles, signals, opts).Vehicles, 2)
	opts.Filter = viewport.FilterCongested
	s = viewport.BuildScene(geo, vehicles, signals, opts)
	require.Len(t, s.Vehicles, 1)
	assert.Equal(t, "slow", s.Vehicles[0].ID)
	assert.True(t, s.Bound.Contains(s.Vehicles[0].At))
}
