package bridge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/traffic-console/engine/bridge"
	"github.com/tsinghua-fib-lab/traffic-console/engine/enginetest"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
)

var ctx = context.Background()

func serve(t *testing.T, eng entity.IEngine) (*bridge.Client, *httptest.Server) {
	mux := http.NewServeMux()
	mux.Handle(bridge.NewGatewayHandler(eng))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return bridge.New(srv.Client(), srv.URL), srv
}

func fixture() *enginetest.Engine {
	eng := enginetest.New()
	eng.Boundary = entity.Boundary{Min: geometry.Point{X: -10, Y: -20}, Max: geometry.Point{X: 30, Y: 40}}
	eng.Vehicles["v1"] = &enginetest.Vehicle{Speed: 3.5, Distance: 120, Departure: 4, Position: geometry.Point{X: 1, Y: 2}, Angle: 90}
	eng.Edges["E"] = []enginetest.Lane{
		{Shape: []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}, Width: 3.2},
	}
	eng.Signals["J1"] = &enginetest.Signal{
		ControlledLanes: []string{"E_0", "E_0"},
		State:           "Gr",
		PhaseDuration:   20,
		Program:         "0",
		Logics: []entity.Logic{{ProgramID: "0", Phases: []entity.Phase{
			{State: "Gr", Duration: 20},
			{State: "rG", Duration: 15},
		}}},
	}
	return eng
}

func TestRoundTrip(t *testing.T) {
	eng := fixture()
	c, _ := serve(t, eng)

	require.NoError(t, c.Start(ctx, []string{"sumo", "-c", "demo.sumocfg", "--start"}))
	eng.Do(func(e *enginetest.Engine) {
		assert.Equal(t, [][]string{{"sumo", "-c", "demo.sumocfg", "--start"}}, e.StartArgs)
	})
	require.NoError(t, c.Step(ctx))
	now, err := c.Time(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, now)

	b, err := c.NetBoundary(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.Boundary{Min: geometry.Point{X: -10, Y: -20}, Max: geometry.Point{X: 30, Y: 40}}, b)

	ids, err := c.VehicleIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, ids)
	speed, err := c.VehicleSpeed(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 3.5, speed)
	pos, err := c.VehiclePosition(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, geometry.Point{X: 1, Y: 2}, pos)

	n, err := c.EdgeLaneCount(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	shape, err := c.LaneShape(ctx, "E_0")
	require.NoError(t, err)
	assert.Equal(t, []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}, shape)

	logics, err := c.SignalLogics(ctx, "J1")
	require.NoError(t, err)
	require.Len(t, logics, 1)
	assert.Equal(t, entity.Logic{ProgramID: "0", Phases: []entity.Phase{
		{State: "Gr", Duration: 20},
		{State: "rG", Duration: 15},
	}}, logics[0])

	next := logics[0].Clone()
	next.Phases[1].Duration = 42
	require.NoError(t, c.SetSignalLogic(ctx, "J1", next))
	require.NoError(t, c.SetSignalProgram(ctx, "J1", "0"))
	eng.Do(func(e *enginetest.Engine) {
		assert.Equal(t, 42.0, e.Signals["J1"].Logics[0].Phases[1].Duration)
	})

	require.NoError(t, c.AddVehicle(ctx, entity.VehicleSpec{ID: "inj_1", RouteID: "r0", DepartSpeed: 2}))
	require.NoError(t, c.MoveVehicle(ctx, "inj_1", "E_0", 0))
	eng.Do(func(e *enginetest.Engine) {
		assert.Equal(t, "E_0", e.Vehicles["inj_1"].Lane)
	})

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, 1, eng.CallCount("Close"))
}

func TestRemoteError(t *testing.T) {
	eng := fixture()
	c, _ := serve(t, eng)
	require.NoError(t, c.Start(ctx, nil))

	_, err := c.VehicleSpeed(ctx, "ghost")
	var te *entity.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, entity.TransportRemote, te.Kind)
	assert.Equal(t, "VehicleSpeed", te.Method)
	assert.False(t, entity.IsConnectionLost(err))
}

func TestConnectionLostFromEngine(t *testing.T) {
	eng := fixture()
	c, _ := serve(t, eng)
	require.NoError(t, c.Start(ctx, nil))
	eng.Lose()
	err := c.Step(ctx)
	require.Error(t, err)
	assert.True(t, entity.IsConnectionLost(err))
}

func TestConnectionLostWhenGatewayGone(t *testing.T) {
	c, srv := serve(t, fixture())
	srv.Close()
	_, err := c.Time(ctx)
	require.Error(t, err)
	assert.True(t, entity.IsConnectionLost(err))
}

func TestProtocolError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/traci.v1.EngineService/Time", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"not a number"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := bridge.New(srv.Client(), srv.URL).Time(ctx)
	var te *entity.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, entity.TransportProtocol, te.Kind)
}

func TestLaneCountMustBeCount(t *testing.T) {
	for _, body := range []string{`{"value":-1}`, `{"value":1.5}`, `{"value":1e300}`} {
		mux := http.NewServeMux()
		mux.HandleFunc("/traci.v1.EngineService/EdgeLaneCount", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		})
		srv := httptest.NewServer(mux)

		n, err := bridge.New(srv.Client(), srv.URL).EdgeLaneCount(ctx, "E")
		srv.Close()
		var te *entity.TransportError
		require.True(t, errors.As(err, &te), body)
		assert.Equal(t, entity.TransportProtocol, te.Kind, body)
		assert.Zero(t, n, body)
	}
}
