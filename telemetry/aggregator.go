package telemetry

import (
	"context"

	"github.com/tsinghua-fib-lab/traffic-console/clock"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/entity/junction/trafficlight"
)

// Aggregator 遥测聚合器
// 功能：每步从引擎读取车辆与信号控制器列表，分类统计并生成不可变快照
// 说明：单个实体读取失败时记录警告并从本步快照中排除，聚合本身不因此中止；
// 连接断开则立即返回错误，累计量不做任何修改
type Aggregator struct {
	eng entity.IEngine
}

// New 创建聚合器
func New(eng entity.IEngine) *Aggregator {
	return &Aggregator{eng: eng}
}

// Collect 聚合当前一步
// 参数：ctx-上下文，acc-会话持有的累计量，steps-当前步数
// 返回：本步结果
// 算法说明：
// 1. 读取引擎时钟
// 2. 逐车读取速度、里程、出发时间、位置、航向；速度>0为行驶，其中速度*3.6<5为拥堵
// 3. 累计量增量：里程取max(0, odometer)，时间取max(0, 时钟-出发时间)
// 4. 逐控制器按道路去重统计灯色
// 5. 计算派生指标并一次性写回累计量
func (a *Aggregator) Collect(ctx context.Context, acc *Accumulator, steps int64) (*Frame, error) {
	now, err := a.eng.Time(ctx)
	if err != nil {
		return nil, err
	}
	vehicles, skippedVehicles, err := a.readVehicles(ctx)
	if err != nil {
		return nil, err
	}
	signals, skippedSignals, err := a.readSignals(ctx)
	if err != nil {
		return nil, err
	}

	next := *acc
	s := Snapshot{
		VehicleTotal:      len(vehicles),
		TotalSteps:        steps,
		SimulationSeconds: now,
		SimulationTime:    clock.FormatHMS(now),
	}
	for _, v := range vehicles {
		next.Add(v.Odometer, now-v.Departure)
		switch v.Class() {
		case entity.VehicleCongested:
			s.VehicleCongested++
			s.VehicleRunning++
		case entity.VehicleRunning:
			s.VehicleRunning++
		default:
			s.VehicleStatic++
		}
	}
	var tally trafficlight.Tally
	for _, sig := range signals {
		tally.Add(trafficlight.TallyByEdge(sig.ControlledLanes, sig.State))
	}
	s.SignalTotal = tally.Total
	s.SignalRed = tally.Red
	s.SignalGreen = tally.Green
	s.SignalYellow = tally.Yellow

	s.AvgSpeedKmh = next.AvgSpeedKmh()
	if s.VehicleTotal > 0 {
		s.TrafficEfficiencyPct = float64(s.VehicleRunning) / float64(s.VehicleTotal) * 100
	}
	*acc = next

	return &Frame{
		Snapshot:        s,
		Vehicles:        vehicles,
		Signals:         signals,
		SkippedVehicles: skippedVehicles,
		SkippedSignals:  skippedSignals,
	}, nil
}

// readVehicles 读取全部车辆观测值，单车失败计入skipped
func (a *Aggregator) readVehicles(ctx context.Context) ([]entity.VehicleObservation, int, error) {
	ids, err := a.eng.VehicleIDs(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make([]entity.VehicleObservation, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		v, err := a.readVehicle(ctx, id)
		if err != nil {
			if entity.IsConnectionLost(err) {
				return nil, 0, err
			}
			log.Warnf("skip vehicle %s: %v", id, err)
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped, nil
}

func (a *Aggregator) readVehicle(ctx context.Context, id string) (v entity.VehicleObservation, err error) {
	v.ID = id
	if v.Speed, err = a.eng.VehicleSpeed(ctx, id); err != nil {
		return
	}
	if v.Odometer, err = a.eng.VehicleDistance(ctx, id); err != nil {
		return
	}
	if v.Departure, err = a.eng.VehicleDeparture(ctx, id); err != nil {
		return
	}
	if v.Position, err = a.eng.VehiclePosition(ctx, id); err != nil {
		return
	}
	v.Heading, err = a.eng.VehicleAngle(ctx, id)
	return
}

// readSignals 读取全部信号控制器的受控车道与当前状态
func (a *Aggregator) readSignals(ctx context.Context) ([]entity.SignalObservation, int, error) {
	ids, err := a.eng.SignalIDs(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make([]entity.SignalObservation, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		lanes, err := a.eng.SignalControlledLanes(ctx, id)
		if err == nil {
			var state string
			state, err = a.eng.SignalState(ctx, id)
			if err == nil {
				out = append(out, entity.SignalObservation{ID: id, ControlledLanes: lanes, State: state})
				continue
			}
		}
		if entity.IsConnectionLost(err) {
			return nil, 0, err
		}
		log.Warnf("skip traffic light %s: %v", id, err)
		skipped++
	}
	return out, skipped, nil
}
