package telemetry

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/tsinghua-fib-lab/traffic-console/entity"
)

// VehicleDetail 车辆明细行
type VehicleDetail struct {
	ID         string
	Status     entity.VehicleClass
	SpeedKmh   float64
	Distance   float64 // m
	TravelTime float64 // s
}

// Details 实时读取全部车辆的明细，读取失败的车辆被跳过
// 返回：明细行与当前仿真时间
func (a *Aggregator) Details(ctx context.Context) ([]VehicleDetail, float64, error) {
	now, err := a.eng.Time(ctx)
	if err != nil {
		return nil, 0, err
	}
	vehicles, _, err := a.readVehicles(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make([]VehicleDetail, len(vehicles))
	for i, v := range vehicles {
		out[i] = VehicleDetail{
			ID:         v.ID,
			Status:     v.Class(),
			SpeedKmh:   v.Speed * 3.6,
			Distance:   v.Odometer,
			TravelTime: max(0, now-v.Departure),
		}
	}
	return out, now, nil
}

// WriteDetails 以对齐的表格输出车辆明细
func WriteDetails(w io.Writer, details []VehicleDetail, now float64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total Active Vehicles: %d | Time: %.1fs\n", len(details), now)
	fmt.Fprintln(tw, "Vehicle ID\tStatus\tSpeed(km/h)\tDistance(m)\tTravelTime(s)")
	for _, d := range details {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.1f\t%.1f\n", d.ID, d.Status, d.SpeedKmh, d.Distance, d.TravelTime)
	}
	return tw.Flush()
}
