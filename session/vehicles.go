package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
)

const (
	defaultVehicleType = "DEFAULT_VEHTYPE"
	maxInjectBatch     = 1000
)

// VehicleDetails 实时读取全部车辆明细
// 返回：明细行与当前仿真时间
func (s *Session) VehicleDetails(ctx context.Context) ([]telemetry.VehicleDetail, float64, error) {
	var (
		details []telemetry.VehicleDetail
		now     float64
	)
	err := s.withEngine(ctx, func(ctx context.Context) error {
		var err error
		details, now, err = s.agg.Details(ctx)
		return err
	})
	return details, now, err
}

// InjectVehicles 在道路edgeID上按路径routeID注入count辆车
// 功能：逐辆添加车辆后尝试移动到<edge>_0，失败时尝试<edge>_1，都失败则保留引擎默认位置
// 参数：speedKmh-出发速度(km/h)，count-数量[1, 1000]
// 返回：成功添加的车辆ID
func (s *Session) InjectVehicles(ctx context.Context, edgeID, routeID string, speedKmh float64, count int) ([]string, error) {
	if count < 1 || count > maxInjectBatch {
		return nil, fmt.Errorf("vehicle count %d out of [1, %d]", count, maxInjectBatch)
	}
	if routeID == "" {
		return nil, errors.New("route id is empty")
	}
	var ids []string
	err := s.withEngine(ctx, func(ctx context.Context) error {
		s.injected++
		prefix := fmt.Sprintf("veh%d_%d", time.Now().UnixMilli(), s.injected)
		for i := 0; i < count; i++ {
			spec := entity.VehicleSpec{
				ID:          fmt.Sprintf("%s_%d", prefix, i),
				RouteID:     routeID,
				TypeID:      defaultVehicleType,
				DepartLane:  "0",
				DepartSpeed: max(0, speedKmh) / 3.6,
			}
			if err := s.eng.AddVehicle(ctx, spec); err != nil {
				return err
			}
			ids = append(ids, spec.ID)
			if edgeID == "" {
				continue
			}
			if err := s.eng.MoveVehicle(ctx, spec.ID, entity.LaneID(edgeID, 0), 0); err != nil {
				if entity.IsConnectionLost(err) {
					return err
				}
				log.Debugf("vehicle %s: lane 0 of %s unavailable, try lane 1", spec.ID, edgeID)
				if err := s.eng.MoveVehicle(ctx, spec.ID, entity.LaneID(edgeID, 1), 0); err != nil {
					if entity.IsConnectionLost(err) {
						return err
					}
					log.Infof("vehicle %s: edge %s has no usable lane, keep default position", spec.ID, edgeID)
				}
			}
		}
		log.Infof("%d vehicles injected on route %s", len(ids), routeID)
		return nil
	})
	return ids, err
}
