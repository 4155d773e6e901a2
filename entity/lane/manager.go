package lane

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
)

// LaneManager 车道几何缓存
// 功能：连接时遍历一次全部道路，按道路ID缓存其所有车道的中心线与宽度，此后只做查找
// 说明：路网在一次连接期间视为静态，断开或重连时整体失效；
// 预加载先构建完整的新表再整体替换，渲染侧可以在步进期间并发读取
type LaneManager struct {
	mtx   sync.RWMutex
	data  map[string][]LaneShape // 道路ID -> 车道（按序号）
	lanes map[string]LaneShape   // 车道ID -> 车道
	edges []string
}

// NewManager 创建空的车道几何缓存
func NewManager() *LaneManager {
	return &LaneManager{
		data:  make(map[string][]LaneShape),
		lanes: make(map[string]LaneShape),
		edges: make([]string, 0),
	}
}

// Preload 预加载全部道路的车道几何
// 功能：查询道路列表，对每条道路查询车道数及每条车道的折线与宽度
// 参数：ctx-上下文，eng-引擎
// 返回：道路列表读取失败或连接断开时返回错误，此时缓存保持原样
// 算法说明：
// 1. 读取道路ID列表
// 2. 逐条道路读取车道数，逐条车道读取折线和宽度
// 3. 单条道路读取失败只记录日志并跳过，少于2个点的车道不入缓存
// 4. 全部完成后整体替换旧表
func (m *LaneManager) Preload(ctx context.Context, eng entity.IEngine) error {
	edgeIDs, err := eng.EdgeIDs(ctx)
	if err != nil {
		return err
	}
	data := make(map[string][]LaneShape, len(edgeIDs))
	for _, edgeID := range edgeIDs {
		shapes, err := m.loadEdge(ctx, eng, edgeID)
		if err != nil {
			if entity.IsConnectionLost(err) {
				return err
			}
			log.Warnf("failed to get lane shapes: edge=%s, err=%v", edgeID, err)
		}
		data[edgeID] = shapes
	}
	lanes := make(map[string]LaneShape)
	for _, shapes := range data {
		for _, s := range shapes {
			lanes[s.LaneID] = s
		}
	}

	m.mtx.Lock()
	m.data = data
	m.lanes = lanes
	m.edges = edgeIDs
	m.mtx.Unlock()
	log.Infof("road network preloaded: %d edges, %d lanes", len(edgeIDs), len(lanes))
	return nil
}

// loadEdge 读取一条道路的全部车道，出错时返回已读取的部分
func (m *LaneManager) loadEdge(ctx context.Context, eng entity.IEngine, edgeID string) ([]LaneShape, error) {
	count, err := eng.EdgeLaneCount(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("edge %s: invalid lane count %d", edgeID, count)
	}
	shapes := make([]LaneShape, 0, count)
	for i := 0; i < count; i++ {
		laneID := entity.LaneID(edgeID, i)
		points, err := eng.LaneShape(ctx, laneID)
		if err != nil {
			return shapes, err
		}
		width, err := eng.LaneWidth(ctx, laneID)
		if err != nil {
			return shapes, err
		}
		if len(points) < 2 {
			log.Debugf("skip degenerate lane %s with %d points", laneID, len(points))
			continue
		}
		shapes = append(shapes, LaneShape{
			EdgeID: edgeID,
			Index:  i,
			LaneID: laneID,
			Points: points,
			Width:  width,
		})
	}
	return shapes, nil
}

// Get 获取道路的全部车道几何，未命中时返回空列表
func (m *LaneManager) Get(edgeID string) []LaneShape {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if shapes, ok := m.data[edgeID]; ok {
		return shapes
	}
	return []LaneShape{}
}

// Lane 按车道ID查找
func (m *LaneManager) Lane(laneID string) (LaneShape, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	s, ok := m.lanes[laneID]
	return s, ok
}

// Edges 已缓存的道路ID（与引擎返回顺序一致）
func (m *LaneManager) Edges() []string {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.edges
}

// All 全部车道，按道路顺序展开
func (m *LaneManager) All() []LaneShape {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return lo.FlatMap(m.edges, func(edgeID string, _ int) []LaneShape {
		return m.data[edgeID]
	})
}

// Len 已缓存的车道数
func (m *LaneManager) Len() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.lanes)
}

// Invalidate 清空缓存，断开或重连时调用
func (m *LaneManager) Invalidate() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.data = make(map[string][]LaneShape)
	m.lanes = make(map[string]LaneShape)
	m.edges = make([]string, 0)
}
