package junction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
)

// JunctionManager 信号控制器注册表
// 功能：按ID持有全部信号控制器，并承载同一时刻至多一个控制器的相位编辑会话
// 说明：非并发安全，所有方法都需要在会话的引擎锁内调用；
// 所有修改对引擎都是“后写覆盖”，strict为true时提交前比较程序指纹，拒绝覆盖他人的修改
type JunctionManager struct {
	eng    entity.IEngine
	strict bool

	data        map[string]*Controller
	controllers []*Controller

	edit editSession
}

// NewManager 创建信号控制器注册表
// 参数：eng-引擎，strict-是否在提交时检查程序是否被并发修改
func NewManager(eng entity.IEngine, strict bool) *JunctionManager {
	return &JunctionManager{
		eng:         eng,
		strict:      strict,
		data:        make(map[string]*Controller),
		controllers: make([]*Controller, 0),
		edit:        newEditSession(),
	}
}

// Init 读取全部信号控制器并构造控制器对象
// 功能：查询控制器列表与每个控制器的受控车道，没有受控车道的控制器不纳入注册表
// 说明：已存在的控制器对象被复用（受控车道刷新），单个控制器读取失败只记录日志；
// 连接断开时返回错误
func (m *JunctionManager) Init(ctx context.Context) error {
	ids, err := m.eng.SignalIDs(ctx)
	if err != nil {
		return err
	}
	data := make(map[string]*Controller, len(ids))
	controllers := make([]*Controller, 0, len(ids))
	for _, id := range ids {
		lanes, err := m.eng.SignalControlledLanes(ctx, id)
		if err != nil {
			if entity.IsConnectionLost(err) {
				return err
			}
			log.Warnf("failed to load traffic light %s: %v", id, err)
			continue
		}
		if len(lanes) == 0 {
			continue
		}
		c, ok := m.data[id]
		if ok {
			c.controlledLanes = lanes
		} else {
			c = newController(id, lanes)
		}
		data[id] = c
		controllers = append(controllers, c)
	}
	m.data = data
	m.controllers = controllers
	m.edit = newEditSession()
	log.Infof("traffic lights loaded: %d", len(controllers))
	return nil
}

// Clear 断开连接时清空注册表
func (m *JunctionManager) Clear() {
	m.data = make(map[string]*Controller)
	m.controllers = make([]*Controller, 0)
	m.edit = newEditSession()
}

// List 全部控制器（引擎返回顺序）
func (m *JunctionManager) List() []*Controller {
	return m.controllers
}

// IDs 全部控制器ID
func (m *JunctionManager) IDs() []string {
	return lo.Map(m.controllers, func(c *Controller, _ int) string { return c.id })
}

// Get 按ID获取控制器
func (m *JunctionManager) Get(id string) (*Controller, bool) {
	c, ok := m.data[id]
	return c, ok
}

// GetOrError 按ID获取控制器，不存在时返回错误
func (m *JunctionManager) GetOrError(id string) (*Controller, error) {
	if c, ok := m.data[id]; ok {
		return c, nil
	}
	return nil, &EditError{Op: "get", ID: id, Err: ErrUnknownController}
}

// firstLogic 读取控制器的第一个程序（权威数据）
func (m *JunctionManager) firstLogic(ctx context.Context, id string) (entity.Logic, error) {
	logics, err := m.eng.SignalLogics(ctx, id)
	if err != nil {
		return entity.Logic{}, err
	}
	if len(logics) == 0 {
		return entity.Logic{}, &EditError{Op: "load program", ID: id, Err: ErrNoProgram}
	}
	return logics[0], nil
}

// pushLogic 写回整个程序并重新激活该程序
func (m *JunctionManager) pushLogic(ctx context.Context, id string, l entity.Logic) error {
	if err := m.eng.SetSignalLogic(ctx, id, l); err != nil {
		return fmt.Errorf("set program of %s: %w", id, err)
	}
	if err := m.eng.SetSignalProgram(ctx, id, l.ProgramID); err != nil {
		return fmt.Errorf("activate program %s of %s: %w", l.ProgramID, id, err)
	}
	return nil
}

func newToken() string {
	return uuid.NewString()
}
