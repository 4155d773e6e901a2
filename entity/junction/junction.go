package junction

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
)

// Controller 信号控制器
// 功能：保存一个信号控制器的受控车道、最近一次读取的相位列表以及自定义相位编辑缓冲
// 说明：每个控制器ID只构造一次，由JunctionManager独占持有；
// 相位列表只用于展示，任何修改前都会重新从引擎读取权威程序
type Controller struct {
	id              string
	controlledLanes []string
	programID       string
	phases          []entity.Phase
	customState     []byte // 仅在自定义相位编辑期间非nil
}

func newController(id string, lanes []string) *Controller {
	return &Controller{
		id:              id,
		controlledLanes: lanes,
		phases:          make([]entity.Phase, 0),
	}
}

// ID 控制器ID
func (c *Controller) ID() string {
	return c.id
}

// ControlledLanes 受控车道（按状态字符串槽位顺序，可能重复）
func (c *Controller) ControlledLanes() []string {
	return c.controlledLanes
}

// DistinctLanes 去重并排序后的受控车道，用于逐车道设置颜色
func (c *Controller) DistinctLanes() []string {
	lanes := lo.Uniq(c.controlledLanes)
	sort.Strings(lanes)
	return lanes
}

// Label 列表展示文本
func (c *Controller) Label() string {
	return fmt.Sprintf("TL %s [%s]", c.id, strings.Join(c.DistinctLanes(), ", "))
}

// ProgramID 最近一次读取的程序ID
func (c *Controller) ProgramID() string {
	return c.programID
}

// Phases 最近一次读取的相位列表
func (c *Controller) Phases() []entity.Phase {
	return c.phases
}

// PhaseLabels 按下标标记的相位名
func (c *Controller) PhaseLabels() []string {
	return lo.Map(c.phases, func(_ entity.Phase, i int) string {
		return fmt.Sprintf("Phase %d", i)
	})
}

// CustomState 自定义相位缓冲的当前内容
func (c *Controller) CustomState() string {
	return string(c.customState)
}

func (c *Controller) setLogic(l entity.Logic) {
	c.programID = l.ProgramID
	c.phases = l.Clone().Phases
}
