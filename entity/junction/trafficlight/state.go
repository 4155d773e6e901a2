package trafficlight

import (
	"strings"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
)

// ParseColor 将信号状态字符解析为灯色
// 说明：不区分大小写；g绿、y黄、r与u（红黄）计为红，其余字符（如关闭o、停止s）为未知
func ParseColor(c byte) mapv2.LightState {
	switch c {
	case 'g', 'G':
		return mapv2.LightState_LIGHT_STATE_GREEN
	case 'y', 'Y':
		return mapv2.LightState_LIGHT_STATE_YELLOW
	case 'r', 'R', 'u', 'U':
		return mapv2.LightState_LIGHT_STATE_RED
	default:
		return mapv2.LightState_LIGHT_STATE_UNSPECIFIED
	}
}

// ParseState 将位置式状态字符串解析为逐槽位灯色，每次读取只解析一次
func ParseState(state string) []mapv2.LightState {
	out := make([]mapv2.LightState, len(state))
	for i := 0; i < len(state); i++ {
		out[i] = ParseColor(state[i])
	}
	return out
}

// ColorChar 灯色对应的状态字符，未知灯色返回0
func ColorChar(c mapv2.LightState) byte {
	switch c {
	case mapv2.LightState_LIGHT_STATE_GREEN:
		return 'g'
	case mapv2.LightState_LIGHT_STATE_YELLOW:
		return 'y'
	case mapv2.LightState_LIGHT_STATE_RED:
		return 'r'
	default:
		return 0
	}
}

// Uniform 生成长度为n、全部为同一灯色的状态字符串
func Uniform(c mapv2.LightState, n int) string {
	ch := ColorChar(c)
	if ch == 0 || n <= 0 {
		return ""
	}
	return strings.Repeat(string(ch), n)
}

// Tally 按灯色的计数
type Tally struct {
	Total  int
	Red    int
	Green  int
	Yellow int
}

// Add 累加
func (t *Tally) Add(o Tally) {
	t.Total += o.Total
	t.Red += o.Red
	t.Green += o.Green
	t.Yellow += o.Yellow
}

// TallyByEdge 按所属道路去重统计一个控制器的灯色
// 功能：将受控车道列表与状态字符串按下标对齐（取两者较短长度），
// 同一道路只取其第一次出现的槽位计数一次
// 说明：首个槽位为未知灯色的道路不计入任何计数（包括Total），
// 保证 Red+Green+Yellow == Total
func TallyByEdge(lanes []string, state string) Tally {
	colors := ParseState(state)
	n := min(len(lanes), len(colors))
	seen := make(map[string]struct{}, n)
	var t Tally
	for i := 0; i < n; i++ {
		edge := entity.EdgeOfLane(lanes[i])
		if _, ok := seen[edge]; ok {
			continue
		}
		seen[edge] = struct{}{}
		switch colors[i] {
		case mapv2.LightState_LIGHT_STATE_GREEN:
			t.Green++
		case mapv2.LightState_LIGHT_STATE_YELLOW:
			t.Yellow++
		case mapv2.LightState_LIGHT_STATE_RED:
			t.Red++
		default:
			continue
		}
		t.Total++
	}
	return t
}
