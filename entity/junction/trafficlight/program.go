package trafficlight

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/zeebo/blake3"
)

var (
	ErrPhaseIndex    = errors.New("phase index out of range")
	ErrLastPhase     = errors.New("can not remove last remaining phase")
	ErrBadDuration   = errors.New("phase duration must be positive")
	ErrStateMismatch = errors.New("phase state length does not match controlled lanes")
)

// ReplacePhase 返回将第index个相位替换为p之后的新程序，原程序不变
// 说明：新状态字符串的长度必须与被替换相位一致
func ReplacePhase(l entity.Logic, index int, p entity.Phase) (entity.Logic, error) {
	if index < 0 || index >= len(l.Phases) {
		return l, fmt.Errorf("%w: %d of %d", ErrPhaseIndex, index, len(l.Phases))
	}
	if !(p.Duration > 0) {
		return l, ErrBadDuration
	}
	if len(p.State) != len(l.Phases[index].State) {
		return l, fmt.Errorf("%w: %d != %d", ErrStateMismatch, len(p.State), len(l.Phases[index].State))
	}
	out := l.Clone()
	out.Phases[index] = p
	return out, nil
}

// AppendPhase 返回末尾追加相位p之后的新程序
func AppendPhase(l entity.Logic, p entity.Phase) entity.Logic {
	out := l.Clone()
	out.Phases = append(out.Phases, p)
	return out
}

// RemovePhase 返回删除第index个相位之后的新程序
// 说明：程序至少保留一个相位，删除最后一个相位返回ErrLastPhase
func RemovePhase(l entity.Logic, index int) (entity.Logic, error) {
	if index < 0 || index >= len(l.Phases) {
		return l, fmt.Errorf("%w: %d of %d", ErrPhaseIndex, index, len(l.Phases))
	}
	if len(l.Phases) <= 1 {
		return l, ErrLastPhase
	}
	out := l.Clone()
	out.Phases = append(out.Phases[:index], out.Phases[index+1:]...)
	return out, nil
}

// Paint 将buffer中所有受控车道为lane的槽位写为颜色c
// 返回：被修改的槽位数
// 说明：同一车道可能在状态字符串中出现多次，全部匹配位置都会更新
func Paint(buffer []byte, lanes []string, lane string, c byte) int {
	n := 0
	for i, l := range lanes {
		if l == lane && i < len(buffer) {
			buffer[i] = c
			n++
		}
	}
	return n
}

// Fingerprint 程序内容指纹，用于检测两次读取之间程序是否被他人修改
func Fingerprint(l entity.Logic) [32]byte {
	h := blake3.New()
	var buf [8]byte
	h.Write([]byte(l.ProgramID))
	h.Write([]byte{0})
	for _, p := range l.Phases {
		h.Write([]byte(p.State))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.Duration))
		h.Write(buf[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
