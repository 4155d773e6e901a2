package recorder

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
)

// Export 将单个快照导出为(Metric, Value)两列的CSV
func Export(w io.Writer, s telemetry.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	for _, r := range s.Rows() {
		if err := cw.Write([]string{r.Metric, r.Value}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV 逐步追加(Step, Metric, Value)行的CSV记录器
type CSV struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSV 创建（截断）CSV文件并写入表头
func NewCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv %s: %w", path, err)
	}
	r := &CSV{f: f, w: csv.NewWriter(f)}
	if err := r.w.Write([]string{"Step", "Metric", "Value"}); err != nil {
		f.Close()
		return nil, err
	}
	log.Infof("record snapshots to csv %s", path)
	return r, nil
}

func (r *CSV) Record(ctx context.Context, s telemetry.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	step := strconv.FormatInt(s.TotalSteps, 10)
	for _, row := range s.Rows() {
		if err := r.w.Write([]string{step, row.Metric, row.Value}); err != nil {
			return err
		}
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *CSV) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
