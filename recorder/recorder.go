// Package recorder 将每步的统计快照持久化到CSV文件、MongoDB或SQLite
package recorder

import (
	"context"
	"errors"

	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
	"github.com/tsinghua-fib-lab/traffic-console/utils/config"
)

// Recorder 快照记录器
type Recorder interface {
	Record(ctx context.Context, s telemetry.Snapshot) error
	Close(ctx context.Context) error
}

// Multi 依次写入多个记录器
type Multi []Recorder

// Record 写入全部记录器，单个失败不影响其他记录器
func (m Multi) Record(ctx context.Context, s telemetry.Snapshot) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部记录器
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for _, r := range m {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open 按配置创建记录器，未配置任何输出时返回空的Multi
func Open(ctx context.Context, c config.Record) (Multi, error) {
	var m Multi
	if c.CSV != "" {
		r, err := NewCSV(c.CSV)
		if err != nil {
			return nil, err
		}
		m = append(m, r)
	}
	if c.SQLite != "" {
		r, err := NewSQLite(ctx, c.SQLite)
		if err != nil {
			_ = m.Close(ctx)
			return nil, err
		}
		m = append(m, r)
	}
	if c.Mongo != nil {
		if c.URI == "" {
			_ = m.Close(ctx)
			return nil, errors.New("record.uri is required when record.mongo is set")
		}
		m = append(m, NewMongo(c.URI, *c.Mongo))
	}
	log.Infof("%d snapshot recorders enabled", len(m))
	return m, nil
}
