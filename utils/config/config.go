package config

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

const (
	DefaultSpeedLevel = 1
	DefaultHeartbeat  = 100
	MinSpeedLevel     = 1
	MaxSpeedLevel     = 10
)

// DefaultExecutables 默认允许的引擎可执行文件名
var DefaultExecutables = []string{"sumo", "sumo-gui"}

// Parse 解析YAML配置并填充默认值
// 功能：严格解析（未知字段报错），再补全缺省项
// 参数：data-YAML文件内容
// 返回：配置与错误
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c.SetDefaults()
	if c.Control.SpeedLevel < MinSpeedLevel || c.Control.SpeedLevel > MaxSpeedLevel {
		return Config{}, fmt.Errorf("config: control.speed_level %d out of [%d, %d]", c.Control.SpeedLevel, MinSpeedLevel, MaxSpeedLevel)
	}
	return c, nil
}

// SetDefaults 补全缺省项
func (c *Config) SetDefaults() {
	if len(c.Engine.Executables) == 0 {
		c.Engine.Executables = append([]string(nil), DefaultExecutables...)
	}
	if c.Control.SpeedLevel == 0 {
		c.Control.SpeedLevel = DefaultSpeedLevel
	}
	if c.Control.Heartbeat <= 0 {
		c.Control.Heartbeat = DefaultHeartbeat
	}
	if c.View.Width <= 0 {
		c.View.Width = 1200
	}
	if c.View.Height <= 0 {
		c.View.Height = 800
	}
}
