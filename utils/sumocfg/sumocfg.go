// Package sumocfg 解析场景配置文件（.sumocfg），获取其引用的路网文件
package sumocfg

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNoInput   = errors.New("scenario config has no <input> section")
	ErrNoNetFile = errors.New("scenario config has no <net-file> entry")
)

type valueAttr struct {
	Value string `xml:"value,attr"`
}

type scenario struct {
	XMLName xml.Name `xml:"configuration"`
	Input   *struct {
		NetFiles   []valueAttr `xml:"net-file"`
		RouteFiles []valueAttr `xml:"route-files"`
	} `xml:"input"`
}

// Scenario 场景配置中与控制台相关的部分
type Scenario struct {
	Path       string   // 场景配置文件绝对路径
	NetFile    string   // 路网文件绝对路径
	RouteFiles []string // 路径文件绝对路径
}

// Parse 读取场景配置
// 功能：解析<configuration><input><net-file value="..."/>，相对路径以配置文件所在目录为基准
// 参数：path-场景配置文件路径
// 返回：场景信息，缺少<input>或<net-file>时返回ErrNoInput/ErrNoNetFile
func Parse(path string) (*Scenario, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	var s scenario
	if err := xml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.Input == nil {
		return nil, ErrNoInput
	}
	if len(s.Input.NetFiles) == 0 || strings.TrimSpace(s.Input.NetFiles[0].Value) == "" {
		return nil, ErrNoNetFile
	}
	dir := filepath.Dir(abs)
	res := &Scenario{
		Path:    abs,
		NetFile: resolve(dir, s.Input.NetFiles[0].Value),
	}
	for _, r := range s.Input.RouteFiles {
		// route-files可为逗号分隔的列表
		for _, f := range strings.Split(r.Value, ",") {
			if f = strings.TrimSpace(f); f != "" {
				res.RouteFiles = append(res.RouteFiles, resolve(dir, f))
			}
		}
	}
	return res, nil
}

func resolve(dir, p string) string {
	p = strings.TrimSpace(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}
