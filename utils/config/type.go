package config

// RecordPath 快照记录的MongoDB集合
type RecordPath struct {
	DB  string `yaml:"db"`  // 数据库名
	Col string `yaml:"col"` // 集合名
}

// GetDb 获取数据库名
func (p RecordPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p RecordPath) GetColl() string {
	return p.Col
}

// Engine 仿真引擎配置
// 功能：指定引擎可执行文件、场景配置与引擎网关地址
// 说明：可执行文件名（去掉.exe后）必须在Executables中
type Engine struct {
	Path        string   `yaml:"path"`                  // 引擎可执行文件路径
	Config      string   `yaml:"config"`                // 场景配置文件路径
	Gateway     string   `yaml:"gateway"`               // 引擎网关地址，如http://localhost:8813
	Executables []string `yaml:"executables,omitempty"` // 允许的可执行文件名
	Args        []string `yaml:"args,omitempty"`        // 追加的启动参数
}

// Control 步进控制配置
type Control struct {
	SpeedLevel int   `yaml:"speed_level,omitempty"` // 连续模式速度档位[1, 10]
	Heartbeat  int64 `yaml:"heartbeat,omitempty"`   // 每隔多少步输出一次Info日志
}

// Signal 信控编辑配置
type Signal struct {
	StrictCommit bool `yaml:"strict_commit,omitempty"` // 提交前比对程序指纹，被他人修改时拒绝提交
}

// Record 快照记录配置，各项为空则不启用
type Record struct {
	CSV    string      `yaml:"csv,omitempty"`    // CSV文件路径
	URI    string      `yaml:"uri,omitempty"`    // MongoDB连接字符串
	Mongo  *RecordPath `yaml:"mongo,omitempty"`  // MongoDB集合
	SQLite string      `yaml:"sqlite,omitempty"` // SQLite数据库文件路径
}

// View 默认画布
type View struct {
	Width  float64 `yaml:"width,omitempty"`
	Height float64 `yaml:"height,omitempty"`
}

// Config YAML配置文件的根结构
type Config struct {
	Engine  Engine  `yaml:"engine"`
	Control Control `yaml:"control,omitempty"`
	Signal  Signal  `yaml:"signal,omitempty"`
	Record  Record  `yaml:"record,omitempty"`
	View    View    `yaml:"view,omitempty"`
}
