package session

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"github.com/tsinghua-fib-lab/traffic-console/utils/sumocfg"
	"github.com/tsinghua-fib-lab/traffic-console/viewport"
)

// Connect 连接引擎
// 功能：校验引擎可执行文件与场景配置，解析场景引用的路网文件，启动引擎并完成握手
// 参数：enginePath/configPath-为空时使用配置中的默认值
// 返回：失败时为*ConnectError，会话保持断开状态
// 算法说明：
// 1. 已连接时先断开
// 2. 校验路径：场景配置已指定；可执行文件存在且文件名（去掉.exe）在允许列表中；场景配置与路网文件存在
// 3. 以[engine, -c, config, --start, 追加参数...]启动引擎
// 4. 清零步数与累计量，读取路网范围，预加载车道几何，加载信号控制器
// 5. 期间收到的断开请求在完成后执行
func (s *Session) Connect(ctx context.Context, enginePath, configPath string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.isLive() {
		s.disconnectLocked(ctx)
	}
	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()
	s.setState(Connecting)

	err := s.connectLocked(ctx, enginePath, configPath)

	s.mu.Lock()
	s.busy = false
	pending := s.pending
	s.pending = false
	if err == nil {
		s.live = true
		s.gen++
	}
	s.mu.Unlock()

	if err != nil {
		log.Errorf("connect failed: %v", err)
		s.setState(Disconnected)
		s.events.error(err)
		return err
	}
	s.setState(Connected)
	if pending {
		log.Info("disconnect requested while connecting")
		s.disconnectLocked(ctx)
	}
	return nil
}

// ConnectAsync 在后台连接，结果通过Listener回调
func (s *Session) ConnectAsync(enginePath, configPath string) {
	go func() {
		_ = s.Connect(s.ctx, enginePath, configPath)
	}()
}

func (s *Session) connectLocked(ctx context.Context, enginePath, configPath string) error {
	if enginePath == "" {
		enginePath = s.opts.Engine.Path
	}
	if configPath == "" {
		configPath = s.opts.Engine.Config
	}
	if configPath == "" {
		return &ConnectError{Kind: MissingConfig}
	}
	if err := s.validateEngine(enginePath); err != nil {
		return err
	}
	if fi, err := os.Stat(configPath); err != nil {
		return &ConnectError{Kind: MissingConfig, Err: err}
	} else if fi.IsDir() {
		return connectError(MissingConfig, "%s is a directory", configPath)
	}
	scenario, err := sumocfg.Parse(configPath)
	if err != nil {
		return &ConnectError{Kind: NetworkFileMissing, Err: err}
	}
	if _, err := os.Stat(scenario.NetFile); err != nil {
		return &ConnectError{Kind: NetworkFileMissing, Err: err}
	}
	log.Infof("network file: %s", scenario.NetFile)

	args := append([]string{enginePath, "-c", configPath, "--start"}, s.opts.Engine.Args...)

	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	if err := s.eng.Start(ctx, args); err != nil {
		return &ConnectError{Kind: HandshakeFailed, Err: err}
	}
	if err := s.initLocked(ctx); err != nil {
		s.closeEngine(ctx)
		return &ConnectError{Kind: HandshakeFailed, Err: err}
	}
	s.args = args
	log.Infof("connected to engine: %v", args)
	return nil
}

// validateEngine 检查可执行文件
func (s *Session) validateEngine(path string) error {
	if path == "" {
		return connectError(InvalidEnginePath, "engine path is empty")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return &ConnectError{Kind: InvalidEnginePath, Err: err}
	}
	if fi.IsDir() {
		return connectError(InvalidEnginePath, "%s is a directory", path)
	}
	name := filepath.Base(path)
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".exe") {
		name = strings.TrimSuffix(name, ext)
	}
	if !slices.Contains(s.opts.Engine.Executables, name) {
		return connectError(InvalidEnginePath, "%s is not one of %v", filepath.Base(path), s.opts.Engine.Executables)
	}
	return nil
}

// initLocked 启动后的初始化，reset后同样执行
func (s *Session) initLocked(ctx context.Context) error {
	s.clock.Reset()
	s.acc.Reset()
	s.frame.Store(nil)
	b, err := s.eng.NetBoundary(ctx)
	if err != nil {
		return err
	}
	s.boundary.Store(&b)
	if err := s.lanes.Preload(ctx, s.eng); err != nil {
		return err
	}
	return s.junctions.Init(ctx)
}

// closeEngine 关闭引擎，连接已断开时忽略错误
func (s *Session) closeEngine(ctx context.Context) {
	if err := s.eng.Close(ctx); err != nil && !entity.IsConnectionLost(err) {
		log.Warnf("close engine: %v", err)
	}
}

func (s *Session) isLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Reset 以相同参数重启引擎并清零全部累计量
// 说明：先停止连续模式；重启失败时会话转为断开状态并返回*ConnectError
func (s *Session) Reset(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.connected() {
		return errNotConnected
	}
	s.StopContinuous()

	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()

	err := s.resetLocked(ctx)

	s.mu.Lock()
	s.busy = false
	pending := s.pending
	s.pending = false
	if err == nil {
		s.gen++
	}
	s.mu.Unlock()

	if err != nil {
		log.Errorf("reset failed: %v", err)
		s.events.error(err)
		s.disconnectLocked(ctx)
		return err
	}
	// 等待连续模式停止期间可能已因连接断开被标记为断开
	s.setState(Connected)
	log.Info("simulation reset")
	if pending {
		s.disconnectLocked(ctx)
	}
	return nil
}

func (s *Session) resetLocked(ctx context.Context) error {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	s.closeEngine(ctx)
	if err := s.eng.Start(ctx, s.args); err != nil {
		return &ConnectError{Kind: HandshakeFailed, Err: err}
	}
	if err := s.initLocked(ctx); err != nil {
		s.closeEngine(ctx)
		return &ConnectError{Kind: HandshakeFailed, Err: err}
	}
	return nil
}

// Disconnect 断开连接
// 功能：停止连续模式，关闭引擎，恢复默认视图，使几何缓存与控制器注册表失效
// 说明：幂等；connect/reset进行中时推迟到其完成后执行
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	if s.busy {
		s.pending = true
		s.mu.Unlock()
		log.Info("disconnect deferred until connect/reset completes")
		return
	}
	s.mu.Unlock()

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.disconnectLocked(ctx)
}

// disconnectGen 连接断开后的后台清理，只作用于第gen次建立的连接；
// 此后已重新connect/reset时不做任何操作
func (s *Session) disconnectGen(ctx context.Context, gen uint64) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		log.Debugf("connection %d already replaced, skip cleanup", gen)
		return
	}
	s.disconnectLocked(ctx)
}

func (s *Session) disconnectLocked(ctx context.Context) {
	s.StopContinuous()

	s.engineMu.Lock()
	s.mu.Lock()
	live := s.live
	s.live = false
	s.mu.Unlock()
	if live {
		s.closeEngine(ctx)
		s.lanes.Invalidate()
		s.junctions.Clear()
		s.boundary.Store(nil)
		s.args = nil
		log.Info("engine closed")
	}
	s.engineMu.Unlock()

	s.viewMu.Lock()
	s.view = viewport.Default()
	s.viewMu.Unlock()
	s.setState(Disconnected)
}
