package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.fiblab.net/sim/syncer/v3"
	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/tsinghua-fib-lab/traffic-console/clock"
	"github.com/tsinghua-fib-lab/traffic-console/engine/bridge"
	"github.com/tsinghua-fib-lab/traffic-console/recorder"
	"github.com/tsinghua-fib-lab/traffic-console/session"
	"github.com/tsinghua-fib-lab/traffic-console/utils/config"
	"github.com/tsinghua-fib-lab/traffic-console/viewport"
)

const selfName = "console" // 本程序在模拟任务集群中的名字

var (
	// 分布式模式syncer地址，如果设置为空则激活独立部署模式
	syncerAddr = pflag.String("syncer", "", "syncer address (empty means standalone mode), e.g. http://localhost:53001")
	// 本程序监听的RPC地址
	listenAddr = pflag.String("listen", ":51102", "RPC listening address")
	// 配置文件路径
	configPath = pflag.String("config", "", "config file path")
	// 配置文件Base64编码后的数据
	configData = pflag.String("config-data", "", "config file base64 encoded data")
	// 覆盖配置中的引擎网关地址
	gateway = pflag.String("gateway", "", "engine gateway address, overrides engine.gateway")
	// 启动后立即使用配置中的引擎与场景连接
	autoConnect = pflag.Bool("connect", false, "connect to the engine on startup with engine.path and engine.config")

	// log
	logLevels = map[string]logrus.Level{
		"trace":    logrus.TraceLevel,
		"debug":    logrus.DebugLevel,
		"info":     logrus.InfoLevel,
		"warn":     logrus.WarnLevel,
		"error":    logrus.ErrorLevel,
		"critical": logrus.FatalLevel,
		"off":      logrus.PanicLevel,
	}
	logLevel = pflag.String("log.level", "info", "日志级别（可选项：trace debug info warn error critical off）")

	log = logrus.WithField("module", "console")
)

func loadConfig() config.Config {
	var (
		file []byte
		err  error
	)
	if *configPath != "" {
		file, err = os.ReadFile(*configPath)
		if err != nil {
			log.Panicf("config file load err: %v", err)
		}
	} else if *configData != "" {
		file, err = base64.StdEncoding.DecodeString(*configData)
		if err != nil {
			log.Panicf("config data load err: %v", err)
		}
	} else {
		log.Panic("config file or config data must be specified")
	}
	c, err := config.Parse(file)
	if err != nil {
		log.Panicf("config file load err: %v", err)
	}
	if *gateway != "" {
		c.Engine.Gateway = *gateway
	}
	if c.Engine.Gateway == "" {
		log.Panic("engine.gateway must be specified")
	}
	return c
}

func main() {
	pflag.Parse()
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		log.Panicf("log.level must be one of %v", logLevels)
	}
	c := loadConfig()
	log.Infof("%+v", c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := recorder.Open(ctx, c.Record)
	if err != nil {
		log.Panicf("recorder open err: %v", err)
	}
	eng := bridge.New(http.DefaultClient, c.Engine.Gateway)
	sess := session.New(eng, session.Options{
		Engine:       c.Engine,
		Control:      c.Control,
		StrictCommit: c.Signal.StrictCommit,
		Canvas:       viewport.Canvas{Width: c.View.Width, Height: c.View.Height},
		Listener:     &listener{rec: rec},
	})

	sidecar := syncer.NewSidecar(selfName, *listenAddr, *syncerAddr)
	sess.Register(sidecar)
	clock.NewService(sess.Clock()).Register(sidecar)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		if err := sidecar.Serve(); err != nil {
			log.Panicf("failed to serve: %v", err)
		}
	}()
	log.Infof("console listening on %s", *listenAddr)

	if *autoConnect {
		sess.ConnectAsync("", "")
	}

	<-ctx.Done()
	log.Info("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sess.Close(shutdown)
	sidecar.Close()
	<-closed
	if err := rec.Close(shutdown); err != nil {
		log.Warnf("recorder close err: %v", err)
	}
}
