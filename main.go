package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/conf"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/engine"
)

const help = `
******************************************************************************************
*  XMySQL storage kernel
*帮助:
*1. -- help
*2. -- configPath   指定 kernel.ini / kernel.toml 配置文件
******************************************************************************************
`

func main() {
	var configPath string
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := &conf.CommandLineArgs{
		ConfigPath: configPath,
	}
	config, err := conf.NewCfg().Load(args)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.InitLogger(config.LogConfig()); err != nil {
		logger.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()
	logger.Infof("Logger initialized with level: %s", config.LogLevel)

	kernel, err := engine.NewStorageKernel(config)
	if err != nil {
		logger.Fatalf("Failed to open storage kernel: %+v", err)
	}
	kernel.LogStats()

	ctx, cancel := context.WithCancel(context.Background())
	go kernel.RunCheckpoints(ctx, time.Duration(config.CheckpointInterval)*time.Second)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("storage kernel ready")
	s := <-sig
	logger.Infof("received %s, shutting down", s)

	cancel()
	kernel.LogStats()
	if err := kernel.Close(); err != nil {
		logger.Errorf("close storage kernel: %v", err)
	}
}
