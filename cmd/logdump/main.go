package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/zhukovaskychina/xmysql-kernel/logger"
	"github.com/zhukovaskychina/xmysql-kernel/server/innodb/manager"
)

// logdump 打印日志文件内容，可选地压缩归档或从归档还原
func main() {
	var (
		logPath     string
		archivePath string
		restorePath string
	)
	flag.StringVar(&logPath, "log", filepath.Join("redo", manager.LogFileName), "日志文件路径")
	flag.StringVar(&archivePath, "archive", "", "把日志压缩写入该文件")
	flag.StringVar(&restorePath, "restore", "", "从该归档还原日志到 -log 指定的路径")
	flag.Parse()

	if restorePath != "" {
		if err := restore(restorePath, logPath); err != nil {
			logger.Fatalf("restore %s: %+v", restorePath, err)
		}
		logger.Infof("restored %s to %s", restorePath, logPath)
	}

	lastCheckpoint, recs, err := manager.ReadLogFile(logPath)
	if err != nil {
		// 尾部残缺时仍然打印已解码的记录
		logger.Errorf("read %s: %v", logPath, err)
	}
	if err := manager.PrintRecords(os.Stdout, lastCheckpoint, recs); err != nil {
		logger.Fatalf("print: %v", err)
	}

	if archivePath != "" {
		if err := archive(logPath, archivePath); err != nil {
			logger.Fatalf("archive %s: %+v", logPath, err)
		}
		logger.Infof("archived %s to %s", logPath, archivePath)
	}
}

func archive(logPath, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	if err := manager.ArchiveLogFile(logPath, out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func restore(archivePath, logPath string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(logPath)
	if err != nil {
		return err
	}
	if err := manager.RestoreArchive(in, out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
