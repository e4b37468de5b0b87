package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// Logger 内核调试/警告日志
	Logger *logrus.Logger
	// InfoLogger 信息日志
	InfoLogger *logrus.Logger
	// ErrorLogger 错误日志
	ErrorLogger *logrus.Logger

	filesMu   sync.Mutex
	openFiles []*os.File
)

// LogConfig 日志配置
type LogConfig struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
}

const timestampFormat = "15:04:05 MST 2006/01/02"

// CustomFormatter 单行格式: [time] [LEVEL] (file:func:line) msg key=value...
type CustomFormatter struct {
	TimestampFormat string
}

// Format 实现 logrus.Formatter 接口
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = timestampFormat
	}

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [%s] (%s) %s",
		entry.Time.Format(layout),
		level,
		getCaller(),
		entry.Message)

	// 附加字段按key排序输出，保证同一条日志格式稳定
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, entry.Data[k])
		}
	}
	sb.WriteByte('\n')
	return []byte(sb.String()), nil
}

// getCaller 跳过日志框架自身的调用栈，找到实际的调用者
func getCaller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen") ||
			strings.Contains(file, "/logger/logger.go") ||
			strings.Contains(file, "/entry.go") {
			continue
		}
		funcName := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), funcName, line)
	}
	return "unknown:unknown:0"
}

// ParseLogLevel 解析日志级别字符串，无法识别时返回info
func ParseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

func newLogger(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&CustomFormatter{TimestampFormat: timestampFormat})
	l.SetLevel(level)
	l.SetOutput(out)
	return l
}

func init() {
	// InitLogger 之前库代码也可以直接打日志
	Logger = newLogger(os.Stderr, logrus.InfoLevel)
	InfoLogger = newLogger(os.Stderr, logrus.InfoLevel)
	ErrorLogger = newLogger(os.Stderr, logrus.InfoLevel)
}

// InitLogger 按配置重建三个日志实例，日志文件路径为空时只输出到标准流
func InitLogger(config LogConfig) error {
	level := ParseLogLevel(config.LogLevel)
	Close()

	infoOut := io.Writer(os.Stdout)
	if config.InfoLogPath != "" {
		f, err := openLogFile(config.InfoLogPath)
		if err != nil {
			return fmt.Errorf("open info log %s: %w", config.InfoLogPath, err)
		}
		infoOut = io.MultiWriter(os.Stdout, f)
	}

	errOut := io.Writer(os.Stderr)
	if config.ErrorLogPath != "" {
		f, err := openLogFile(config.ErrorLogPath)
		if err != nil {
			return fmt.Errorf("open error log %s: %w", config.ErrorLogPath, err)
		}
		errOut = io.MultiWriter(os.Stderr, f)
	}

	InfoLogger = newLogger(infoOut, level)
	ErrorLogger = newLogger(errOut, level)
	Logger = newLogger(infoOut, level)
	return nil
}

// SetOutput 把所有日志实例重定向到同一个writer，测试中使用
func SetOutput(w io.Writer, level logrus.Level) {
	Logger = newLogger(w, level)
	InfoLogger = newLogger(w, level)
	ErrorLogger = newLogger(w, level)
}

// Close 关闭 InitLogger 打开的日志文件
func Close() {
	filesMu.Lock()
	defer filesMu.Unlock()
	for _, f := range openFiles {
		_ = f.Close()
	}
	openFiles = nil
}

func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	filesMu.Lock()
	openFiles = append(openFiles, f)
	filesMu.Unlock()
	return f, nil
}

// WithFields 返回携带结构化字段的调试日志条目
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Info(args ...interface{}) {
	InfoLogger.Info(args...)
}

func Infof(format string, args ...interface{}) {
	InfoLogger.Infof(format, args...)
}

func Error(args ...interface{}) {
	ErrorLogger.Error(args...)
}

func Errorf(format string, args ...interface{}) {
	ErrorLogger.Errorf(format, args...)
}

// Fatalf 记录错误并退出进程
func Fatalf(format string, args ...interface{}) {
	ErrorLogger.Fatalf(format, args...)
}
