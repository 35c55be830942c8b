package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/PhiFever/devanagari-ocr-server/pkg/utils"
)

// Level 表示日志级别
type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	CRITICAL
)

var levelNames = map[Level]string{
	DEBUG:    "DEBUG",
	INFO:     "INFO",
	WARNING:  "WARNING",
	ERROR:    "ERROR",
	CRITICAL: "CRITICAL",
}

// String 返回级别名称
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel 将配置中的字符串转换为日志级别
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARNING, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL", "FATAL":
		return CRITICAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// slogLevel 将级别映射到 slog，CRITICAL 高于 slog.LevelError
func (l Level) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARNING:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	case CRITICAL:
		return slog.LevelError + 4
	}
	return slog.LevelInfo
}

// Format 是日志输出格式
type Format string

const (
	// FormatText 输出 "时间 [级别] 消息" 形式的行
	FormatText Format = "text"
	// FormatJSON 每条日志输出一个 JSON 对象，便于容器日志采集
	FormatJSON Format = "json"
)

// ParseFormat 解析配置中的格式名，空串视为 text
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format %q", s)
}

// Logger 是主日志记录器结构
type Logger struct {
	level   Level
	format  Format
	out     io.Writer
	json    *slog.Logger
	closers []io.Closer
	mu      sync.Mutex
}

func newLogger(level Level, format Format, writers []io.Writer, closers []io.Closer) *Logger {
	out := io.MultiWriter(writers...)
	l := &Logger{level: level, format: format, out: out, closers: closers}
	if format == FormatJSON {
		l.json = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey {
					a.Value = slog.StringValue(levelFromSlog(a.Value.Any().(slog.Level)).String())
				}
				return a
			},
		}))
	}
	return l
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l > slog.LevelError:
		return CRITICAL
	case l >= slog.LevelError:
		return ERROR
	case l >= slog.LevelWarn:
		return WARNING
	case l >= slog.LevelInfo:
		return INFO
	}
	return DEBUG
}

var (
	globalLogger *Logger
	loggerMu     sync.Mutex
)

// Setup 使用指定的级别初始化全局日志记录器，同时写入 stdout 和按日期命名的日志文件
func Setup(level Level, format Format) (*Logger, error) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if globalLogger != nil {
		return globalLogger, nil
	}

	// 创建日志目录
	logDir, err := utils.GetAppDataPath("logs")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	// 创建日志文件
	date := time.Now().Format("2006-01-02")
	file, err := os.OpenFile(filepath.Join(logDir, date+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	globalLogger = newLogger(level, format, []io.Writer{os.Stdout, file}, []io.Closer{file})
	return globalLogger, nil
}

// SetupWithWriters 使用给定的 writer 替换全局日志记录器，不创建日志文件
func SetupWithWriters(level Level, format Format, writers ...io.Writer) *Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}
	if globalLogger != nil {
		globalLogger.close()
	}
	globalLogger = newLogger(level, format, writers, nil)
	return globalLogger
}

// SetLevel 修改全局日志级别
func SetLevel(level Level) {
	l := GetLogger()
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// GetLogger 返回全局日志记录器，未初始化时输出到 stdout
func GetLogger() *Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if globalLogger == nil {
		globalLogger = newLogger(INFO, FormatText, []io.Writer{os.Stdout}, nil)
	}
	return globalLogger
}

// Close 关闭日志文件
func Close() {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if globalLogger != nil {
		globalLogger.close()
		globalLogger = nil
	}
}

func (l *Logger) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.closers {
		c.Close()
	}
	l.closers = nil
}

// Enabled 报告指定级别是否会被输出
func (l *Logger) Enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

// log 使用指定的级别写入日志消息，ERROR 以上可附带堆栈
func (l *Logger) log(level Level, msg string, includeTrace bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	trace := ""
	if includeTrace && level >= ERROR {
		trace = getStackTrace()
	}

	if l.json != nil {
		attrs := []slog.Attr{}
		if trace != "" {
			attrs = append(attrs, slog.String("stack", trace))
		}
		l.json.LogAttrs(context.Background(), level.slogLevel(), msg, attrs...)
		return
	}

	prefix := time.Now().Format("2006-01-02 15:04:05") + " [" + level.String() + "] "
	var sb strings.Builder
	sb.WriteString(prefix + msg + "\n")
	if trace != "" {
		sb.WriteString(prefix + trace + "\n")
	}
	io.WriteString(l.out, sb.String())
}

func logf(level Level, trace bool, format string, args []interface{}) {
	GetLogger().log(level, fmt.Sprintf(format, args...), trace)
}

// Debug 记录调试消息
func Debug(msg string) { GetLogger().log(DEBUG, msg, false) }

// Debugf 记录格式化的调试消息
func Debugf(format string, args ...interface{}) { logf(DEBUG, false, format, args) }

// Info 记录信息消息
func Info(msg string) { GetLogger().log(INFO, msg, false) }

// Infof 记录格式化的信息消息
func Infof(format string, args ...interface{}) { logf(INFO, false, format, args) }

// Warningf 记录格式化的警告消息
func Warningf(format string, args ...interface{}) { logf(WARNING, false, format, args) }

// Errorf 记录格式化的带有堆栈跟踪的错误消息
func Errorf(format string, args ...interface{}) { logf(ERROR, true, format, args) }

// ErrorNoTrace 记录不带堆栈跟踪的错误消息
func ErrorNoTrace(msg string) { GetLogger().log(ERROR, msg, false) }

// ErrorNoTracef 记录格式化的不带堆栈跟踪的错误消息。
// 用于可预期的失败（上游超时、用户上传了坏图），避免日志被堆栈淹没。
func ErrorNoTracef(format string, args ...interface{}) { logf(ERROR, false, format, args) }

// Criticalf 记录格式化的带有堆栈跟踪的严重消息
func Criticalf(format string, args ...interface{}) { logf(CRITICAL, true, format, args) }

// getStackTrace 返回当前的堆栈跟踪
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
