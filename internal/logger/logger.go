package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"

	"liveview/internal/config"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// ParseLevel maps a level name to a Level; unknown names map to LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Log file names, one per level. Debug entries go to the info file.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (debug/info/warning/error) to rotated files and stdout/stderr.
type Logger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	sinks      map[string]*lumberjack.Logger
	level      Level
	logDir     string
	mu         sync.Mutex
}

// NewLogger creates a Logger writing to cfg.LogDirectory and the standard streams.
func NewLogger(cfg *config.Config) (*Logger, error) {
	return New(cfg.LogDirectory, ParseLevel(cfg.LogLevel), os.Stdout, os.Stderr)
}

// New creates a Logger writing per-level files under logDir, mirrored to out (debug, info,
// warning) and errOut (error). Either stream may be nil.
func New(logDir string, level Level, out, errOut io.Writer) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create log directory %s", logDir)
	}

	l := &Logger{
		logDir: logDir,
		level:  level,
		sinks:  make(map[string]*lumberjack.Logger),
	}
	l.setupLoggers(out, errOut)
	return l, nil
}

// setupLoggers initializes rotated file sinks and per-level loggers.
func (l *Logger) setupLoggers(out, errOut io.Writer) {
	infoSink := l.openSink(InfoFile)
	warningSink := l.openSink(WarningFile)
	errorSink := l.openSink(ErrorFile)

	infoWriter := withStream(infoSink, out)
	warningWriter := withStream(warningSink, out)
	errorWriter := withStream(errorSink, errOut)

	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	l.debugLog = log.New(infoWriter, "DEBUG   ", flags)
	l.infoLog = log.New(infoWriter, "INFO    ", flags)
	l.warningLog = log.New(warningWriter, "WARNING ", flags)
	l.errorLog = log.New(errorWriter, "ERROR   ", flags)
}

func (l *Logger) openSink(name string) *lumberjack.Logger {
	sink := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
	l.sinks[name] = sink
	return sink
}

func withStream(sink io.Writer, stream io.Writer) io.Writer {
	if stream == nil {
		return sink
	}
	return io.MultiWriter(stream, sink)
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.write(LevelDebug, format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.write(LevelInfo, format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.write(LevelWarning, format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.write(LevelError, format, v...)
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	switch level {
	case LevelDebug:
		l.debugLog.Printf(format, v...)
	case LevelInfo:
		l.infoLog.Printf(format, v...)
	case LevelWarning:
		l.warningLog.Printf(format, v...)
	default:
		l.errorLog.Printf(format, v...)
	}
}

// Dir returns the directory holding the log files.
func (l *Logger) Dir() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := filepath.Base(fileName)
	// Closing the sink makes it reopen the file in append mode on the next write.
	if sink, ok := l.sinks[name]; ok {
		_ = sink.Close()
	}

	filePath := filepath.Join(l.logDir, name)
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "truncate %s", fileName)
	}
	return file.Close()
}

// Close releases the file sinks.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	for _, s := range l.sinks {
		err = multierr.Append(err, s.Close())
	}
	return err
}
