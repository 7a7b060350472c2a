package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelError
	LogLevelAttack
)

type Logger struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	logger *log.Logger
	level  LogLevel
}

var defaultLogger *Logger

// Init sets up the shared logger writing to stdout and a size-rotated file
// under logDir.
func Init(logDir, logLevel string, debug bool) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "hollowport.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}

	multiWriter := io.MultiWriter(writer, os.Stdout)

	defaultLogger = &Logger{
		writer: writer,
		logger: log.New(multiWriter, "", log.LstdFlags),
		level:  parseLogLevel(logLevel, debug),
	}

	// Redirect Go's standard log package to the same destination
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags)

	return nil
}

func parseLogLevel(level string, debug bool) LogLevel {
	if debug {
		return LogLevelDebug
	}

	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l *Logger) writeLog(level LogLevel, levelStr, msg string) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("[%s] %s", levelStr, msg)
}

func Info(msg string, args ...interface{}) {
	text := fmt.Sprintf(msg, args...)
	if defaultLogger != nil {
		defaultLogger.writeLog(LogLevelInfo, "INFO", text)
	} else {
		fmt.Printf("[INFO] %s\n", text)
	}
}

func Error(msg string, args ...interface{}) {
	text := fmt.Sprintf(msg, args...)
	if defaultLogger != nil {
		defaultLogger.writeLog(LogLevelError, "ERROR", text)
	} else {
		fmt.Printf("[ERROR] %s\n", text)
	}
}

func Debug(msg string, args ...interface{}) {
	text := fmt.Sprintf(msg, args...)
	if defaultLogger != nil {
		defaultLogger.writeLog(LogLevelDebug, "DEBUG", text)
	} else {
		fmt.Printf("[DEBUG] %s\n", text)
	}
}

// Attack logs one captured attacker interaction in a grep-friendly line.
func Attack(honeypotID, sourceIP, eventType string, level int) {
	text := fmt.Sprintf("ATTACK | honeypot: %s | IP: %s | %s | level: %d", honeypotID, sourceIP, eventType, level)
	if defaultLogger != nil {
		defaultLogger.writeLog(LogLevelAttack, "ATTACK", text)
	} else {
		fmt.Printf("[ATTACK] %s\n", text)
	}
}

func Close() {
	if defaultLogger != nil && defaultLogger.writer != nil {
		defaultLogger.writer.Close()
	}
}
