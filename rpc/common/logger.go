package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"log"
	"os"
	"strings"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragenboats logger.ILogger)
// --------------------------------------------------------------------------

// gstoreLogger implements the ILogger interface with custom formatting
type gstoreLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *gstoreLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *gstoreLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *gstoreLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *gstoreLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *gstoreLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *gstoreLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *gstoreLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements the Factory interface - note the error return value
func CreateLogger(pkgName string) logger.ILogger {
	// Create standard logger with custom flags
	stdLogger := log.New(os.Stdout, "", log.Ldate|log.Ltime)

	return &gstoreLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseLogLevel converts a string level to logger.LogLevel
// It panics on an unknown level, use ValidLogLevel to check user input first
func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		panic(fmt.Sprintf("invalid log level: %s. must be one of debug, info, warn, error", level))
	}
}

// ValidLogLevel reports whether level is one of debug, info, warn, error
func ValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warning", "warn", "error":
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers initializes all loggers with the custom format
func InitLoggers(config ServerConfig) {
	// Set as the global logger factory for Dragonboat
	logger.SetLoggerFactory(CreateLogger)

	// Configure Dragonboat loggers
	logger.GetLogger("raft").SetLevel(parseLogLevel(config.LogLevel))
	logger.GetLogger("raftdb").SetLevel(parseLogLevel(config.LogLevel))
	logger.GetLogger("rsm").SetLevel(parseLogLevel(config.LogLevel))
	logger.GetLogger("transport").SetLevel(parseLogLevel(config.LogLevel))
	logger.GetLogger("dragonboat").SetLevel(parseLogLevel(config.LogLevel))
	logger.GetLogger("grpc").SetLevel(parseLogLevel(config.LogLevel))
	logger.GetLogger("util").SetLevel(parseLogLevel(config.LogLevel))
	logger.GetLogger("logdb").SetLevel(parseLogLevel(config.LogLevel))

	// Configure gstore loggers
	for _, name := range Loggers {
		logger.GetLogger(name).SetLevel(parseLogLevel(config.LogLevel))
	}
}

// Loggers are the names of the loggers used by gstore
var Loggers = []string{"backend", "replication", "snowflake", "rpc", "transport/rpc"}
