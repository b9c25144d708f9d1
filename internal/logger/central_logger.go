package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "time/tzdata"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultAttrCapacity = 8

	// traceLevelValue is slog.Level for TRACE level (below Debug which is -4)
	traceLevelValue = slog.Level(-8)

	// floatPrecisionRatio rounds floats to 3 decimal places in log output
	floatPrecisionRatio = 1000.0
)

var (
	globalLogger   *CentralLogger
	globalLoggerMu sync.Mutex
)

// SetGlobal sets the global CentralLogger instance.
func SetGlobal(cl *CentralLogger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = cl
}

// Global returns the global CentralLogger instance, creating a console-only
// fallback if SetGlobal has not been called.
func Global() *CentralLogger {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()

	if globalLogger != nil {
		return globalLogger
	}

	globalLogger = &CentralLogger{
		config: &LoggingConfig{
			DefaultLevel: DefaultLogLevel,
			Timezone:     "Local",
			Console:      &ConsoleOutput{Enabled: true, Level: DefaultLogLevel},
		},
		timezone:     time.Local,
		moduleLevels: make(map[string]slog.Level),
		baseHandler:  newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
	}

	return globalLogger
}

type loggerContextKey struct{ name string }

// TraceIDKey is the context key for trace IDs. Use WithTraceID() to set values.
var TraceIDKey = loggerContextKey{"trace_id"}

// WithTraceID returns a new context with the trace ID set
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

var attrPool = sync.Pool{
	New: func() any {
		s := make([]slog.Attr, 0, defaultAttrCapacity)
		return &s
	},
}

func getAttrs() *[]slog.Attr {
	ptr, ok := attrPool.Get().(*[]slog.Attr)
	if !ok {
		s := make([]slog.Attr, 0, defaultAttrCapacity)
		return &s
	}
	return ptr
}

func putAttrs(attrs *[]slog.Attr) {
	*attrs = (*attrs)[:0]
	attrPool.Put(attrs)
}

// CentralLogger manages module-aware logging with console and rotated file output
type CentralLogger struct {
	config       *LoggingConfig
	timezone     *time.Location
	baseHandler  slog.Handler
	fileWriter   *lumberjack.Logger
	moduleLevels map[string]slog.Level
	mu           sync.RWMutex
}

// NewCentralLogger creates a centralized logger
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}

	applyConfigDefaults(cfg)

	var tz *time.Location
	switch cfg.Timezone {
	case "", "Local":
		tz = time.Local
	default:
		var err error
		tz, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
	}

	cl := &CentralLogger{
		config:       cfg,
		timezone:     tz,
		moduleLevels: make(map[string]slog.Level),
	}

	for module, levelStr := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLogLevel(levelStr)
	}

	if err := cl.createBaseHandler(os.Stdout); err != nil {
		return nil, fmt.Errorf("failed to create base handler: %w", err)
	}

	return cl, nil
}

// NewWriterLogger creates a CentralLogger that writes text output to w.
// Used by tests and the simulator to capture logs.
func NewWriterLogger(w io.Writer, level LogLevel) *CentralLogger {
	lvl := parseLogLevel(string(level))
	return &CentralLogger{
		config: &LoggingConfig{
			DefaultLevel: string(level),
			Console:      &ConsoleOutput{Enabled: true, Level: string(level)},
			FileOutput:   &FileOutput{},
		},
		timezone:     time.UTC,
		moduleLevels: make(map[string]slog.Level),
		baseHandler:  newTextHandler(w, lvl, time.UTC),
	}
}

// NewDiscardLogger returns a logger that drops everything.
func NewDiscardLogger() Logger {
	return &moduleLogger{
		logger: slog.New(discardHandler{}),
		level:  slog.LevelError + 1,
	}
}

func (cl *CentralLogger) createBaseHandler(console io.Writer) error {
	var handlers []slog.Handler

	if cl.config.Console != nil && cl.config.Console.Enabled {
		handlers = append(handlers, newTextHandler(console, parseLogLevel(cl.config.Console.Level), cl.timezone))
	}

	if fo := cl.config.FileOutput; fo != nil && fo.Enabled {
		if err := ensureFileDirectory(fo.Path); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		cl.fileWriter = &lumberjack.Logger{
			Filename:   fo.Path,
			MaxSize:    fo.MaxSize,
			MaxAge:     fo.MaxAge,
			MaxBackups: fo.MaxRotatedFiles,
			Compress:   fo.Compress,
			LocalTime:  cl.timezone != time.UTC,
		}

		handlers = append(handlers, slog.NewJSONHandler(cl.fileWriter, &slog.HandlerOptions{
			Level: parseLogLevel(fo.Level),
		}))
	}

	switch len(handlers) {
	case 0:
		cl.baseHandler = newTextHandler(console, parseLogLevel(cl.config.DefaultLevel), cl.timezone)
	case 1:
		cl.baseHandler = handlers[0]
	default:
		cl.baseHandler = newMultiWriterHandler(handlers...)
	}

	return nil
}

// Module returns a logger scoped to a specific module
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	return &moduleLogger{
		module:   name,
		logger:   slog.New(cl.baseHandler),
		level:    cl.getModuleLevelLocked(name),
		timezone: cl.timezone,
	}
}

// SetModuleLevel changes the level for loggers created after the call.
func (cl *CentralLogger) SetModuleLevel(module string, level LogLevel) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.moduleLevels[module] = parseLogLevel(string(level))
}

func (cl *CentralLogger) getModuleLevelLocked(module string) slog.Level {
	if level, ok := cl.moduleLevels[module]; ok {
		return level
	}
	return parseLogLevel(cl.config.DefaultLevel)
}

// Flush is a no-op for the console; lumberjack writes through.
func (cl *CentralLogger) Flush() error {
	return nil
}

// Close closes the rotated log file
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	var errs []error
	if cl.fileWriter != nil {
		if err := cl.fileWriter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
		}
		cl.fileWriter = nil
	}
	return errors.Join(errs...)
}

func ensureFileDirectory(filePath string) error {
	if filePath == "" {
		return nil
	}

	dir := filepath.Dir(filePath)
	if dir == "." || dir == filePath {
		return nil
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return nil
}

// parseLogLevel converts string level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "trace":
		return traceLevelValue
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// moduleLogger implements Logger interface for a specific module
type moduleLogger struct {
	module   string
	logger   *slog.Logger
	level    slog.Level
	timezone *time.Location
	fields   []Field
}

// Module creates a sub-module logger with its own copy of fields.
func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}

	module := name
	if m.module != "" {
		module = m.module + "." + name
	}

	return &moduleLogger{
		module:   module,
		logger:   m.logger,
		level:    m.level,
		timezone: m.timezone,
		fields:   slices.Clone(m.fields),
	}
}

func (m *moduleLogger) Trace(msg string, fields ...Field) {
	if m == nil || m.level > traceLevelValue {
		return
	}
	m.log(traceLevelValue, msg, fields...)
}

func (m *moduleLogger) Debug(msg string, fields ...Field) {
	if m == nil || m.level > slog.LevelDebug {
		return
	}
	m.log(slog.LevelDebug, msg, fields...)
}

func (m *moduleLogger) Info(msg string, fields ...Field) {
	if m == nil || m.level > slog.LevelInfo {
		return
	}
	m.log(slog.LevelInfo, msg, fields...)
}

func (m *moduleLogger) Warn(msg string, fields ...Field) {
	if m == nil || m.level > slog.LevelWarn {
		return
	}
	m.log(slog.LevelWarn, msg, fields...)
}

func (m *moduleLogger) Error(msg string, fields ...Field) {
	if m == nil || m.level > slog.LevelError {
		return
	}
	m.log(slog.LevelError, msg, fields...)
}

// Log logs a message with explicit level
func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	if m == nil {
		return
	}
	lvl := parseLogLevel(string(level))
	if m.level > lvl {
		return
	}
	m.log(lvl, msg, fields...)
}

// With returns a new logger with accumulated fields
func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}

	return &moduleLogger{
		module:   m.module,
		logger:   m.logger,
		level:    m.level,
		timezone: m.timezone,
		fields:   slices.Concat(m.fields, fields),
	}
}

// WithContext returns a logger carrying the context's trace ID, if any
func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if m == nil {
		return nil
	}

	traceID := getTraceIDFromContext(ctx)
	if traceID == "" {
		return m
	}

	return m.With(String(traceIDKey, traceID))
}

func (m *moduleLogger) Flush() error {
	return nil
}

func (m *moduleLogger) log(level slog.Level, msg string, fields ...Field) {
	attrsPtr := getAttrs()
	attrs := *attrsPtr

	if m.module != "" {
		attrs = append(attrs, slog.String(moduleKey, m.module))
	}
	for i := range m.fields {
		attrs = append(attrs, fieldToAttr(m.fields[i]))
	}
	for i := range fields {
		attrs = append(attrs, fieldToAttr(fields[i]))
	}

	m.logger.LogAttrs(context.Background(), level, msg, attrs...)

	*attrsPtr = attrs
	putAttrs(attrsPtr)
}

func roundFloat(val float64) float64 {
	return math.Round(val*floatPrecisionRatio) / floatPrecisionRatio
}

// fieldToAttr converts Field to slog.Attr
func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float32:
		return slog.Float64(f.Key, roundFloat(float64(v)))
	case float64:
		return slog.Float64(f.Key, roundFloat(v))
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		// slog.Duration renders nanoseconds in JSON
		return slog.String(f.Key, v.Round(time.Microsecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

func getTraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
