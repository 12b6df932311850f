package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory represents specific debug categories for targeted debugging
type DebugCategory string

const (
	DebugRDPECAM    DebugCategory = "rdpecam"
	DebugCLIPRDR    DebugCategory = "cliprdr"
	DebugAudioInput DebugCategory = "audio-input"
	DebugReconcile  DebugCategory = "reconcile"
	DebugAll        DebugCategory = "all"
)

// Config holds logger configuration
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// OutputFormat determines the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Global logger instance
var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger wraps slog.Logger with category-based debugging
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// NewConfig creates a new logger configuration with defaults
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		OutputFile:        "",
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new Logger instance with the given configuration
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	// Setup output file if specified
	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	// Create handler based on format
	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{
		Level: cfg.Level.ToSlogLevel(),
	}

	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOpts)
	case FormatText:
		handler = slog.NewTextHandler(writer, handlerOpts)
	default:
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	logger := &Logger{
		Logger: slog.New(handler),
		config: cfg,
		file:   file,
	}

	return logger, nil
}

// EnableCategory enables a specific debug category
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		// Enable all categories
		c.EnabledCategories[DebugRDPECAM] = true
		c.EnabledCategories[DebugCLIPRDR] = true
		c.EnabledCategories[DebugAudioInput] = true
		c.EnabledCategories[DebugReconcile] = true
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Close closes the log file if one was opened
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Category-specific logging methods

// DebugRDPECAM logs camera-plane details if RDPECAM debugging is enabled
func (l *Logger) DebugRDPECAM(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugRDPECAM) {
		args = append([]any{"category", "rdpecam"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugCLIPRDR logs clipboard-plane details if CLIPRDR debugging is enabled
func (l *Logger) DebugCLIPRDR(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugCLIPRDR) {
		args = append([]any{"category", "cliprdr"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugAudioInput logs audio-input-plane details if audio-input debugging is enabled
func (l *Logger) DebugAudioInput(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugAudioInput) {
		args = append([]any{"category", "audio-input"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugReconcile logs device-list reconciliation details if reconcile debugging is enabled
func (l *Logger) DebugReconcile(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugReconcile) {
		args = append([]any{"category", "reconcile"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugDVCPayload hex-dumps a DVC payload (any plane) when its category is
// enabled and GUAC_RDPECAM_HEXDUMP is on. 16-byte rows, space-separated hex,
// ASCII gutter, truncated at 256 bytes with a header line noting truncation.
func (l *Logger) DebugDVCPayload(category DebugCategory, channelName string, payload []byte) {
	if !l.config.IsCategoryEnabled(category) || !HexdumpEnabled() {
		return
	}
	l.Debug("DVC payload",
		"category", string(category),
		"channel", channelName,
		"total_size", len(payload),
		"hexdump", "\n"+Hexdump(payload))
}

// HexdumpEnabled reports whether GUAC_RDPECAM_HEXDUMP requests payload dumps.
func HexdumpEnabled() bool {
	switch strings.ToLower(os.Getenv("GUAC_RDPECAM_HEXDUMP")) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Hexdump renders payload as 16-byte rows of space-separated hex with an
// ASCII gutter, truncated at 256 bytes with a header noting the truncation.
func Hexdump(payload []byte) string {
	const maxBytes = 256
	const rowWidth = 16

	data := payload
	truncated := false
	if len(data) > maxBytes {
		data = data[:maxBytes]
		truncated = true
	}

	var sb strings.Builder
	if truncated {
		fmt.Fprintf(&sb, "(truncated to %d of %d bytes)\n", maxBytes, len(payload))
	}

	for offset := 0; offset < len(data); offset += rowWidth {
		end := offset + rowWidth
		if end > len(data) {
			end = len(data)
		}
		row := data[offset:end]

		fmt.Fprintf(&sb, "%08x  ", offset)
		for i := 0; i < rowWidth; i++ {
			if i < len(row) {
				fmt.Fprintf(&sb, "%02x ", row[i])
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" |")
		for _, b := range row {
			if b >= 0x20 && b < 0x7f {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

// WithContext returns a copy of the logger; ctx is not used.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.Logger,
		config: l.config,
		file:   l.file,
	}
}

// With returns a new Logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// SetDefault sets the global default logger
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the default logger, creating one if necessary
func Default() *Logger {
	once.Do(func() {
		cfg := NewConfig()
		logger, err := New(cfg)
		if err != nil {
			// Fallback to basic logger
			logger = &Logger{
				Logger: slog.Default(),
				config: cfg,
			}
		}
		defaultLogger = logger
	})
	return defaultLogger
}

// Package-level convenience functions

// Debug logs at Debug level using the default logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at Info level using the default logger
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at Warn level using the default logger
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at Error level using the default logger
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
