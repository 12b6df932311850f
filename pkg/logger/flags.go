package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel        string
	LogFormat       string
	LogFile         string
	DebugRDPECAM    bool
	DebugCLIPRDR    bool
	DebugAudioInput bool
	DebugReconcile  bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	// Debug category flags
	fs.BoolVar(&f.DebugRDPECAM, "debug-rdpecam", false,
		"Enable camera-plane debugging (state transitions, credits, reassembly)")
	fs.BoolVar(&f.DebugCLIPRDR, "debug-cliprdr", false,
		"Enable clipboard-plane debugging (format negotiation, transcoding)")
	fs.BoolVar(&f.DebugAudioInput, "debug-audio-input", false,
		"Enable audio-input-plane debugging (resampling, packetization)")
	fs.BoolVar(&f.DebugReconcile, "debug-reconcile", false,
		"Enable device-list reconciliation debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	// Parse log level
	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	// Parse format
	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	// Set output file
	cfg.OutputFile = f.LogFile

	// Enable debug categories
	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		// Force debug level when any debug category is enabled
		cfg.Level = LevelDebug
	} else {
		if f.DebugRDPECAM {
			cfg.EnableCategory(DebugRDPECAM)
			cfg.Level = LevelDebug
		}
		if f.DebugCLIPRDR {
			cfg.EnableCategory(DebugCLIPRDR)
			cfg.Level = LevelDebug
		}
		if f.DebugAudioInput {
			cfg.EnableCategory(DebugAudioInput)
			cfg.Level = LevelDebug
		}
		if f.DebugReconcile {
			cfg.EnableCategory(DebugReconcile)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./rdpdvcd

  Enable DEBUG level:
    ./rdpdvcd --log-level debug
    ./rdpdvcd -l debug

  Log to file:
    ./rdpdvcd --log-file rdpdvcd.log
    ./rdpdvcd -o rdpdvcd.log

  JSON format for structured logging:
    ./rdpdvcd --log-format json -o rdpdvcd.json

  Debug the camera plane only:
    ./rdpdvcd --debug-rdpecam

  Debug multiple categories:
    ./rdpdvcd --debug-rdpecam --debug-cliprdr

  Debug everything, plus raw DVC payload hexdumps:
    GUAC_RDPECAM_HEXDUMP=1 ./rdpdvcd --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./rdpdvcd -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugRDPECAM {
			debugCategories = append(debugCategories, "rdpecam")
		}
		if f.DebugCLIPRDR {
			debugCategories = append(debugCategories, "cliprdr")
		}
		if f.DebugAudioInput {
			debugCategories = append(debugCategories, "audio-input")
		}
		if f.DebugReconcile {
			debugCategories = append(debugCategories, "reconcile")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
