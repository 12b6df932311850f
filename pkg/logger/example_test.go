package logger_test

import (
	"fmt"
	"os"

	"github.com/guacrelay/rdpdvc/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	// Create logger with default config
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Basic logging
	log.Info("session established", "channel", "RDCamera_Device_Enumerator")
	log.Warn("deprecated property requested", "property_id", 4)
	log.Error("failed to write DVC message", "error", "connection reset")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugRDPECAM)
	cfg.EnableCategory(logger.DebugCLIPRDR)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Generic category logging
	log.DebugRDPECAM("sample response sent", "stream_index", 0, "credits_remaining", 0)
	log.DebugCLIPRDR("format requested", "format", "UTF-16")
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/guacrelay/rdpdvc/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("rdpdvcd", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/rdpdvcd/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json") // Cleanup

	log.Info("device added",
		"channel", "RDCamera_Device_0",
		"browser_device_id", "cam1")

	// Output will be in JSON format:
	// {"time":"...","level":"INFO","msg":"device added","channel":"RDCamera_Device_0","browser_device_id":"cam1"}
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugRDPECAM)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// This will only execute if DebugRDPECAM is enabled and GUAC_RDPECAM_HEXDUMP is set
	payload := make([]byte, 1024)
	log.DebugDVCPayload(logger.DebugRDPECAM, "RDCamera_Device_0", payload)

	// Category methods automatically check if enabled
	// No manual check needed - zero cost if disabled
	log.DebugRDPECAM("sample request received", "stream_index", 0)
}
