package chainflow

import (
	"log"
)

// DebugLoggingEnabled controls whether DebugLog output is emitted.
// Set by the server or CLI entrypoint based on configuration.
var DebugLoggingEnabled = false

// InfoLog logs informational messages with timestamps.
func InfoLog(format string, v ...any) {
	log.Printf(format, v...)
}

// ErrorLog logs error messages with an [ERROR] prefix.
func ErrorLog(format string, v ...any) {
	log.Printf("[ERROR] "+format, v...)
}

// DebugLog logs debug messages when debug logging is enabled.
func DebugLog(format string, v ...any) {
	if DebugLoggingEnabled {
		log.Printf("[DEBUG] "+format, v...)
	}
}
