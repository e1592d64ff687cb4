package core

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// init initializes the logging configuration for the library based on the DEBUG_HANN environment variable.
func init() {
	zerolog.SetGlobalLevel(ParseLogLevel(os.Getenv("DEBUG_HANN")))
}

// ParseLogLevel maps a DEBUG_HANN style value to a zerolog level.
// "off" and "0" disable logging, "full" enables debug logging and anything else selects info.
func ParseLogLevel(value string) zerolog.Level {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "off", "0":
		return zerolog.Disabled
	case "full":
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
