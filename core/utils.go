package core

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// GetSeed receives a seed value for random number generation from the HANN_SEED environment variable.
func GetSeed() int64 {
	seedStr := os.Getenv("HANN_SEED")
	if seedStr != "" {
		if seed, err := strconv.ParseInt(seedStr, 10, 64); err == nil {
			log.Debug().Msgf("Using seed from HANN_SEED value: %d", seed)
			return seed
		}
		log.Warn().Msgf("Failed to parse HANN_SEED value: %s", seedStr)
	}

	seed := time.Now().UnixNano()
	log.Debug().Msgf("Using current time as seed: %d", seed)
	return seed
}

// EnvEnabled reports whether the named environment variable holds a truthy value.
func EnvEnabled(name string) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// NewProgressBar returns a progress bar for a build phase of total steps.
// The bar renders to stderr only when HANN_PROGRESS is enabled.
func NewProgressBar(total int, description string) *progressbar.ProgressBar {
	var out io.Writer = io.Discard
	if EnvEnabled("HANN_PROGRESS") {
		out = os.Stderr
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(out, "\n") }),
	)
}
