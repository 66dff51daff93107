package observability

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process-wide logger with the node id bound to
// every line, so log output from any node in the cluster is attributable.
func InitLogger(nodeID int) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Int("node", nodeID).Logger()
	log.Logger = logger
	return logger
}

// NodeLabel is the metrics label form of a node id.
func NodeLabel(nodeID int) string {
	return strconv.Itoa(nodeID)
}
