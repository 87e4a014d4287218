package worker

import (
	"log"
	"os"
	"strconv"
)

const debugEnvVar = "SKILLSLING_WORKER_DEBUG"

// debugSink receives worker trace lines; tests may swap it out.
var debugSink func(format string, args ...interface{}) = log.Printf

var workerDebugEnabled = func() bool {
	on, err := strconv.ParseBool(os.Getenv(debugEnvVar))
	return err == nil && on
}()

func debugLog(format string, args ...interface{}) {
	if workerDebugEnabled {
		debugSink(format, args...)
	}
}
