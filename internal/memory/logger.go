package memory

import "sync"

// Logger is the minimal logging surface memory components need. The
// engine's debug logger satisfies it.
type Logger interface {
	Log(format string, args ...interface{})
}

var pkgLogger Logger
var pkgLoggerMu sync.RWMutex

// SetLogger sets the package-level logger used for background work
// (retention purges, cache sweeps) that has no caller to report to.
func SetLogger(l Logger) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	pkgLogger = l
}

// debugLog writes a message using the package-level logger.
func debugLog(format string, args ...interface{}) {
	pkgLoggerMu.RLock()
	l := pkgLogger
	pkgLoggerMu.RUnlock()

	if l != nil {
		l.Log(format, args...)
	}
}
