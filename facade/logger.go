package facade

import (
	"gopkg.in/Clever/kayvee-go.v6/logger"
)

// InternalLogger is the external collaborator (§6) the core's own
// diagnostics are written through: formatter failures, facade retries,
// sequence-token recovery, and uncaught writer-thread errors all flow
// through here rather than to a framework-specific logger the core has
// no business depending on.
type InternalLogger interface {
	Debug(msg string)
	Warn(msg string)
	Error(msg string, cause error)
}

// KayveeLogger is the default InternalLogger, backed by the same
// structured logger the teacher repo uses for its own diagnostics
// (gopkg.in/Clever/kayvee-go.v6/logger), mapping debug/warn/error onto
// TraceD/WarnD/ErrorD with a package field so multiple writers sharing a
// process can be told apart in log search.
type KayveeLogger struct {
	log     *logger.Logger
	package_ string
}

// NewKayveeLogger constructs a KayveeLogger tagging every line with
// component (e.g. "log-writer-core/writer") as its source.
func NewKayveeLogger(component string) *KayveeLogger {
	return &KayveeLogger{log: logger.New(component), package_: component}
}

func (k *KayveeLogger) Debug(msg string) {
	k.log.TraceD("log-writer-debug", logger.M{"package": k.package_, "message": msg})
}

func (k *KayveeLogger) Warn(msg string) {
	k.log.WarnD("log-writer-warn", logger.M{"package": k.package_, "message": msg})
}

func (k *KayveeLogger) Error(msg string, cause error) {
	fields := logger.M{"package": k.package_, "message": msg}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	k.log.ErrorD("log-writer-error", fields)
}

// NoopLogger discards everything. Useful in tests and as a safe zero
// value when a host hasn't wired a logger yet.
type NoopLogger struct{}

func (NoopLogger) Debug(string)             {}
func (NoopLogger) Warn(string)              {}
func (NoopLogger) Error(string, error)      {}
