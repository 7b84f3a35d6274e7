package logger

import "github.com/coreos/go-systemd/v22/journal"

// JournalSink routes log lines to the systemd journal, used when the
// daemon is started with --journal.
type JournalSink struct{}

// NewJournalSink creates a Sink backed by go-systemd's journal.Send.
// Write discards the error journal.Send returns: journald failures are
// not considered fatal to the daemon, matching the "logging is external,
// interfaces only" scoping of the core.
func NewJournalSink() *JournalSink {
	return &JournalSink{}
}

func (j *JournalSink) Write(level Level, line string) {
	_ = journal.Send(line, toPriority(level), nil)
}

func toPriority(level Level) journal.Priority {
	switch level {
	case LevelError:
		return journal.PriErr
	case LevelWarn:
		return journal.PriWarning
	case LevelInfo:
		return journal.PriInfo
	case LevelDebug:
		return journal.PriDebug
	default:
		return journal.PriNotice
	}
}

// Enabled reports whether the journal is reachable, used at startup to
// decide whether --journal can be honored or whether to fall back to
// stderr.
func Enabled() bool {
	return journal.Enabled()
}
