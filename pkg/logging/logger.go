package logging

// Logger is a subsystem-scoped handle onto the package-level colorized
// print functions, so core components (router, tsm, bip, bbmd, sc) can
// take an optional dependency instead of calling the global functions
// directly. A nil *Logger is safe to call every method on and simply
// discards the message, mirroring the nil-safety idiom used by
// bacerr.Injector.
type Logger struct {
	Subsystem string
	Debug     *DebugConfig
}

// New returns a Logger tagged with subsystem, using cfg for per-
// subsystem debug-level gating (nil means always log at the base
// level).
func New(subsystem string, cfg *DebugConfig) *Logger {
	return &Logger{Subsystem: subsystem, Debug: cfg}
}

// Protocol logs a normal-priority message tagged with the subsystem.
func (l *Logger) Protocol(format string, args ...interface{}) {
	if l == nil {
		return
	}
	Protocol(l.Subsystem, format, args...)
}

// Debugf logs a message only if the subsystem's configured debug level
// is at least minLevel.
func (l *Logger) Debugf(minLevel int, format string, args ...interface{}) {
	if l == nil {
		return
	}
	level := 0
	if l.Debug != nil {
		level = l.Debug.GetProtocolLevel(l.Subsystem)
	}
	ProtocolDebug(l.Subsystem, level, minLevel, format, args...)
}

// Error logs an error tagged with the subsystem.
func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil {
		return
	}
	Error("[%s] "+format, append([]interface{}{l.Subsystem}, args...)...)
}

// Warning logs a warning tagged with the subsystem.
func (l *Logger) Warning(format string, args ...interface{}) {
	if l == nil {
		return
	}
	Warning("[%s] "+format, append([]interface{}{l.Subsystem}, args...)...)
}
