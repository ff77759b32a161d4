package fcgi

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoggerLevel gates which LoggerStd entries are actually written.
type LoggerLevel int

const (
	LevelDebug LoggerLevel = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelFatal
)

func (l LoggerLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger is the structured logging/observer contract threaded through
// Server and ConnectionWorker; InputSide and OutputSide do not log
// themselves, their errors are logged by the ConnectionWorker. Grounded on
// eudore-eudore's root logger.go Logger interface, trimmed to the
// leveled-call-plus-WithField shape without the whole-framework
// handler-chain machinery that has no FastCGI-specific use here.
type Logger interface {
	Debug(args ...any)
	Info(args ...any)
	Warning(args ...any)
	Error(args ...any)
	Fatal(args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)

	// WithField returns a Logger that attaches key=val to every
	// subsequent entry it writes.
	WithField(key string, val any) Logger
}

// LoggerStd is the default Logger implementation: it writes one line
// per entry to an io.Writer, gated by a minimum LoggerLevel.
type LoggerStd struct {
	mu     sync.Mutex
	out    io.Writer
	level  LoggerLevel
	fields []field
}

type field struct {
	key string
	val any
}

// NewLogger creates a LoggerStd writing to w (os.Stderr if w is nil)
// at the given minimum level.
func NewLogger(w io.Writer, level LoggerLevel) *LoggerStd {
	if w == nil {
		w = os.Stderr
	}
	return &LoggerStd{out: w, level: level}
}

func (l *LoggerStd) WithField(key string, val any) Logger {
	fields := make([]field, len(l.fields)+1)
	copy(fields, l.fields)
	fields[len(l.fields)] = field{key, val}
	return &LoggerStd{out: l.out, level: l.level, fields: fields}
}

func (l *LoggerStd) log(level LoggerLevel, msg string) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %-7s %s", time.Now().UTC().Format(time.RFC3339), level, msg)
	for _, f := range l.fields {
		fmt.Fprintf(l.out, " %s=%v", f.key, f.val)
	}
	fmt.Fprintln(l.out)
}

func (l *LoggerStd) Debug(args ...any)   { l.log(LevelDebug, fmt.Sprint(args...)) }
func (l *LoggerStd) Info(args ...any)    { l.log(LevelInfo, fmt.Sprint(args...)) }
func (l *LoggerStd) Warning(args ...any) { l.log(LevelWarning, fmt.Sprint(args...)) }
func (l *LoggerStd) Error(args ...any)   { l.log(LevelError, fmt.Sprint(args...)) }
func (l *LoggerStd) Fatal(args ...any)   { l.log(LevelFatal, fmt.Sprint(args...)) }

func (l *LoggerStd) Debugf(format string, args ...any)   { l.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *LoggerStd) Infof(format string, args ...any)    { l.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *LoggerStd) Warningf(format string, args ...any) { l.log(LevelWarning, fmt.Sprintf(format, args...)) }
func (l *LoggerStd) Errorf(format string, args ...any)   { l.log(LevelError, fmt.Sprintf(format, args...)) }
func (l *LoggerStd) Fatalf(format string, args ...any)   { l.log(LevelFatal, fmt.Sprintf(format, args...)) }

// discardLogger is used when Config.Logger is left nil.
type discardLogger struct{}

func (discardLogger) Debug(args ...any)                   {}
func (discardLogger) Info(args ...any)                    {}
func (discardLogger) Warning(args ...any)                 {}
func (discardLogger) Error(args ...any)                   {}
func (discardLogger) Fatal(args ...any)                   {}
func (discardLogger) Debugf(format string, args ...any)   {}
func (discardLogger) Infof(format string, args ...any)    {}
func (discardLogger) Warningf(format string, args ...any) {}
func (discardLogger) Errorf(format string, args ...any)   {}
func (discardLogger) Fatalf(format string, args ...any)   {}
func (d discardLogger) WithField(string, any) Logger      { return d }

// visitorIdleTimeout and visitorSweepInterval bound how long an unused
// per-key limiter is kept around before cleanupVisitors reclaims it.
const (
	visitorIdleTimeout   = 3 * time.Minute
	visitorSweepInterval = time.Minute
)

// visitor pairs a key's limiter with the last time it was consulted,
// so an idle one can be told apart from an active one.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitedLogger wraps a Logger so that Error/Errorf calls from a
// given remote address are throttled by a per-address token bucket,
// preventing a single flapping or hostile peer from flooding the log.
// Debug/Info/Warning/Fatal pass through unthrottled. Grounded on
// eudore-eudore/middleware/rate/rate.go's per-visitor
// golang.org/x/time/rate limiter map and its cleanupVisitors sweep,
// repointed from per-client-IP HTTP throttling to per-remote-address
// log throttling.
type RateLimitedLogger struct {
	Logger
	mu       sync.Mutex
	visitors map[string]*visitor
	r        rate.Limit
	burst    int
	stop     chan struct{}
}

// NewRateLimitedLogger wraps base so that each distinct key (typically
// a connection's remote address) may emit at most r Error-level
// entries per second, with burst allowed immediately. A background
// goroutine evicts keys that have gone quiet for visitorIdleTimeout,
// so a long-running server does not accumulate one limiter per
// distinct remote address forever; call Close to stop it.
func NewRateLimitedLogger(base Logger, r rate.Limit, burst int) *RateLimitedLogger {
	l := &RateLimitedLogger{
		Logger:   base,
		visitors: make(map[string]*visitor),
		r:        r,
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go l.cleanupVisitors()
	return l
}

func (l *RateLimitedLogger) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.r, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (l *RateLimitedLogger) cleanupVisitors() {
	ticker := time.NewTicker(visitorSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for key, v := range l.visitors {
				if time.Since(v.lastSeen) > visitorIdleTimeout {
					delete(l.visitors, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Close stops the background eviction sweep.
func (l *RateLimitedLogger) Close() {
	close(l.stop)
}

// Allow reports whether an error-level entry attributed to key may be
// emitted right now, consuming one token if so.
func (l *RateLimitedLogger) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

// ForRemote returns a Logger bound to key whose Error/Errorf calls are
// silently dropped once the per-key budget is exhausted.
func (l *RateLimitedLogger) ForRemote(key string) Logger {
	return &remoteLogger{parent: l, key: key, Logger: l.Logger.WithField("remote", key)}
}

type remoteLogger struct {
	Logger
	parent *RateLimitedLogger
	key    string
}

func (r *remoteLogger) Error(args ...any) {
	if r.parent.Allow(r.key) {
		r.Logger.Error(args...)
	}
}

func (r *remoteLogger) Errorf(format string, args ...any) {
	if r.parent.Allow(r.key) {
		r.Logger.Errorf(format, args...)
	}
}

func (r *remoteLogger) WithField(key string, val any) Logger {
	return &remoteLogger{parent: r.parent, key: r.key, Logger: r.Logger.WithField(key, val)}
}
