// Package logger is the asynchronous, level-filtered, append-only log sink.
// A bounded queue decouples request-path goroutines from file I/O; a single
// writer goroutine drains the queue and rotates the backing file by day or by
// line count, mirroring the reference implementation's log rollover rule.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors the four levels spec.md's configuration surface names.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// maxLinesPerFile matches the reference's 50000-line rollover threshold.
const maxLinesPerFile = 50000

// Logger is a thin façade over zap backed by a bounded async queue. Log
// calls from any goroutine enqueue a formatted line that a single background
// goroutine writes to the file; when the queue is full, or queueing is
// disabled, the calling goroutine writes the line itself under the sink's
// mutex.
type Logger struct {
	zap   *zap.Logger
	atom  zap.AtomicLevel
	sink  *queueSink
}

// Config controls log destination, level, and queue sizing.
type Config struct {
	Dir      string
	Suffix   string // e.g. ".log"
	Level    Level
	Capacity int // queue capacity; <=0 disables async queueing (synchronous writes)
}

// New builds a Logger per Config, creating Dir (mode 0777) if missing.
func New(cfg Config) (*Logger, error) {
	if cfg.Suffix == "" {
		cfg.Suffix = ".log"
	}
	if err := os.MkdirAll(cfg.Dir, 0o777); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}

	sink := newQueueSink(cfg.Dir, cfg.Suffix, cfg.Capacity)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	atom := zap.NewAtomicLevelAt(cfg.Level.zapLevel())
	core := zapcore.NewCore(encoder, sink, atom)
	zl := zap.New(core)

	return &Logger{zap: zl, atom: atom, sink: sink}, nil
}

// SetLevel changes the minimum level accepted going forward by adjusting the
// same zap.AtomicLevel backing the core's filtering, so the change actually
// takes effect on already-issued loggers.
func (l *Logger) SetLevel(level Level) {
	l.atom.SetLevel(level.zapLevel())
}

func (l *Logger) Debugf(format string, args ...any) { l.zap.Sugar().Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zap.Sugar().Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zap.Sugar().Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zap.Sugar().Errorf(format, args...) }

// Close drains the queue and stops the writer goroutine.
func (l *Logger) Close() error {
	_ = l.zap.Sync()
	return l.sink.Close()
}

// queueSink implements zapcore.WriteSyncer: Write enqueues the already
// encoded line (non-blocking unless the queue is full, matching the
// reference's "if queue not full, push; else write synchronously" fallback),
// and a single background goroutine drains the queue into a lumberjack
// writer that rotates by day or by line count.
type queueSink struct {
	mu       sync.Mutex
	dir      string
	suffix   string
	day      int
	lines    int
	file     *lumberjack.Logger
	ch       chan []byte
	closeCh  chan struct{}
	doneCh   chan struct{}
	async    bool
}

func newQueueSink(dir, suffix string, capacity int) *queueSink {
	s := &queueSink{
		dir:     dir,
		suffix:  suffix,
		ch:      make(chan []byte, max(capacity, 1)),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		async:   capacity > 0,
	}
	s.rotateIfNeeded(true)
	if s.async {
		go s.run()
	}
	return s
}

func (s *queueSink) Write(p []byte) (int, error) {
	if !s.async {
		s.writeDirect(p)
		return len(p), nil
	}
	select {
	case s.ch <- append([]byte(nil), p...):
	default:
		// Queue full: fall back to a synchronous write, same as the
		// reference logger when its block-queue is saturated.
		s.writeDirect(p)
	}
	return len(p), nil
}

func (s *queueSink) Sync() error {
	return nil
}

func (s *queueSink) run() {
	defer close(s.doneCh)
	for {
		select {
		case line := <-s.ch:
			s.writeDirect(line)
		case <-s.closeCh:
			for {
				select {
				case line := <-s.ch:
					s.writeDirect(line)
				default:
					return
				}
			}
		}
	}
}

func (s *queueSink) writeDirect(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateIfNeeded(false)
	s.file.Write(p)
	s.lines++
}

// rotateIfNeeded switches to a new file when the calendar day has changed or
// every maxLinesPerFile lines, naming files YYYY_MM_DD<suffix> or, for
// same-day rollover past the line cap, YYYY_MM_DD-<n><suffix>.
func (s *queueSink) rotateIfNeeded(force bool) {
	now := time.Now()
	today := now.Year()*10000 + int(now.Month())*100 + now.Day()

	needsRotate := force || today != s.day || (s.lines > 0 && s.lines%maxLinesPerFile == 0)
	if !needsRotate {
		return
	}

	var name string
	if today != s.day {
		name = fmt.Sprintf("%04d_%02d_%02d%s", now.Year(), now.Month(), now.Day(), s.suffix)
		s.lines = 0
	} else {
		name = fmt.Sprintf("%04d_%02d_%02d-%d%s", now.Year(), now.Month(), now.Day(), s.lines/maxLinesPerFile, s.suffix)
	}
	s.day = today

	if s.file != nil {
		s.file.Close()
	}
	s.file = &lumberjack.Logger{Filename: filepath.Join(s.dir, name)}
}

func (s *queueSink) Close() error {
	if s.async {
		close(s.closeCh)
		<-s.doneCh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
