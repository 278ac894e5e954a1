package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Question lifecycle
	LogQuestionReceived(ctx context.Context, evidenceID, question string, assets []string, role string) error
	LogQuestionRejected(ctx context.Context, question string, err error, code string) error

	// Intent lifecycle
	LogIntentResolved(ctx context.Context, evidenceID string, intents []string) error
	LogIntentAborted(ctx context.Context, evidenceID, intent, reason string) error

	// Response lifecycle
	LogResponseAssembled(ctx context.Context, evidenceID, band, escalation string, duration time.Duration) error
	LogResponsePersisted(ctx context.Context, evidenceID string) error

	// LogConfigLoaded records the configuration source
	LogConfigLoaded(ctx context.Context, source string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// FlushInterval is how often buffered events are written
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		FlushInterval: time.Second,
	}
}

const bufferSize = 100

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	rotator     *lumberjack.Logger
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	doneCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. appLogger receives marshal failures.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if strings.TrimSpace(config.AuditLogPath) == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Audit logs are always INFO level, append-only
	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger.Named("audit"),
		auditLogger: zap.New(auditCore),
		rotator:     rotator,
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(config.FlushInterval),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = CorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferSize {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogQuestionReceived logs an accepted question
func (l *auditLogger) LogQuestionReceived(ctx context.Context, evidenceID, question string, assets []string, role string) error {
	event := NewEvent(EventQuestionReceived).
		WithCorrelationID(evidenceID).
		WithQuestion(question, assets).
		WithRole(role).
		WithResult(ResultSuccess)

	return l.Log(ctx, event)
}

// LogQuestionRejected logs a question refused before any evidence exists
func (l *auditLogger) LogQuestionRejected(ctx context.Context, question string, err error, code string) error {
	event := NewEvent(EventQuestionRejected).
		WithQuestion(question, nil).
		WithError(err, code).
		WithResult(ResultDenied)

	return l.Log(ctx, event)
}

// LogIntentResolved logs the resolved plan
func (l *auditLogger) LogIntentResolved(ctx context.Context, evidenceID string, intents []string) error {
	event := NewEvent(EventIntentResolved).
		WithCorrelationID(evidenceID).
		WithIntent(strings.Join(intents, ",")).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Resolved %d intent(s)", len(intents)))

	return l.Log(ctx, event)
}

// LogIntentAborted logs an intent that stopped before answering
func (l *auditLogger) LogIntentAborted(ctx context.Context, evidenceID, intent, reason string) error {
	event := NewEvent(EventIntentAborted).
		WithCorrelationID(evidenceID).
		WithIntent(intent).
		WithResult(ResultFailure).
		WithDescription(reason)

	return l.Log(ctx, event)
}

// LogResponseAssembled logs a finished pipeline run
func (l *auditLogger) LogResponseAssembled(ctx context.Context, evidenceID, band, escalation string, duration time.Duration) error {
	event := NewEvent(EventResponseAssembled).
		WithCorrelationID(evidenceID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("band", band).
		WithMetadata("escalation", escalation)

	return l.Log(ctx, event)
}

// LogResponsePersisted logs a response written to the archive
func (l *auditLogger) LogResponsePersisted(ctx context.Context, evidenceID string) error {
	event := NewEvent(EventResponsePersisted).
		WithCorrelationID(evidenceID).
		WithResult(ResultSuccess)

	return l.Log(ctx, event)
}

// LogConfigLoaded logs the configuration source
func (l *auditLogger) LogConfigLoaded(ctx context.Context, source string) error {
	event := NewEvent(EventConfigLoaded).
		WithResult(ResultSuccess).
		WithMetadata("source", source)

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.auditLogger.Sync()
}

// Close stops the flusher, writes what is buffered and closes the file
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
		<-l.doneCh

		if err = l.Sync(); err != nil {
			return
		}
		err = l.rotator.Close()
	})
	return err
}

type correlationKey struct{}

// CorrelationID extracts the correlation ID from context
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds a correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}
