package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// MultiLogger writes every event to several loggers
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiLogger creates a logger that fans out to loggers. It logs
// asynchronously until SetAsync(false).
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		async:   true,
		errChan: make(chan error, len(loggers)+1),
	}
}

// SetAsync sets whether logging is asynchronous
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log implements Logger. A failing logger does not stop the others.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	if len(m.loggers) == 0 {
		return nil
	}
	if m.async {
		m.logAsync(ctx, event)
		return nil
	}
	return m.logSync(ctx, event)
}

func (m *MultiLogger) logSync(ctx context.Context, event *Event) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiLogger) logAsync(ctx context.Context, event *Event) {
	ctx = context.WithoutCancel(ctx)
	for _, logger := range m.loggers {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			if err := l.Log(ctx, event); err != nil {
				select {
				case m.errChan <- err:
				default:
				}
			}
		}(logger)
	}
}

// Wait waits for pending asynchronous writes
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Errors drains the failures of asynchronous writes. Failures beyond the
// buffer are dropped.
func (m *MultiLogger) Errors() []error {
	var errs []error
	for {
		select {
		case err := <-m.errChan:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close waits for pending writes and closes every logger
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
		}
	}
	return errors.Join(errs...)
}

// LogrusLogger writes events to a logrus logger, denials at warn level
type LogrusLogger struct {
	log logrus.FieldLogger
}

// NewLogrusLogger creates a logger writing to log
func NewLogrusLogger(log logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{log: log}
}

// Log implements Logger
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	fields := logrus.Fields{
		"audit":  event.EventType,
		"status": event.Status,
	}
	for key, value := range map[string]string{
		"accountId": event.AccountID,
		"userId":    event.UserID,
		"appId":     event.AppID,
		"envId":     event.EnvID,
		"entityId":  event.EntityID,
		"code":      event.Code,
		"requestId": event.RequestID,
		"path":      event.Path,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if event.StatusCode != 0 {
		fields["statusCode"] = event.StatusCode
	}

	entry := l.log.WithFields(fields)
	message := event.Message
	if message == "" {
		message = string(event.EventType)
	}
	if event.Status == EventStatusSuccess {
		entry.Info(message)
	} else {
		entry.Warn(message)
	}
	return nil
}

// Close implements Logger
func (l *LogrusLogger) Close() error {
	return nil
}
