package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker counts completed units of a long operation, such as the
// jobs of a batch run, and logs at most once per interval.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	failed      int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.RWMutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string        `json:"operation"`
	Total       int64         `json:"total"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Debug("Starting operation")

	return tracker
}

// Increment marks one unit done; failed units are counted separately.
func (p *ProgressTracker) Increment(failed bool) ProgressStats {
	p.mutex.Lock()
	p.current++
	if failed {
		p.failed++
	}
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval || p.current == p.total {
		p.lastLogTime = now
		p.logger.WithFields(p.fieldsLocked(now)).Info("Progress update")
	}
	p.mutex.Unlock()
	return p.GetStats()
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	p.logger.WithFields(p.fieldsLocked(time.Now())).Info("Operation completed")
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	var percentage float64
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}

	return ProgressStats{
		Operation:  p.operation,
		Total:      p.total,
		Current:    p.current,
		Failed:     p.failed,
		Percentage: percentage,
		Duration:   time.Since(p.startTime),
	}
}

func (p *ProgressTracker) fieldsLocked(now time.Time) Fields {
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"failed":    p.failed,
		"elapsed":   now.Sub(p.startTime).Round(time.Millisecond).String(),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Failed     int64         `json:"failed"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%), %d failed",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Failed)
	}
	return fmt.Sprintf("%s: %d processed, %d failed, elapsed: %v",
		ps.Operation, ps.Current, ps.Failed, ps.Duration)
}

// OperationLogger provides structured logging for operations with timing
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger,
		operation: operation,
		fields:    make(Fields),
		startTime: time.Now(),
	}

	ol.logger.WithField("operation", operation).Debug("Starting operation")
	return ol
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

func (ol *OperationLogger) merged(extra Fields) Fields {
	fields := Fields{"operation": ol.operation}
	for k, v := range ol.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string) {
	ol.logger.WithFields(ol.merged(Fields{"step": step})).Debug("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(ol.merged(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	})).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(ol.merged(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	})).Error(message)
}

// TimedOperation executes a function and logs timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)

	err := fn()
	if err != nil {
		ol.Error(err, "Operation failed")
	} else {
		ol.Success("Operation completed")
	}

	return err
}
