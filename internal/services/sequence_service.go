package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// SequenceMetrics receives retry signals from the sequence service.
// Implemented by metrics.Collector.
type SequenceMetrics interface {
	RecordSequenceRetry()
}

// SequenceServiceInterface defines the interface for auto-increment allocation
type SequenceServiceInterface interface {
	Next(ctx context.Context, attr *entities.AttributeDefinition) (string, error)
}

// SequenceService allocates formatted auto-increment values. The counter
// increment always happens inside the database; the service only retries
// transient storage failures and formats the result. Counters are monotonic
// per attribute; a rolled-back entity create leaves a gap, which is fine.
type SequenceService struct {
	sequences   repositories.SequenceRepository
	attempts    int
	baseBackoff time.Duration
	metrics     SequenceMetrics
	logger      *zap.SugaredLogger
}

// NewSequenceService creates a new SequenceService. metrics and logger may
// be nil.
func NewSequenceService(
	sequences repositories.SequenceRepository,
	attempts int,
	baseBackoff time.Duration,
	metrics SequenceMetrics,
	logger *zap.SugaredLogger,
) *SequenceService {
	if attempts < 1 {
		attempts = 1
	}
	return &SequenceService{
		sequences:   sequences,
		attempts:    attempts,
		baseBackoff: baseBackoff,
		metrics:     metrics,
		logger:      logger,
	}
}

// Next allocates the next value for an auto-increment attribute and formats
// it as prefix + zero-padded counter + suffix.
func (s *SequenceService) Next(ctx context.Context, attr *entities.AttributeDefinition) (string, error) {
	if !attr.IsAutoIncrement {
		return "", fmt.Errorf("attribute %q is not auto-increment", attr.Name)
	}

	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			if s.metrics != nil {
				s.metrics.RecordSequenceRetry()
			}
			if s.logger != nil {
				s.logger.Debugw("retrying sequence allocation",
					"attribute_id", attr.ID, "attempt", attempt, "error", lastErr)
			}
			select {
			case <-ctx.Done():
				return "", &entities.StorageError{Transient: true, Err: ctx.Err()}
			case <-time.After(jitteredBackoff(s.baseBackoff, attempt)):
			}
		}

		counter, err := s.sequences.NextCounter(ctx, attr.ID)
		if err == nil {
			return FormatSequenceValue(attr, counter), nil
		}

		if errors.Is(err, repositories.ErrNotFound) {
			// Counter row missing: the definition predates sequence
			// initialization. Create it and retry immediately.
			start := attr.AutoIncrementStart
			if start == 0 {
				start = 1
			}
			if initErr := s.sequences.Init(ctx, attr.ID, start); initErr != nil {
				lastErr = initErr
				continue
			}
			counter, err = s.sequences.NextCounter(ctx, attr.ID)
			if err == nil {
				return FormatSequenceValue(attr, counter), nil
			}
		}

		var storageErr *entities.StorageError
		if errors.As(err, &storageErr) && storageErr.Transient {
			lastErr = err
			continue
		}

		return "", err
	}

	return "", &entities.ConflictError{
		Kind:        entities.ConflictSequence,
		AttributeID: attr.ID,
		Message:     fmt.Sprintf("sequence allocation failed after %d attempts: %v", s.attempts, lastErr),
	}
}

// FormatSequenceValue renders a counter using the attribute's auto-increment
// format, e.g. prefix "CUST-", padding 4, counter 1 -> "CUST-0001".
// Counters wider than the padding are never truncated.
func FormatSequenceValue(attr *entities.AttributeDefinition, counter int64) string {
	digits := strconv.FormatInt(counter, 10)
	if pad := attr.AutoIncrementPadding - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return attr.AutoIncrementPrefix + digits + attr.AutoIncrementSuffix
}

// jitteredBackoff computes the sleep before retry n (1-based): the base
// duration doubled per attempt, with up to 50% random jitter added.
func jitteredBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	backoff := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return backoff + jitter
}
