package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"anpr-vision/internal/domain/anpr"
	"anpr-vision/internal/repository"
)

// StatusService reads job state for pollers, retrying a flaky store.
type StatusService struct {
	jobs         JobStore
	attempts     int
	initialDelay time.Duration
	log          zerolog.Logger
}

func NewStatusService(jobs JobStore, attempts int, initialDelay time.Duration, log zerolog.Logger) *StatusService {
	if attempts < 1 {
		attempts = 1
	}
	return &StatusService{jobs: jobs, attempts: attempts, initialDelay: initialDelay, log: log}
}

// Get returns ErrNotFound immediately for unknown jobs, and ErrUnavailable once
// every attempt has failed for any other reason.
func (s *StatusService) Get(ctx context.Context, id string) (*anpr.Job, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidInput)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	var job *anpr.Job
	op := func() error {
		j, err := s.jobs.GetJob(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return backoff.Permanent(fmt.Errorf("%w: job %s", ErrNotFound, id))
		}
		if err != nil {
			return err
		}
		job = j
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Str("job_id", id).Dur("retry_in", wait).Msg("job status lookup failed")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.attempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return job, nil
}
