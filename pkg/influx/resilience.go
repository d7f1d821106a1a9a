package influx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tdurouchoux/home-monitoring-display/pkg/storage"
)

// BackoffConfig controls exponential backoff between transport retries
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff returns the retry settings used when none are configured
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// queryError marks a query rejected by the server. It is not retried
// and does not count against the circuit breaker.
type queryError struct {
	err error
}

func (e *queryError) Error() string { return e.err.Error() }

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "influx-" + name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			var qe *queryError
			return err == nil || errors.As(err, &qe)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
}

// queryWithResilience runs q through the circuit breaker, retrying transport
// failures with exponential backoff. Transport failures surface as
// storage.ErrSourceUnavailable, server-side errors as storage.ErrQueryFailed.
func (s *Source) queryWithResilience(ctx context.Context, q client.Query) (*client.Response, error) {
	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrSourceUnavailable, ctx.Err())
		}

		result, err := s.breaker.Execute(func() (interface{}, error) {
			resp, err := s.client.Query(q)
			if err != nil {
				return nil, err
			}
			if err := resp.Error(); err != nil {
				return nil, &queryError{err: err}
			}
			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*client.Response)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected result type from circuit breaker", storage.ErrQueryFailed)
			}
			return resp, nil
		}

		var qe *queryError
		if errors.As(err, &qe) {
			return nil, fmt.Errorf("%w: %v", storage.ErrQueryFailed, qe.err)
		}

		// Circuit open, fail fast
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", storage.ErrSourceUnavailable, err)
		}

		if attempt >= s.backoff.MaxRetries {
			return nil, fmt.Errorf("%w: %v", storage.ErrSourceUnavailable, err)
		}

		delay := s.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > s.backoff.MaxInterval && s.backoff.MaxInterval > 0 {
			delay = s.backoff.MaxInterval
		}
		log.Debug().Err(err).Str("source", s.name).Int("attempt", attempt+1).Dur("delay", delay).Msg("Retrying InfluxDB query")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", storage.ErrSourceUnavailable, ctx.Err())
		case <-timer.C:
		}

		attempt++
	}
}
