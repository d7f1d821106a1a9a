package influx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/influxdata/influxdb1-client/models"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tdurouchoux/home-monitoring-display/pkg/storage"
	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

// Config holds the connection settings of one InfluxDB 1.x database
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Timeout  time.Duration
	// Timezone applied to returned timestamps
	Timezone string
	// DefaultGroupBy maps a measurement to the interval its fetches are aggregated on
	DefaultGroupBy map[string]string
	// Aggregation is the function used for grouped fetches
	Aggregation string
	Backoff     BackoffConfig
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("influx address is required")
	}
	if c.Database == "" {
		return fmt.Errorf("influx database is required")
	}
	if c.Aggregation != "" && !aggregations[c.Aggregation] {
		return fmt.Errorf("unsupported aggregation function %q", c.Aggregation)
	}
	for measurement, interval := range c.DefaultGroupBy {
		if !groupByPattern.MatchString(interval) {
			return fmt.Errorf("invalid group-by interval %q for measurement %s", interval, measurement)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// queryClient is the part of client.Client used by Source
type queryClient interface {
	Query(q client.Query) (*client.Response, error)
	Ping(timeout time.Duration) (time.Duration, string, error)
	Close() error
}

// Source reads series from an InfluxDB 1.x database.
// Series keys map to measurement and field; the Source part is ignored.
type Source struct {
	name        string
	database    string
	timeout     time.Duration
	loc         *time.Location
	groupBy     map[string]string
	aggregation string
	backoff     BackoffConfig

	client  queryClient
	breaker *gobreaker.CircuitBreaker
}

// NewSource connects a Source named name to the configured database
func NewSource(name string, cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create influx client: %w", err)
	}

	return newSource(name, cfg, c)
}

func newSource(name string, cfg Config, c queryClient) (*Source, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	aggregation := cfg.Aggregation
	if aggregation == "" {
		aggregation = "mean"
	}
	backoff := cfg.Backoff
	if backoff.InitialInterval <= 0 {
		backoff = DefaultBackoff()
	}

	groupBy := make(map[string]string, len(cfg.DefaultGroupBy))
	for m, iv := range cfg.DefaultGroupBy {
		groupBy[m] = iv
	}

	return &Source{
		name:        name,
		database:    cfg.Database,
		timeout:     cfg.Timeout,
		loc:         loc,
		groupBy:     groupBy,
		aggregation: aggregation,
		backoff:     backoff,
		client:      c,
		breaker:     newBreaker(name),
	}, nil
}

// Name returns the source name
func (s *Source) Name() string {
	return s.name
}

// Fetch implements storage.Source. Measurements with a default group-by
// interval are aggregated; empty buckets are skipped. InfluxDB labels a
// bucket with its aligned start, so a leading partial bucket is stamped at
// start to keep every point inside [start, stop).
func (s *Source) Fetch(ctx context.Context, key types.SeriesKey, start, stop time.Time) ([]types.Sample, error) {
	if !start.Before(stop) {
		return nil, nil
	}

	var command string
	interval, grouped := s.groupBy[key.Measurement]
	if grouped {
		command = groupedQuery(key.Measurement, key.Field, s.aggregation, interval, start, stop)
	} else {
		command = rangeQuery(key.Measurement, key.Field, start, stop)
	}

	rows, err := s.query(ctx, "fetch", command)
	if err != nil {
		return nil, err
	}

	var samples []types.Sample
	for _, row := range rows {
		parsed, err := s.parseRow(row)
		if err != nil {
			return nil, &storage.SourceError{Source: s.name, Op: "fetch", Err: err}
		}
		samples = append(samples, parsed...)
	}

	if grouped {
		for i := range samples {
			if samples[i].Timestamp.Before(start) {
				samples[i].Timestamp = start.In(s.loc)
			}
		}
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	return samples, nil
}

// FirstTimestamp implements storage.Source
func (s *Source) FirstTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error) {
	sample, err := s.selector(ctx, "first", key)
	return sample.Timestamp, err
}

// LastTimestamp implements storage.Source
func (s *Source) LastTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error) {
	sample, err := s.selector(ctx, "last", key)
	return sample.Timestamp, err
}

// Latest implements storage.LatestReader
func (s *Source) Latest(ctx context.Context, key types.SeriesKey) (types.Sample, error) {
	return s.selector(ctx, "last", key)
}

func (s *Source) selector(ctx context.Context, selector string, key types.SeriesKey) (types.Sample, error) {
	rows, err := s.query(ctx, selector, selectorQuery(selector, key.Measurement, key.Field))
	if err != nil {
		return types.Sample{}, err
	}

	for _, row := range rows {
		samples, err := s.parseRow(row)
		if err != nil {
			return types.Sample{}, &storage.SourceError{Source: s.name, Op: selector, Err: err}
		}
		if len(samples) > 0 {
			return samples[0], nil
		}
	}
	return types.Sample{}, storage.ErrNoData
}

// ListSeries implements storage.Source
func (s *Source) ListSeries(ctx context.Context) (map[types.SeriesKey]types.FieldSchema, error) {
	rows, err := s.query(ctx, "list series", showFieldKeys)
	if err != nil {
		return nil, err
	}

	result := make(map[types.SeriesKey]types.FieldSchema)
	for _, row := range rows {
		for _, values := range row.Values {
			if len(values) < 2 {
				continue
			}
			field, ok1 := values[0].(string)
			fieldType, ok2 := values[1].(string)
			if !ok1 || !ok2 {
				return nil, &storage.SourceError{
					Source: s.name,
					Op:     "list series",
					Err:    fmt.Errorf("%w: unexpected field key row %v", storage.ErrQueryFailed, values),
				}
			}
			key := types.SeriesKey{Source: s.name, Measurement: row.Name, Field: field}
			result[key] = types.FieldSchema{Type: fieldType}
		}
	}
	return result, nil
}

// Ping checks that the server answers
func (s *Source) Ping(ctx context.Context) error {
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if _, _, err := s.client.Ping(timeout); err != nil {
		return &storage.SourceError{Source: s.name, Op: "ping", Err: fmt.Errorf("%w: %v", storage.ErrSourceUnavailable, err)}
	}
	return nil
}

// Close releases the underlying client
func (s *Source) Close() error {
	return s.client.Close()
}

func (s *Source) query(ctx context.Context, op, command string) ([]models.Row, error) {
	q := client.NewQuery(command, s.database, "ns")

	resp, err := s.queryWithResilience(ctx, q)
	if err != nil {
		log.Warn().Err(err).Str("source", s.name).Str("query", command).Msg("InfluxDB query failed")
		return nil, &storage.SourceError{Source: s.name, Op: op, Err: err}
	}

	var rows []models.Row
	for _, result := range resp.Results {
		rows = append(rows, result.Series...)
	}
	return rows, nil
}

// parseRow converts a (time, value) row into samples, skipping null values
func (s *Source) parseRow(row models.Row) ([]types.Sample, error) {
	if len(row.Columns) < 2 {
		return nil, fmt.Errorf("%w: expected time and value columns, got %v", storage.ErrQueryFailed, row.Columns)
	}

	samples := make([]types.Sample, 0, len(row.Values))
	for _, values := range row.Values {
		if len(values) < 2 {
			continue
		}
		ts, err := parseTimestamp(values[0])
		if err != nil {
			return nil, err
		}
		value, ok, err := parseValue(values[1])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		samples = append(samples, types.Sample{Timestamp: ts.In(s.loc), Value: value})
	}
	return samples, nil
}

func parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case json.Number:
		ns, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", storage.ErrQueryFailed, t)
		}
		return time.Unix(0, ns), nil
	case int64:
		return time.Unix(0, t), nil
	case float64:
		return time.Unix(0, int64(t)), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", storage.ErrQueryFailed, t)
		}
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("%w: unexpected timestamp %v", storage.ErrQueryFailed, v)
}

// parseValue returns the numeric value of v. ok is false for nulls.
func parseValue(v interface{}) (float64, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: invalid value %q", storage.ErrQueryFailed, x)
		}
		return f, true, nil
	case float64:
		return x, true, nil
	case int64:
		return float64(x), true, nil
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	}
	return 0, false, fmt.Errorf("%w: non-numeric value %v", storage.ErrQueryFailed, v)
}
