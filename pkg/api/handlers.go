package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tdurouchoux/home-monitoring-display/pkg/storage"
	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

// seriesQuery identifies a series in query parameters
type seriesQuery struct {
	Source      string `validate:"required"`
	Measurement string `validate:"required"`
	Field       string `validate:"required"`
}

func (q seriesQuery) key() types.SeriesKey {
	return types.SeriesKey{Source: q.Source, Measurement: q.Measurement, Field: q.Field}
}

func (s *Server) bindSeries(c *fiber.Ctx) (seriesQuery, error) {
	q := seriesQuery{
		Source:      c.Query("source"),
		Measurement: c.Query("measurement"),
		Field:       c.Query("field"),
	}
	if err := validate.Struct(q); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return q, nil
}

// rangeQuery holds a series and its requested bounds
type rangeQuery struct {
	Series seriesQuery
	Start  time.Time `validate:"required"`
	Stop   time.Time `validate:"required"`
}

// bindRange reads series, start and stop. stop defaults to now.
func (s *Server) bindRange(c *fiber.Ctx) (rangeQuery, error) {
	var q rangeQuery

	series, err := s.bindSeries(c)
	if err != nil {
		return q, err
	}
	q.Series = series

	startStr := c.Query("start")
	if startStr == "" {
		return q, fiber.NewError(fiber.StatusBadRequest, "start query parameter is required")
	}
	stopStr := c.Query("stop", "now")

	now := s.now().In(s.loc)
	if q.Start, err = parseTime(startStr, now, s.loc); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("start: %v", err))
	}
	if q.Stop, err = parseTime(stopStr, now, s.loc); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("stop: %v", err))
	}

	if err := validate.Struct(q); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if q.Start.After(q.Stop) {
		return q, fmt.Errorf("%w: start is after stop", storage.ErrInvalidRange)
	}
	return q, nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "healthy",
		"sessions": s.sessions.Len(),
	})
}

// handleSeries lists the plottable series with their bounds
func (s *Server) handleSeries(c *fiber.Ctx) error {
	cat, err := storage.Discover(c.UserContext(), s.source)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"first":  cat.First,
		"last":   cat.Last,
		"series": cat.Selectable(),
	})
}

// handlePresets returns the standard date ranges ending at the last recorded date
func (s *Server) handlePresets(c *fiber.Ctx) error {
	cat, err := storage.Discover(c.UserContext(), s.source)
	if err != nil {
		return err
	}
	if cat.Empty() {
		return fmt.Errorf("no series holds data: %w", storage.ErrNoData)
	}

	first, last := cat.First.In(s.loc), cat.Last.In(s.loc)
	return c.JSON(fiber.Map{
		"first":   first,
		"last":    last,
		"presets": Presets(first, last),
	})
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	sess := s.sessions.Create()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      sess.ID,
		"created": sess.Created,
	})
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	if err := s.sessions.Delete(c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// cachedWindow describes one window held by a session cache
type cachedWindow struct {
	Key   types.SeriesKey `json:"key"`
	Range types.TimeRange `json:"range"`
}

func (s *Server) handleSessionStats(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return err
	}

	windows := make([]cachedWindow, 0)
	for _, key := range sess.Cache.Keys() {
		if r, ok := sess.Cache.CachedRange(key); ok {
			windows = append(windows, cachedWindow{Key: key, Range: r})
		}
	}

	stats := sess.Cache.Stats()
	return c.JSON(fiber.Map{
		"id":       sess.ID,
		"created":  sess.Created,
		"stats":    stats,
		"hit_rate": stats.HitRate(),
		"windows":  windows,
	})
}

// handleSessionQuery answers a range query from the session's window cache
func (s *Server) handleSessionQuery(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return err
	}

	q, err := s.bindRange(c)
	if err != nil {
		return err
	}

	samples, err := sess.Cache.Query(c.UserContext(), q.Series.key(), q.Start, q.Stop)
	if err != nil {
		return err
	}
	if samples == nil {
		samples = []types.Sample{}
	}

	return c.JSON(fiber.Map{
		"key":     q.Series.key(),
		"start":   q.Start.In(s.loc),
		"stop":    q.Stop.In(s.loc),
		"samples": samples,
	})
}

func (s *Server) handleLatest(c *fiber.Ctx) error {
	q, err := s.bindSeries(c)
	if err != nil {
		return err
	}

	reader, ok := s.source.(storage.LatestReader)
	if !ok {
		return fiber.NewError(fiber.StatusNotImplemented, "source cannot report latest samples")
	}

	sample, err := reader.Latest(c.UserContext(), q.key())
	if err != nil {
		return err
	}
	sample.Timestamp = sample.Timestamp.In(s.loc)

	return c.JSON(fiber.Map{
		"key":    q.key(),
		"sample": sample,
	})
}

func (s *Server) handleMean(c *fiber.Ctx) error {
	q, err := s.bindRange(c)
	if err != nil {
		return err
	}

	mean, err := storage.Mean(c.UserContext(), s.source, q.Series.key(), q.Start, q.Stop)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"key":   q.Series.key(),
		"start": q.Start.In(s.loc),
		"stop":  q.Stop.In(s.loc),
		"mean":  mean,
	})
}

// writeRequest is the body of a write request
type writeRequest struct {
	Source      string         `json:"source" validate:"required"`
	Measurement string         `json:"measurement" validate:"required"`
	Field       string         `json:"field" validate:"required"`
	Samples     []types.Sample `json:"samples" validate:"required,min=1"`
}

// handleWrite ingests samples into a writable source
func (s *Server) handleWrite(c *fiber.Ctx) error {
	var req writeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	w, ok := s.source.(storage.Writer)
	if !ok {
		return storage.ErrReadOnly
	}

	key := types.SeriesKey{Source: req.Source, Measurement: req.Measurement, Field: req.Field}
	if err := w.Write(c.UserContext(), key, req.Samples); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"written": len(req.Samples),
	})
}
