package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

const (
	blockPrefix byte = 'b'
	metaPrefix  byte = 'm'
	blockSpan        = time.Hour
)

// Config holds local store configuration
type Config struct {
	Path             string
	CompressionLevel int
	EnableWAL        bool
}

// DefaultConfig returns default local store configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		CompressionLevel: 3,
		EnableWAL:        true,
	}
}

// LocalStore is a Source persisted in BadgerDB. Samples are grouped in
// one-hour blocks per series; writes merge into existing blocks.
type LocalStore struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	wal        *WAL
	mu         sync.RWMutex
}

// NewLocalStore opens the store at cfg.Path, loads the series index
// and replays any pending WAL files
func NewLocalStore(cfg *Config) (*LocalStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &LocalStore{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
	}

	if err := s.loadIndex(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	if cfg.EnableWAL {
		replayed, err := ReplayWAL(cfg.Path, s.apply)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
		if replayed > 0 {
			log.Info().Int("entries", replayed).Str("path", cfg.Path).Msg("WAL replayed")
		}

		wal, err := NewWAL(cfg.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.wal = wal
	}

	log.Info().
		Str("path", cfg.Path).
		Int("series", s.index.SeriesCount()).
		Bool("wal", cfg.EnableWAL).
		Msg("Local store opened")

	return s, nil
}

// loadIndex reads persisted series metadata into the index
func (s *LocalStore) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{metaPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta seriesMetadata
				if err := json.Unmarshal(val, &meta); err != nil {
					return fmt.Errorf("failed to unmarshal series metadata: %w", err)
				}
				s.index.load(meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Write implements Writer
func (s *LocalStore) Write(ctx context.Context, key types.SeriesKey, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	if key.Measurement == "" || key.Field == "" {
		return fmt.Errorf("%w: measurement and field are required", ErrQueryFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wal != nil {
		if err := s.wal.Append(key, samples); err != nil {
			return fmt.Errorf("WAL append failed: %w", err)
		}
	}

	return s.applyLocked(key, samples)
}

// apply is the WAL replay handler
func (s *LocalStore) apply(key types.SeriesKey, samples []types.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(key, samples)
}

// applyLocked merges samples into their blocks (must hold lock)
func (s *LocalStore) applyLocked(key types.SeriesKey, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	id, _ := s.index.AddSeries(key, types.FieldSchema{Type: types.FieldFloat})
	meta, _ := s.index.GetSeries(key)

	blocks := groupSamplesByBlock(samples)
	minTime, maxTime := samples[0].Timestamp.UnixNano(), samples[0].Timestamp.UnixNano()
	for _, sample := range samples {
		ts := sample.Timestamp.UnixNano()
		if ts < minTime {
			minTime = ts
		}
		if ts > maxTime {
			maxTime = ts
		}
	}

	updated := meta
	if !updated.HasData || minTime < updated.MinTime {
		updated.MinTime = minTime
	}
	if !updated.HasData || maxTime > updated.MaxTime {
		updated.MaxTime = maxTime
	}
	updated.HasData = true

	metaBytes, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("failed to marshal series metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for blockTime, incoming := range blocks {
			bkey := blockKey(id, blockTime)

			existing, err := s.readBlockTxn(txn, bkey)
			if err != nil {
				return err
			}

			merged := mergeSamples(existing, incoming)
			if err := txn.Set(bkey, s.compressor.EncodeBlock(merged)); err != nil {
				return fmt.Errorf("failed to write block: %w", err)
			}
		}
		return txn.Set(metaKey(id), metaBytes)
	})
	if err != nil {
		return err
	}

	s.index.UpdateTimeRange(id, minTime, maxTime)
	return nil
}

// groupSamplesByBlock groups samples into one-hour blocks
func groupSamplesByBlock(samples []types.Sample) map[int64][]types.Sample {
	blocks := make(map[int64][]types.Sample)
	for _, sample := range samples {
		blockTime := sample.Timestamp.Truncate(blockSpan).Unix()
		blocks[blockTime] = append(blocks[blockTime], sample)
	}

	for _, block := range blocks {
		sort.SliceStable(block, func(i, j int) bool { return block[i].Timestamp.Before(block[j].Timestamp) })
	}
	return blocks
}

// readBlockTxn decodes the block stored at bkey, nil if absent
func (s *LocalStore) readBlockTxn(txn *badger.Txn, bkey []byte) ([]types.Sample, error) {
	item, err := txn.Get(bkey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read block: %w", err)
	}

	var samples []types.Sample
	err = item.Value(func(val []byte) error {
		var err error
		samples, err = s.compressor.DecodeBlock(val)
		return err
	})
	return samples, err
}

// Fetch implements Source
func (s *LocalStore) Fetch(ctx context.Context, key types.SeriesKey, start, stop time.Time) ([]types.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.index.GetSeries(key)
	if !ok || !meta.HasData || !start.Before(stop) {
		return nil, nil
	}

	prefix := seriesBlockPrefix(meta.ID)
	seek := blockKey(meta.ID, start.Truncate(blockSpan).Unix())

	var result []types.Sample
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			blockStart := time.Unix(parseBlockTime(item.Key()), 0)
			if !blockStart.Before(stop) {
				break
			}

			err := item.Value(func(val []byte) error {
				samples, err := s.compressor.DecodeBlock(val)
				if err != nil {
					return err
				}
				for _, sample := range samples {
					if !sample.Timestamp.Before(start) && sample.Timestamp.Before(stop) {
						result = append(result, sample)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &SourceError{Source: "local", Op: "fetch", Err: err}
	}

	return result, nil
}

// FirstTimestamp implements Source
func (s *LocalStore) FirstTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error) {
	meta, err := s.bounds(key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, meta.MinTime), nil
}

// LastTimestamp implements Source
func (s *LocalStore) LastTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error) {
	meta, err := s.bounds(key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, meta.MaxTime), nil
}

func (s *LocalStore) bounds(key types.SeriesKey) (seriesMetadata, error) {
	meta, ok := s.index.GetSeries(key)
	if !ok {
		return seriesMetadata{}, fmt.Errorf("%w: %s", ErrSeriesNotFound, key)
	}
	if !meta.HasData {
		return seriesMetadata{}, fmt.Errorf("%w: %s", ErrNoData, key)
	}
	return meta, nil
}

// Latest implements LatestReader
func (s *LocalStore) Latest(ctx context.Context, key types.SeriesKey) (types.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.bounds(key)
	if err != nil {
		return types.Sample{}, err
	}

	var samples []types.Sample
	err = s.db.View(func(txn *badger.Txn) error {
		var err error
		samples, err = s.readBlockTxn(txn, blockKey(meta.ID, time.Unix(0, meta.MaxTime).Truncate(blockSpan).Unix()))
		return err
	})
	if err != nil {
		return types.Sample{}, &SourceError{Source: "local", Op: "latest", Err: err}
	}
	if len(samples) == 0 {
		return types.Sample{}, fmt.Errorf("%w: %s", ErrNoData, key)
	}

	return samples[len(samples)-1], nil
}

// ListSeries implements Source
func (s *LocalStore) ListSeries(ctx context.Context) (map[types.SeriesKey]types.FieldSchema, error) {
	all := s.index.All()
	result := make(map[types.SeriesKey]types.FieldSchema, len(all))
	for _, meta := range all {
		result[meta.Key] = meta.Field
	}
	return result, nil
}

// FlushWAL syncs pending WAL entries to disk
func (s *LocalStore) FlushWAL() error {
	if s.wal == nil {
		return nil
	}
	return s.wal.Flush()
}

// Close closes the WAL, the compressor and the database
func (s *LocalStore) Close() error {
	var walErr error
	if s.wal != nil {
		walErr = s.wal.Close()
	}
	if s.compressor != nil {
		s.compressor.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
	}
	return walErr
}

// blockKey generates the storage key of a block:
// prefix | series id | block time with the sign bit flipped so keys sort by time
func blockKey(seriesID uint64, blockTime int64) []byte {
	key := make([]byte, 17)
	key[0] = blockPrefix
	binary.BigEndian.PutUint64(key[1:9], seriesID)
	binary.BigEndian.PutUint64(key[9:], uint64(blockTime)^(1<<63))
	return key
}

func seriesBlockPrefix(seriesID uint64) []byte {
	return blockKey(seriesID, 0)[:9]
}

func parseBlockTime(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[9:17]) ^ (1 << 63))
}

func metaKey(seriesID uint64) []byte {
	key := make([]byte, 9)
	key[0] = metaPrefix
	binary.BigEndian.PutUint64(key[1:], seriesID)
	return key
}
