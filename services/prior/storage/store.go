// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/program"
)

const programPrefix = "prog/"

// ErrNotFound is returned when no program is stored under an id.
var ErrNotFound = errors.New("program not found")

// Record is the stored form of one program.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Names     []string  `json:"names"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the population of accepted programs.
//
// Keys are time-ordered (UUIDv7), so iteration returns programs in insertion
// order.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// NewStore creates a Store on db. A nil logger uses slog.Default().
func NewStore(db *DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func programKey(id uuid.UUID) []byte {
	return []byte(programPrefix + id.String())
}

func newRecord(p program.Program, source string) (Record, []byte, error) {
	if p.IsZero() {
		return Record{}, nil, fmt.Errorf("%w: cannot store an empty program", program.ErrIncomplete)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, nil, fmt.Errorf("generate id: %w", err)
	}
	rec := Record{ID: id, Names: p.Names(), Source: source, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, data, nil
}

// Put stores p and returns its id.
func (s *Store) Put(ctx context.Context, p program.Program, source string) (uuid.UUID, error) {
	rec, data, err := newRecord(p, source)
	if err != nil {
		return uuid.Nil, err
	}
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(programKey(rec.ID), data)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("put program: %w", err)
	}
	return rec.ID, nil
}

// PutAll stores ps with a write batch and returns their ids in order.
func (s *Store) PutAll(ctx context.Context, ps []program.Program, source string) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	wb := s.db.db.NewWriteBatch()
	defer wb.Cancel()

	ids := make([]uuid.UUID, 0, len(ps))
	for i, p := range ps {
		rec, data, err := newRecord(p, source)
		if err != nil {
			return nil, fmt.Errorf("program %d: %w", i, err)
		}
		if err := wb.Set(programKey(rec.ID), data); err != nil {
			return nil, fmt.Errorf("program %d: %w", i, err)
		}
		ids = append(ids, rec.ID)
	}
	if err := wb.Flush(); err != nil {
		return nil, fmt.Errorf("flush batch: %w", err)
	}
	s.logger.Debug("stored programs", slog.Int("count", len(ids)), slog.String("source", source))
	return ids, nil
}

// Record returns the stored record for id.
func (s *Store) Record(ctx context.Context, id uuid.UUID) (Record, error) {
	var rec Record
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(programKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// Get loads the program stored under id against lib.
//
// Outputs:
//   - program.Program: The program.
//   - error: ErrNotFound, library.ErrUnknownToken if lib lacks a stored
//     name, or program.ErrIncomplete for a corrupt record.
func (s *Store) Get(ctx context.Context, lib *library.Library, id uuid.UUID) (program.Program, error) {
	rec, err := s.Record(ctx, id)
	if err != nil {
		return program.Program{}, err
	}
	return program.FromNames(lib, rec.Names)
}

// Delete removes the program stored under id.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(programKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		} else if err != nil {
			return err
		}
		return txn.Delete(programKey(id))
	})
}

// Count returns the number of stored programs.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(programPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Records returns up to limit records in insertion order. limit <= 0 means all.
func (s *Store) Records(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(programPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// LoadPool returns up to limit stored programs that resolve against lib.
//
// Description:
//
//	Records naming tokens that lib does not define, or that no longer form
//	a complete tree, are skipped and logged at Debug level. The result is
//	suitable as the fallback pool of validate.ValidateAndRetry.
func (s *Store) LoadPool(ctx context.Context, lib *library.Library, limit int) ([]program.Program, error) {
	recs, err := s.Records(ctx, 0)
	if err != nil {
		return nil, err
	}
	var pool []program.Program
	skipped := 0
	for _, rec := range recs {
		if limit > 0 && len(pool) >= limit {
			break
		}
		p, err := program.FromNames(lib, rec.Names)
		if err != nil {
			skipped++
			s.logger.Debug("skipping stored program",
				slog.String("id", rec.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		pool = append(pool, p)
	}
	s.logger.Info("loaded fallback pool",
		slog.Int("programs", len(pool)),
		slog.Int("skipped", skipped),
	)
	return pool, nil
}
