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
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/program"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, nil)
}

func testLibrary(t *testing.T, functions ...string) *library.Library {
	t.Helper()
	lib, err := library.Standard(functions, 2, true)
	require.NoError(t, err)
	return lib
}

func mustProgram(t *testing.T, lib *library.Library, names ...string) program.Program {
	t.Helper()
	p, err := program.FromNames(lib, names)
	require.NoError(t, err)
	return p
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	lib := testLibrary(t, "add", "sin")
	p := mustProgram(t, lib, "add", "x1", "sin", "x2")

	id, err := s.Put(ctx, p, "seed")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	got, err := s.Get(ctx, lib, id)
	require.NoError(t, err)
	assert.True(t, got.Equal(p))

	rec, err := s.Record(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, []string{"add", "x1", "sin", "x2"}, rec.Names)
	assert.Equal(t, "seed", rec.Source)
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)

	_, err = s.Put(ctx, program.Program{}, "seed")
	assert.ErrorIs(t, err, program.ErrIncomplete)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	lib := testLibrary(t, "add")

	_, err := s.Get(ctx, lib, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, uuid.New()), ErrNotFound)
}

func TestStore_PutAllOrderAndCount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	lib := testLibrary(t, "add", "exp")

	ps := []program.Program{
		mustProgram(t, lib, "x1"),
		mustProgram(t, lib, "exp", "x2"),
		mustProgram(t, lib, "add", "x1", "const"),
	}
	ids, err := s.PutAll(ctx, ps, "sampler")
	require.NoError(t, err)
	require.Len(t, ids, 3)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recs, err := s.Records(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, ids[i], rec.ID)
		assert.Equal(t, ps[i].Names(), rec.Names)
	}

	recs, err = s.Records(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.NoError(t, s.Delete(ctx, ids[1]))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_LoadPool(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	wide := testLibrary(t, "add", "sin", "tanh")
	narrow := testLibrary(t, "add", "sin")

	_, err := s.PutAll(ctx, []program.Program{
		mustProgram(t, wide, "sin", "x1"),
		mustProgram(t, wide, "tanh", "x1"),
		mustProgram(t, wide, "add", "x1", "x2"),
	}, "test")
	require.NoError(t, err)

	pool, err := s.LoadPool(ctx, narrow, 0)
	require.NoError(t, err)
	require.Len(t, pool, 2, "tanh is unknown to the narrow library")
	assert.Equal(t, "sin(x1)", pool[0].String())
	assert.Equal(t, "add(x1,x2)", pool[1].String())
	assert.Same(t, narrow, pool[0].Library())

	pool, err = s.LoadPool(ctx, wide, 1)
	require.NoError(t, err)
	assert.Len(t, pool, 1)
}

func TestStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "population")
	lib := testLibrary(t, "add")

	db, err := OpenDB(Config{Path: dir, SyncWrites: true, GCInterval: time.Hour, GCDiscardRatio: 0.5})
	require.NoError(t, err)
	assert.Equal(t, dir, db.Path())
	assert.False(t, db.InMemory())

	id, err := NewStore(db, nil).Put(ctx, mustProgram(t, lib, "add", "x1", "x2"), "test")
	require.NoError(t, err)
	require.NoError(t, db.Sync())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "second close is a no-op")

	db, err = OpenDB(DefaultConfig(dir))
	require.NoError(t, err)
	defer db.Close()

	got, err := NewStore(db, nil).Get(ctx, lib, id)
	require.NoError(t, err)
	assert.Equal(t, "add(x1,x2)", got.String())
}

func TestOpenDB_Errors(t *testing.T) {
	_, err := OpenDB(Config{})
	assert.Error(t, err)

	_, err = OpenDB(Config{InMemory: true, GCDiscardRatio: 2})
	assert.Error(t, err)
}

func TestDB_ContextCancelled(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Count(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.PutAll(ctx, nil, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
