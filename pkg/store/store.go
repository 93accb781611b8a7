// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is an embedded run registry for matching results.
//
// Each run is a small JSON record under a UUID, optionally accompanied by
// the one-to-many structure it produced and the collection drawn from it.
// Key layout:
//
//	run/<id>   Run record (JSON)
//	otm/<id>   one-to-many structure (JSON, same format as SaveFile)
//	coll/<id>  collection (TSV, same format as SaveFile)
//
// The store is backed by BadgerDB and is safe for concurrent use within one
// process. BadgerDB holds a directory lock, so only one process may open a
// given path at a time.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/gibsramen/qupid/pkg/casematch"
)

// ErrRunNotFound is returned when no run, or no requested artifact of a run,
// exists under the given ID.
var ErrRunNotFound = errors.New("run not found")

const (
	runPrefix  = "run/"
	otmPrefix  = "otm/"
	collPrefix = "coll/"
)

// RunKind names the operation that produced a run.
type RunKind string

const (
	KindMatch   RunKind = "match"
	KindShuffle RunKind = "shuffle"
)

// Run is the summary record of one matching or sampling invocation.
type Run struct {
	ID      string    `json:"id"`
	Kind    RunKind   `json:"kind"`
	Created time.Time `json:"created"`

	// Parent is the run whose one-to-many structure a shuffle drew from.
	Parent string `json:"parent,omitempty"`

	// Rules is the rule set rendered as text, for display.
	Rules string `json:"rules,omitempty"`

	Cases     int `json:"cases"`
	Controls  int `json:"controls"`
	Unmatched int `json:"unmatched"`

	Iterations int    `json:"iterations,omitempty"`
	Seed       uint64 `json:"seed,omitempty"`
	Seeded     bool   `json:"seeded,omitempty"`

	HasOneToMany  bool `json:"has_one_to_many"`
	HasCollection bool `json:"has_collection"`
}

// Store is a BadgerDB-backed run registry.
type Store struct {
	db *badger.DB
	gc *gcRunner
}

// Open opens or creates a store.
//
// Inputs:
//   - cfg: Database configuration. Path is required unless InMemory is set.
//
// Outputs:
//   - *Store: The store. Caller must Close it.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// OpenPath opens a persistent store at path with DefaultConfig.
func OpenPath(path string) (*Store, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	return Open(cfg)
}

// OpenInMemory opens an in-memory store. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// SaveRun persists a run and its artifacts.
//
// Description:
//
//	A new UUID is assigned when run.ID is empty and Created is set when it
//	is zero. Counts are filled from the artifacts: Cases, Controls and
//	Unmatched from the one-to-many structure, Iterations and Seed from the
//	collection. Everything is written in one transaction.
//
// Inputs:
//   - run: Run metadata. Kind is required.
//   - otm: Optional one-to-many structure.
//   - coll: Optional collection.
//
// Outputs:
//   - Run: The stored record, with ID and derived fields set.
//   - error: Non-nil on encoding or database failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) SaveRun(ctx context.Context, run Run, otm *casematch.OneToMany, coll *casematch.Collection) (Run, error) {
	if run.Kind == "" {
		return Run{}, errors.New("run kind is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Created.IsZero() {
		run.Created = time.Now().UTC()
	}

	var otmData, collData bytes.Buffer
	if otm != nil {
		if err := otm.WriteJSON(&otmData); err != nil {
			return Run{}, fmt.Errorf("encode one-to-many: %w", err)
		}
		run.HasOneToMany = true
		run.Cases = otm.Len()
		run.Controls = len(otm.Controls())
		run.Unmatched = len(otm.UnmatchedCases())
		if run.Rules == "" && otm.Rules() != nil {
			run.Rules = otm.Rules().String()
		}
	}
	if coll != nil {
		if err := coll.WriteTSV(&collData); err != nil {
			return Run{}, fmt.Errorf("encode collection: %w", err)
		}
		run.HasCollection = true
		run.Iterations = coll.Len()
		if run.Cases == 0 {
			run.Cases = len(coll.Cases())
		}
		if seed, ok := coll.Seed(); ok {
			run.Seed, run.Seeded = seed, true
		}
	}

	record, err := json.Marshal(run)
	if err != nil {
		return Run{}, fmt.Errorf("encode run: %w", err)
	}

	err = withTxn(ctx, s.db, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(runPrefix+run.ID), record); err != nil {
			return err
		}
		if run.HasOneToMany {
			if err := txn.Set([]byte(otmPrefix+run.ID), otmData.Bytes()); err != nil {
				return err
			}
		}
		if run.HasCollection {
			if err := txn.Set([]byte(collPrefix+run.ID), collData.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Run{}, fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return run, nil
}

// GetRun returns the run record with the given ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	data, err := s.get(ctx, runPrefix, id)
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return Run{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run, newest first. Runs created at the same
// instant are ordered by ID.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: []byte(runPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var run Run
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].Created.Equal(runs[j].Created) {
			return runs[i].Created.After(runs[j].Created)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// LoadOneToMany returns the one-to-many structure stored with a run.
func (s *Store) LoadOneToMany(ctx context.Context, id string) (*casematch.OneToMany, error) {
	data, err := s.get(ctx, otmPrefix, id)
	if err != nil {
		return nil, err
	}
	return casematch.ReadOneToManyJSON(bytes.NewReader(data))
}

// LoadCollection returns the collection stored with a run.
//
// The returned collection does not carry its seed; read it from the Run.
func (s *Store) LoadCollection(ctx context.Context, id string) (*casematch.Collection, error) {
	data, err := s.get(ctx, collPrefix, id)
	if err != nil {
		return nil, err
	}
	return casematch.ReadCollectionTSV(bytes.NewReader(data))
}

// DeleteRun removes a run and its artifacts. Deleting an unknown run
// returns ErrRunNotFound.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(runPrefix + id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrRunNotFound, id)
			}
			return err
		}
		for _, prefix := range []string{runPrefix, otmPrefix, collPrefix} {
			if err := txn.Delete([]byte(prefix + id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) get(ctx context.Context, prefix, id string) ([]byte, error) {
	var data []byte
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefix + id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s%s", ErrRunNotFound, prefix, id)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
