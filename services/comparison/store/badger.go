// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
	badgerdb "github.com/AleutianAI/branchdiff/services/comparison/storage/badger"
)

// Key prefixes. Requests and results share one database.
const (
	requestPrefix = "request/"
	resultPrefix  = "result/"
)

// maxConflictRetries bounds retries of a read-modify-write transaction that
// lost a race with a concurrent commit on the same key.
const maxConflictRetries = 5

func requestKey(id string) []byte { return []byte(requestPrefix + id) }
func resultKey(id string) []byte  { return []byte(resultPrefix + id) }

// BadgerRequestStore is a RequestStore backed by BadgerDB. Values are JSON.
type BadgerRequestStore struct {
	db *badgerdb.DB
}

// NewBadgerRequestStore creates a store over db. The caller owns db.
func NewBadgerRequestStore(db *badgerdb.DB) *BadgerRequestStore {
	return &BadgerRequestStore{db: db}
}

// Create implements RequestStore.
func (s *BadgerRequestStore) Create(ctx context.Context, req *datatypes.ComparisonRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request %s: %w", req.RequestID, err)
	}
	return withRetry(func() error {
		return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			if _, err := txn.Get(requestKey(req.RequestID)); err == nil {
				return fmt.Errorf("request %s: %w", req.RequestID, datatypes.ErrAlreadyExists)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return txn.Set(requestKey(req.RequestID), data)
		})
	})
}

// Get implements RequestStore.
func (s *BadgerRequestStore) Get(ctx context.Context, id string) (*datatypes.ComparisonRequest, error) {
	var req datatypes.ComparisonRequest
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, requestKey(id), &req)
	})
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", id, err)
	}
	return &req, nil
}

// Update implements RequestStore.
func (s *BadgerRequestStore) Update(ctx context.Context, req *datatypes.ComparisonRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request %s: %w", req.RequestID, err)
	}
	return withRetry(func() error {
		return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			var stored datatypes.ComparisonRequest
			if err := getJSON(txn, requestKey(req.RequestID), &stored); err != nil {
				return fmt.Errorf("request %s: %w", req.RequestID, err)
			}
			if err := checkUpdate(&stored, req); err != nil {
				return err
			}
			return txn.Set(requestKey(req.RequestID), data)
		})
	})
}

// List implements RequestStore.
func (s *BadgerRequestStore) List(ctx context.Context, statuses ...datatypes.Status) ([]*datatypes.ComparisonRequest, error) {
	var out []*datatypes.ComparisonRequest
	err := s.db.ScanPrefix(ctx, []byte(requestPrefix), func(key, value []byte) error {
		var req datatypes.ComparisonRequest
		if err := json.Unmarshal(value, &req); err != nil {
			return &datatypes.SerializationError{MessageType: string(key), Op: "decode", Err: err}
		}
		if wantStatus(statuses, req.Status) {
			out = append(out, &req)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	sortByCreated(out)
	return out, nil
}

// BadgerResultStore is a ResultStore backed by BadgerDB. Values are JSON.
type BadgerResultStore struct {
	db *badgerdb.DB
}

// NewBadgerResultStore creates a store over db. The caller owns db.
func NewBadgerResultStore(db *badgerdb.DB) *BadgerResultStore {
	return &BadgerResultStore{db: db}
}

// Put implements ResultStore.
func (s *BadgerResultStore) Put(ctx context.Context, result *datatypes.GitDiffResult) error {
	if result == nil || result.RequestID == "" {
		return errors.New("result request id is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", result.RequestID, err)
	}
	return withRetry(func() error {
		return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			if _, err := txn.Get(resultKey(result.RequestID)); err == nil {
				return fmt.Errorf("result %s: %w", result.RequestID, datatypes.ErrAlreadyExists)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return txn.Set(resultKey(result.RequestID), data)
		})
	})
}

// Get implements ResultStore.
func (s *BadgerResultStore) Get(ctx context.Context, requestID string) (*datatypes.GitDiffResult, error) {
	var result datatypes.GitDiffResult
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, resultKey(requestID), &result)
	})
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", requestID, err)
	}
	return &result, nil
}

// getJSON decodes the value at key into v, mapping a missing key to
// ErrNotFound.
func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return &datatypes.SerializationError{MessageType: string(key), Op: "decode", Err: err}
		}
		return nil
	})
}

func withRetry(fn func() error) error {
	var err error
	for range maxConflictRetries {
		if err = fn(); !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
