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
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// MemoryRequestStore is an in-process RequestStore.
type MemoryRequestStore struct {
	mu   sync.RWMutex
	reqs map[string]*datatypes.ComparisonRequest
}

// NewMemoryRequestStore creates an empty store.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{reqs: make(map[string]*datatypes.ComparisonRequest)}
}

// Create implements RequestStore.
func (s *MemoryRequestStore) Create(_ context.Context, req *datatypes.ComparisonRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reqs[req.RequestID]; ok {
		return fmt.Errorf("request %s: %w", req.RequestID, datatypes.ErrAlreadyExists)
	}
	s.reqs[req.RequestID] = req.Clone()
	return nil
}

// Get implements RequestStore.
func (s *MemoryRequestStore) Get(_ context.Context, id string) (*datatypes.ComparisonRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.reqs[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, datatypes.ErrNotFound)
	}
	return req.Clone(), nil
}

// Update implements RequestStore.
func (s *MemoryRequestStore) Update(_ context.Context, req *datatypes.ComparisonRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.reqs[req.RequestID]
	if !ok {
		return fmt.Errorf("request %s: %w", req.RequestID, datatypes.ErrNotFound)
	}
	if err := checkUpdate(stored, req); err != nil {
		return err
	}
	s.reqs[req.RequestID] = req.Clone()
	return nil
}

// List implements RequestStore.
func (s *MemoryRequestStore) List(_ context.Context, statuses ...datatypes.Status) ([]*datatypes.ComparisonRequest, error) {
	s.mu.RLock()
	out := make([]*datatypes.ComparisonRequest, 0, len(s.reqs))
	for _, req := range s.reqs {
		if wantStatus(statuses, req.Status) {
			out = append(out, req.Clone())
		}
	}
	s.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

// MemoryResultStore is an in-process ResultStore.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]*datatypes.GitDiffResult
}

// NewMemoryResultStore creates an empty store.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[string]*datatypes.GitDiffResult)}
}

// Put implements ResultStore.
func (s *MemoryResultStore) Put(_ context.Context, result *datatypes.GitDiffResult) error {
	if result == nil || result.RequestID == "" {
		return errors.New("result request id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.RequestID]; ok {
		return fmt.Errorf("result %s: %w", result.RequestID, datatypes.ErrAlreadyExists)
	}
	s.results[result.RequestID] = result.Clone()
	return nil
}

// Get implements ResultStore.
func (s *MemoryResultStore) Get(_ context.Context, requestID string) (*datatypes.GitDiffResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[requestID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", requestID, datatypes.ErrNotFound)
	}
	return result.Clone(), nil
}
