// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/rlp"
	"github.com/zeebo/blake3"
)

// Storage key prefixes for store state
var (
	lengthPrefix  = []byte("rlen")
	startPrefix   = []byte("rsta")
	indexPrefix   = []byte("ridx")
	requestPrefix = []byte("rreq")
	keyListPrefix = []byte("rkey")
)

// Store is an append-only, index-addressed queue of pending requests.
// Consumed requests are cleared in place so positions in the key list stay
// stable for batch draining.
type Store[R Request] struct {
	db         database.Database
	namespace  []byte
	newRequest func() R

	length  uint64
	start   uint64
	indexes map[common.Address]uint64

	mu sync.RWMutex
}

// NewStore opens the store kept under namespace in db.
func NewStore[R Request](db database.Database, namespace string, newRequest func() R) (*Store[R], error) {
	s := &Store[R]{
		db:         db,
		namespace:  []byte(namespace),
		newRequest: newRequest,
		indexes:    make(map[common.Address]uint64),
	}

	var err error
	if s.length, err = s.readUint64(s.storageKey(lengthPrefix, nil)); err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	if s.start, err = s.readUint64(s.storageKey(startPrefix, nil)); err != nil {
		return nil, fmt.Errorf("failed to read queue start: %w", err)
	}
	return s, nil
}

// Len returns the number of keys ever appended.
func (s *Store[R]) Len() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

// Start returns the batch cursor.
func (s *Store[R]) Start() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.start
}

// SetStart moves the batch cursor.
func (s *Store[R]) SetStart(start uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Put(s.storageKey(startPrefix, nil), encodeUint64(start)); err != nil {
		return err
	}
	s.start = start
	return nil
}

// NextIndex returns the index the next request of account will receive.
func (s *Store[R]) NextIndex(account common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.requestCount(account)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

// Append assigns the next index of the request's account, persists it and
// appends its key to the queue.
func (s *Store[R]) Append(req R) (Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := req.RequestHeader()
	count, err := s.requestCount(header.Account)
	if err != nil {
		return Key{}, err
	}
	index := count + 1
	header.Index = index
	key := RequestKey(header.Account, index)

	data, err := rlp.EncodeToBytes(req)
	if err != nil {
		return Key{}, fmt.Errorf("failed to encode request: %w", err)
	}

	batch := s.db.NewBatch()
	if err := batch.Put(s.storageKey(requestPrefix, key[:]), data); err != nil {
		return Key{}, err
	}
	if err := batch.Put(s.storageKey(keyListPrefix, encodeUint64(s.length)), key[:]); err != nil {
		return Key{}, err
	}
	if err := batch.Put(s.storageKey(lengthPrefix, nil), encodeUint64(s.length+1)); err != nil {
		return Key{}, err
	}
	if err := batch.Put(s.storageKey(indexPrefix, header.Account.Bytes()), encodeUint64(index)); err != nil {
		return Key{}, err
	}
	if err := batch.Write(); err != nil {
		return Key{}, err
	}

	s.length++
	s.indexes[header.Account] = index
	return key, nil
}

// Get returns the request stored under key. The boolean is false when the
// slot is cleared or was never used.
func (s *Store[R]) Get(key Key) (R, bool, error) {
	var zero R

	s.mu.RLock()
	data, err := s.db.Get(s.storageKey(requestPrefix, key[:]))
	s.mu.RUnlock()
	if errors.Is(err, database.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}

	req := s.newRequest()
	if err := rlp.DecodeBytes(data, req); err != nil {
		return zero, false, fmt.Errorf("failed to decode request %s: %w", key, err)
	}
	return req, true, nil
}

// Clear resets the slot of key.
func (s *Store[R]) Clear(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(s.storageKey(requestPrefix, key[:]))
}

// KeyAt returns the i'th appended key.
func (s *Store[R]) KeyAt(i uint64) (Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i >= s.length {
		return Key{}, ErrIndexOutOfRange
	}
	data, err := s.db.Get(s.storageKey(keyListPrefix, encodeUint64(i)))
	if err != nil {
		return Key{}, err
	}
	return common.BytesToHash(data), nil
}

// =========================================================================
// Internal Functions
// =========================================================================

func (s *Store[R]) requestCount(account common.Address) (uint64, error) {
	if count, ok := s.indexes[account]; ok {
		return count, nil
	}
	count, err := s.readUint64(s.storageKey(indexPrefix, account.Bytes()))
	if err != nil {
		return 0, err
	}
	s.indexes[account] = count
	return count, nil
}

func (s *Store[R]) readUint64(key []byte) (uint64, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid counter length %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *Store[R]) storageKey(prefix, id []byte) []byte {
	h := blake3.New()
	h.Write(s.namespace)
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key.Bytes()
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
