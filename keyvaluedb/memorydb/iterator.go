package memorydb

import (
	"bytes"
	"errors"
	"maps"
	"slices"
)

// snapshot is an iterator over the content of the database at the time it was created.
type snapshot struct {
	keys   [][]byte
	data   map[string][]byte
	decode DecodeFn
	pos    int
}

// newSnapshot copies the content of "db", the caller must hold the lock.
func newSnapshot(db map[string][]byte, decode DecodeFn) *snapshot {
	s := &snapshot{data: maps.Clone(db), decode: decode, pos: -1}
	s.keys = make([][]byte, 0, len(db))
	for k := range db {
		s.keys = append(s.keys, []byte(k))
	}
	slices.SortFunc(s.keys, bytes.Compare)
	return s
}

func (s *snapshot) moveTo(pos int) *snapshot {
	if pos < 0 || pos >= len(s.keys) {
		pos = -1
	}
	s.pos = pos
	return s
}

func (s *snapshot) seek(key []byte) *snapshot {
	pos, _ := slices.BinarySearchFunc(s.keys, key, bytes.Compare)
	return s.moveTo(pos)
}

func (s *snapshot) Valid() bool { return s.pos >= 0 }

func (s *snapshot) Next() {
	if s.Valid() {
		s.moveTo(s.pos + 1)
	}
}

func (s *snapshot) Prev() {
	if s.Valid() {
		s.moveTo(s.pos - 1)
	}
}

func (s *snapshot) Key() []byte {
	if !s.Valid() {
		return nil
	}
	return s.keys[s.pos]
}

func (s *snapshot) Value(v any) error {
	if !s.Valid() {
		return errors.New("iterator is not valid")
	}
	return s.decode(s.data[string(s.keys[s.pos])], v)
}

func (s *snapshot) Close() error { return nil }
