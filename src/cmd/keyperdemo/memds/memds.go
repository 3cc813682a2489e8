// Package memds is a toy datasource.DataSource backed by BSON-encoded
// bytes in memory, standing in for a real backend purely to exercise
// Keyper end to end. Every document is round-tripped through
// bson.Marshal/Unmarshal on write/read, mirroring a wire-level store
// rather than holding live Go maps, to match Keyper's Mongo-flavored
// query language.
package memds

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"keyper/src/datasource"
	"keyper/src/entitykey"
	"keyper/src/helpers"
	"keyper/src/keyquery"
	"keyper/src/keyutil"

	"github.com/google/uuid"
)

// Store is an in-memory collection of BSON-encoded documents, keyed by
// their stringified primary key.
type Store struct {
	pkFields []string

	mu   sync.Mutex
	docs map[string][]byte
	seq  []string // insertion order, for a stable default iteration order
}

// New constructs an empty Store whose documents are keyed by pkFields.
func New(pkFields ...string) *Store {
	return &Store{pkFields: pkFields, docs: make(map[string][]byte)}
}

// Seed pre-populates the store, auto-generating a uuid for the primary
// key field when it's missing and there's exactly one pk field — mainly
// so demo code can seed child records before their parent exists.
func (s *Store) Seed(entities ...keyutil.Entity) []keyutil.Entity {
	out := make([]keyutil.Entity, 0, len(entities))
	for _, e := range entities {
		stored, err := s.Create(context.Background(), e, nil)
		if err != nil {
			panic(fmt.Sprintf("memds: seeding failed: %v", err))
		}
		out = append(out, stored)
	}
	return out
}

func (s *Store) put(pk entitykey.Key, e keyutil.Entity) error {
	encoded, err := helpers.EncodeBSON(e)
	if err != nil {
		return fmt.Errorf("memds: encoding entity: %w", err)
	}
	key := pk.String()
	if _, exists := s.docs[key]; !exists {
		s.seq = append(s.seq, key)
	}
	s.docs[key] = encoded
	return nil
}

func (s *Store) get(key string) (keyutil.Entity, bool, error) {
	raw, ok := s.docs[key]
	if !ok {
		return nil, false, nil
	}
	decoded, err := helpers.DecodeBSON(raw)
	if err != nil {
		return nil, false, fmt.Errorf("memds: decoding entity: %w", err)
	}
	return keyutil.Entity(decoded), true, nil
}

// FindOne implements datasource.DataSource.
func (s *Store) FindOne(_ context.Context, pk entitykey.Key, _ datasource.Options) (keyutil.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok, err := s.get(pk.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("memds: %w: pk=%s", datasource.ErrNotFound, pk.String())
	}
	return e, nil
}

// Find implements datasource.DataSource: a full scan in insertion
// order, filtered by params.Where, ordered by params.OrderBy, then
// paged by params.Offset/params.Limit.
func (s *Store) Find(_ context.Context, params datasource.FetchParams, _ datasource.Options) (datasource.Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []keyutil.Entity
	for _, key := range s.seq {
		e, ok, err := s.get(key)
		if err != nil {
			return datasource.Slice{}, err
		}
		if !ok {
			continue
		}
		pass, err := keyquery.Test(e, params.Where)
		if err != nil {
			return datasource.Slice{}, err
		}
		if pass {
			matched = append(matched, e)
		}
	}

	if params.OrderBy != nil {
		cmp := keyquery.BuildComparator(params.OrderBy)
		sort.SliceStable(matched, func(i, j int) bool { return cmp(matched[i], matched[j]) < 0 })
	}

	total := len(matched)
	start := 0
	if params.Offset != nil {
		start = *params.Offset
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if params.Limit != nil {
		end = start + *params.Limit
		if end > len(matched) {
			end = len(matched)
		}
	}
	return datasource.Slice{Items: matched[start:end], Total: total}, nil
}

// FindAll implements datasource.DataSource. Missing pks are silently
// omitted, per the interface's contract.
func (s *Store) FindAll(_ context.Context, pks []entitykey.Key, _ datasource.Options) ([]keyutil.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]keyutil.Entity, 0, len(pks))
	for _, pk := range pks {
		e, ok, err := s.get(pk.String())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Create implements datasource.DataSource. If payload is missing any
// pk component and there's exactly one pk field, a uuid is generated
// for it.
func (s *Store) Create(_ context.Context, payload keyutil.Entity, _ datasource.Options) (keyutil.Entity, error) {
	stored := keyutil.CloneEntity(payload)
	if len(s.pkFields) == 1 {
		field := s.pkFields[0]
		if v, ok := stored[field]; !ok || v == nil {
			stored[field] = uuid.NewString()
		}
	}
	pk, err := entitykey.FromEntity(stored, s.pkFields)
	if err != nil {
		return nil, fmt.Errorf("memds: create: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(pk, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Update implements datasource.DataSource. Keyper may send either a
// full payload or a diff (collection.Update's opts.Diff); memds applies
// it as a shallow merge onto the existing document, matching a typical
// PATCH-style backend.
func (s *Store) Update(_ context.Context, pk entitykey.Key, payload keyutil.Entity, _ datasource.Options) (keyutil.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok, err := s.get(pk.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("memds: %w: pk=%s", datasource.ErrNotFound, pk.String())
	}
	merged := keyutil.CloneEntity(existing)
	for k, v := range payload {
		merged[k] = v
	}
	if err := s.put(pk, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete implements datasource.DataSource.
func (s *Store) Delete(_ context.Context, pk entitykey.Key, _ datasource.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pk.String()
	if _, ok := s.docs[key]; !ok {
		return fmt.Errorf("memds: %w: pk=%s", datasource.ErrNotFound, key)
	}
	delete(s.docs, key)
	for i, k := range s.seq {
		if k == key {
			s.seq = append(s.seq[:i], s.seq[i+1:]...)
			break
		}
	}
	return nil
}
