package store

import (
	"hash/fnv"
	"sync"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
)

// shardCount is the number of buckets in the concurrent (entity, kind) ->
// state map. Each bucket has its own lock, per spec.md §5's "concurrent
// map with per-bucket locks" shared-resource policy.
const shardCount = 64

type shard struct {
	mu     sync.RWMutex
	states map[entity.Key]*epkState
}

// stateMap is the concurrent map from (entity, kind) to epkState.
type stateMap struct {
	shards [shardCount]*shard
}

func newStateMap() *stateMap {
	m := &stateMap{}
	for i := range m.shards {
		m.shards[i] = &shard{states: make(map[entity.Key]*epkState)}
	}
	return m
}

func (m *stateMap) shardFor(k entity.Key) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k.String()))
	return m.shards[h.Sum64()%shardCount]
}

// getOrCreate returns the existing state for key, or lazily creates one
// (spec.md §3, "A state is created lazily the first time some computation
// references the (entity, kind)"). created reports whether this call
// created it.
func (m *stateMap) getOrCreate(key entity.Key) (state *epkState, created bool) {
	sh := m.shardFor(key)
	sh.mu.RLock()
	if s, ok := sh.states[key]; ok {
		sh.mu.RUnlock()
		return s, false
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.states[key]; ok {
		return s, false
	}
	s := newEPKState(key.E, key.K)
	sh.states[key] = s
	return s, true
}

// get returns the existing state for key without creating one.
func (m *stateMap) get(key entity.Key) (*epkState, bool) {
	sh := m.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.states[key]
	return s, ok
}

// forEachOfKind calls fn for every currently-tracked entity of kind k. Used
// by the façade's Entities snapshot.
func (m *stateMap) forEachOfKind(k lattice.KindID, fn func(key entity.Key, s *epkState)) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		for key, s := range sh.states {
			if key.K == k {
				fn(key, s)
			}
		}
		sh.mu.RUnlock()
	}
}

// forEach calls fn for every tracked (entity, kind) pair.
func (m *stateMap) forEach(fn func(key entity.Key, s *epkState)) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		for key, s := range sh.states {
			fn(key, s)
		}
		sh.mu.RUnlock()
	}
}
