package nanogen

import (
	"encoding/binary"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
)

const defaultPrefixBlockSize = 256

// prefixEntry is a cached next-token distribution for one token prefix.
type prefixEntry struct {
	tokenIDs []int
	logits   []float32
}

// PrefixCache caches last-position logits keyed by a chained xxhash of the
// token prefix. Candidates generated from the same prompt share the prompt
// forward pass through it. Entries never expire; the least recently used
// prefix is evicted once capacity is reached.
type PrefixCache struct {
	mu        sync.Mutex
	blockSize int
	entries   *ttlcache.Cache[uint64, *prefixEntry]
	hits      int
	misses    int
}

// NewPrefixCache creates a cache holding at most capacity prefixes.
func NewPrefixCache(capacity int) *PrefixCache {
	if capacity < 1 {
		capacity = 1
	}
	return &PrefixCache{
		blockSize: defaultPrefixBlockSize,
		entries: ttlcache.New[uint64, *prefixEntry](
			ttlcache.WithCapacity[uint64, *prefixEntry](uint64(capacity)),
		),
	}
}

// ComputeHash computes the hash of token IDs with an optional prefix hash
func (pc *PrefixCache) ComputeHash(tokenIDs []int, prefixHash uint64) uint64 {
	h := xxhash.New()

	if prefixHash != 0 {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, prefixHash)
		h.Write(buf)
	}

	buf := make([]byte, 4)
	for _, tokenID := range tokenIDs {
		binary.LittleEndian.PutUint32(buf, uint32(tokenID))
		h.Write(buf)
	}

	return h.Sum64()
}

// Key hashes tokenIDs block by block, each block chained on the previous.
func (pc *PrefixCache) Key(tokenIDs []int) uint64 {
	var h uint64
	for start := 0; start < len(tokenIDs); start += pc.blockSize {
		end := min(start+pc.blockSize, len(tokenIDs))
		h = pc.ComputeHash(tokenIDs[start:end], h)
	}
	return h
}

// Get returns a copy of the cached logits for tokenIDs.
func (pc *PrefixCache) Get(tokenIDs []int) ([]float32, bool) {
	key := pc.Key(tokenIDs)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	item := pc.entries.Get(key)
	if item == nil || !slices.Equal(item.Value().tokenIDs, tokenIDs) {
		pc.misses++
		return nil, false
	}

	pc.hits++
	return slices.Clone(item.Value().logits), true
}

// Put stores a copy of logits for tokenIDs, evicting the least recently used
// entry when the cache is full.
func (pc *PrefixCache) Put(tokenIDs []int, logits []float32) {
	key := pc.Key(tokenIDs)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.entries.Set(key, &prefixEntry{
		tokenIDs: slices.Clone(tokenIDs),
		logits:   slices.Clone(logits),
	}, ttlcache.NoTTL)
}

// Stats returns the hit and miss counts.
func (pc *PrefixCache) Stats() (hits, misses int) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.hits, pc.misses
}

// Len returns the number of cached prefixes.
func (pc *PrefixCache) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.entries.Len()
}
