package toolmgr

import (
	"sort"
	"sync"
	"sync/atomic"
)

// RecordKind classifies a LoadingRecord.
type RecordKind int

const (
	RecordSuccess RecordKind = iota
	RecordWarn
	RecordErr
)

func (k RecordKind) String() string {
	switch k {
	case RecordSuccess:
		return "success"
	case RecordWarn:
		return "warn"
	case RecordErr:
		return "error"
	}
	return "unknown"
}

// LoadingRecord is one human-readable outcome of loading a server.
type LoadingRecord struct {
	Kind    RecordKind
	Message string
}

// loadRecords keeps every record per server in arrival order.
type loadRecords struct {
	mu      sync.Mutex
	servers map[ServerName][]LoadingRecord
}

func newLoadRecords() *loadRecords {
	return &loadRecords{servers: make(map[ServerName][]LoadingRecord)}
}

func (r *loadRecords) append(server ServerName, rec LoadingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[server] = append(r.servers[server], rec)
}

func (r *loadRecords) snapshot() map[ServerName][]LoadingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[ServerName][]LoadingRecord, len(r.servers))
	for name, recs := range r.servers {
		out[name] = append([]LoadingRecord(nil), recs...)
	}
	return out
}

func (r *loadRecords) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = make(map[ServerName][]LoadingRecord)
}

// errors returns every Err record, ordered by server name.
func (r *loadRecords) errors() []LoadingRecord {
	snap := r.snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []LoadingRecord
	for _, name := range names {
		for _, rec := range snap[name] {
			if rec.Kind == RecordErr {
				out = append(out, rec)
			}
		}
	}
	return out
}

// staging holds processed batches until the next Update merges them. Only
// the orchestrator puts; only Update drains.
type staging struct {
	mu      sync.Mutex
	batches map[ServerName]stagedBatch
	seq     uint64
	dirty   atomic.Bool
}

func newStaging() *staging {
	return &staging{batches: make(map[ServerName]stagedBatch)}
}

// put replaces the server's batch. A newer listing from the same server
// supersedes one that has not been merged yet.
func (s *staging) put(server ServerName, b stagedBatch) {
	s.mu.Lock()
	s.seq++
	b.seq = s.seq
	s.batches[server] = b
	s.mu.Unlock()
	s.dirty.Store(true)
}

type serverBatch struct {
	server ServerName
	stagedBatch
}

// drain empties the staging area and returns its batches in arrival order.
func (s *staging) drain() []serverBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]serverBatch, 0, len(s.batches))
	for server, b := range s.batches {
		out = append(out, serverBatch{server: server, stagedBatch: b})
	}
	s.batches = make(map[ServerName]stagedBatch)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *staging) markDirty() { s.dirty.Store(true) }

// takeDirty clears the dirty flag and reports whether it was set.
func (s *staging) takeDirty() bool { return s.dirty.Swap(false) }

func (s *staging) reset() {
	s.mu.Lock()
	s.batches = make(map[ServerName]stagedBatch)
	s.mu.Unlock()
	s.dirty.Store(false)
}
