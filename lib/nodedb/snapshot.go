package nodedb

import (
	"github.com/ValentinKolb/meshlink/mesh/common"
	"iter"
	"sort"
	"time"
)

// Snapshot is an immutable copy of a node database. All mutating methods fail
// with common.ErrNodeDBReadOnly. The zero value is an empty snapshot.
type Snapshot struct {
	records map[common.NodeNum]*NodeRecord
	version uint64
	takenAt time.Time
}

// Get returns a copy of the record of a node
func (s Snapshot) Get(num common.NodeNum) (NodeRecord, bool) {
	r, ok := s.records[num]
	if !ok {
		return NodeRecord{}, false
	}
	return *r.clone(), true
}

// Len returns the number of nodes in the snapshot
func (s Snapshot) Len() int {
	return len(s.records)
}

// Version returns the database version the snapshot was taken at
func (s Snapshot) Version() uint64 {
	return s.version
}

// TakenAt returns the time the snapshot was taken
func (s Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// Nodes returns copies of all records ordered by node number
func (s Snapshot) Nodes() []NodeRecord {
	out := make([]NodeRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// ByLastHeard returns copies of all records, most recently heard first
func (s Snapshot) ByLastHeard() []NodeRecord {
	out := s.Nodes()
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastHeard.After(out[j].LastHeard) })
	return out
}

// All iterates over copies of all records in node number order
func (s Snapshot) All() iter.Seq2[common.NodeNum, NodeRecord] {
	return func(yield func(common.NodeNum, NodeRecord) bool) {
		for _, r := range s.Nodes() {
			if !yield(r.Num, r) {
				return
			}
		}
	}
}

// Put always fails, a snapshot is read-only
func (s Snapshot) Put(NodeRecord) error {
	return common.ErrNodeDBReadOnly
}

// Delete always fails, a snapshot is read-only
func (s Snapshot) Delete(common.NodeNum) error {
	return common.ErrNodeDBReadOnly
}
