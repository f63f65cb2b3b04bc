package nodedb

import (
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("nodedb")

// NodeDB is the local mirror of the device's node database.
//
// All Apply*, Remove and Seed calls must come from a single goroutine (the
// reader of the owning connection). Get, Len and Snapshot may be called from
// any goroutine. Records are replaced copy-on-write so readers never observe
// a half applied update.
type NodeDB struct {
	records *xsync.MapOf[common.NodeNum, *NodeRecord]
	version atomic.Uint64
}

// New creates an empty node database
func New() *NodeDB {
	return &NodeDB{
		records: xsync.NewMapOf[common.NodeNum, *NodeRecord](),
	}
}

// --------------------------------------------------------------------------
// Writer API (single goroutine)
// --------------------------------------------------------------------------

// ApplyNodeInfo merges a node database entry sent by the device into the
// record of that node, creating it if necessary. now is used as the time the
// node was heard if the entry carries no last-heard time.
func (db *NodeDB) ApplyNodeInfo(info *common.NodeInfo, now time.Time) (NodeRecord, bool) {
	if info == nil || info.Num == 0 {
		return NodeRecord{}, false
	}

	heardAt := now
	if info.LastHeard != 0 {
		heardAt = time.Unix(int64(info.LastHeard), 0)
	}

	// a node info entry always creates or touches the record
	return db.update(info.Num, func(r *NodeRecord) bool {
		if info.User != nil {
			r.setUser(info.User)
		}
		if info.Position != nil && !r.setPosition(info.Position) {
			Logger.Debugf("ignoring stale position of %s (t=%d, stored t=%d)", info.Num, info.Position.Time, r.Position.Time)
		}
		r.setTelemetry(info.DeviceMetrics, nil)

		if info.SNR != 0 {
			r.SNR = info.SNR
		}
		if info.HasHopsAway {
			r.HopsAway = info.HopsAway
			r.HasHops = true
		}
		r.Channel = info.Channel
		r.IsFavorite = info.IsFavorite
		if info.LastHeard != 0 || info.DeviceMetrics != nil {
			r.heard(heardAt)
		}
		return true
	})
}

// ApplyPacket records that a packet was heard from its sender and merges the
// decoded payload (see codec.DecodePayload) into the sender's record:
// *common.Position, *common.User and *common.Telemetry are understood, other
// payloads only refresh the last-heard time, SNR and hop count.
func (db *NodeDB) ApplyPacket(pkt *common.MeshPacket, payload any, now time.Time) (NodeRecord, bool) {
	if pkt == nil || pkt.From == 0 || pkt.From == common.BroadcastNum {
		return NodeRecord{}, false
	}

	return db.update(pkt.From, func(r *NodeRecord) bool {
		r.heard(now)
		if pkt.RxSNR != 0 {
			r.SNR = pkt.RxSNR
		}
		if hops, ok := pkt.Hops(); ok {
			r.HopsAway = hops
			r.HasHops = true
		}

		switch p := payload.(type) {
		case *common.Position:
			if !r.setPosition(p) {
				Logger.Debugf("ignoring stale position of %s (t=%d, stored t=%d)", pkt.From, p.Time, r.Position.Time)
			}
		case *common.User:
			r.setUser(p)
		case *common.Telemetry:
			r.setTelemetry(p.DeviceMetrics, p.EnvironmentMetrics)
		}
		return true
	})
}

// ApplyPosition merges a position report using the staleness rule. It
// returns false if the report was older than the stored position.
func (db *NodeDB) ApplyPosition(num common.NodeNum, pos *common.Position, now time.Time) (NodeRecord, bool) {
	if num == 0 || pos == nil {
		return NodeRecord{}, false
	}
	return db.update(num, func(r *NodeRecord) bool {
		if !r.setPosition(pos) {
			return false
		}
		r.heard(now)
		return true
	})
}

// ApplyTelemetry overwrites the metrics of a node and refreshes its
// last-heard time. With conflicting readings the last applied one wins.
func (db *NodeDB) ApplyTelemetry(num common.NodeNum, t *common.Telemetry, now time.Time) (NodeRecord, bool) {
	if num == 0 || t == nil {
		return NodeRecord{}, false
	}
	return db.update(num, func(r *NodeRecord) bool {
		if !r.setTelemetry(t.DeviceMetrics, t.EnvironmentMetrics) {
			return false
		}
		r.heard(now)
		return true
	})
}

// Remove deletes a record. It must only be called for removals confirmed by
// the device, records are never dropped because a node went quiet.
func (db *NodeDB) Remove(num common.NodeNum) bool {
	if _, ok := db.records.LoadAndDelete(num); !ok {
		return false
	}
	db.version.Add(1)
	return true
}

// Seed copies the records of a snapshot (usually from a previous connection)
// into the database. Existing records with the same number are replaced.
func (db *NodeDB) Seed(s Snapshot) int {
	for num, r := range s.records {
		db.records.Store(num, r.clone())
	}
	if len(s.records) > 0 {
		db.version.Add(1)
	}
	return len(s.records)
}

// --------------------------------------------------------------------------
// Reader API (any goroutine)
// --------------------------------------------------------------------------

// Get returns a copy of the record of a node
func (db *NodeDB) Get(num common.NodeNum) (NodeRecord, bool) {
	r, ok := db.records.Load(num)
	if !ok {
		return NodeRecord{}, false
	}
	return *r.clone(), true
}

// Len returns the number of known nodes
func (db *NodeDB) Len() int {
	return db.records.Size()
}

// Version is incremented by every change and can be used to detect updates
func (db *NodeDB) Version() uint64 {
	return db.version.Load()
}

// Snapshot returns an immutable copy of the database
func (db *NodeDB) Snapshot() Snapshot {
	s := Snapshot{
		records: make(map[common.NodeNum]*NodeRecord, db.records.Size()),
		version: db.version.Load(),
		takenAt: time.Now(),
	}
	db.records.Range(func(num common.NodeNum, r *NodeRecord) bool {
		s.records[num] = r.clone()
		return true
	})
	return s
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// update applies fn to a copy of the record of num (a new record if unknown)
// and stores the copy if fn reports a change
func (db *NodeDB) update(num common.NodeNum, fn func(r *NodeRecord) bool) (NodeRecord, bool) {
	var r *NodeRecord
	if old, ok := db.records.Load(num); ok {
		r = old.clone()
	} else {
		r = &NodeRecord{Num: num}
	}

	if !fn(r) {
		return *r, false
	}

	db.records.Store(num, r)
	db.version.Add(1)
	return *r.clone(), true
}
