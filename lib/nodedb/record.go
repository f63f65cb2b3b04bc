package nodedb

import (
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"time"
)

// NodeRecord is the local view of one remote node. Records are handed out by
// value, changing a returned record has no effect on the database.
type NodeRecord struct {
	Num common.NodeNum

	User    common.User
	HasUser bool

	Position    common.Position
	HasPosition bool

	DeviceMetrics    common.DeviceMetrics
	HasDeviceMetrics bool

	EnvironmentMetrics    common.EnvironmentMetrics
	HasEnvironmentMetrics bool

	SNR        float32
	HopsAway   uint32
	HasHops    bool
	Channel    uint32
	IsFavorite bool

	// LastHeard is the last time anything was heard from the node
	LastHeard time.Time
}

// Name returns the long name, the short name or the node id, whichever is
// known first
func (r NodeRecord) Name() string {
	switch {
	case r.HasUser && r.User.LongName != "":
		return r.User.LongName
	case r.HasUser && r.User.ShortName != "":
		return r.User.ShortName
	default:
		return r.Num.String()
	}
}

func (r NodeRecord) String() string {
	s := fmt.Sprintf("%s (%s)", r.Num, r.Name())
	if r.HasPosition {
		s += fmt.Sprintf(" pos=%.5f,%.5f", r.Position.Latitude(), r.Position.Longitude())
	}
	if r.HasDeviceMetrics {
		s += fmt.Sprintf(" battery=%d%%", r.DeviceMetrics.BatteryLevel)
	}
	if !r.LastHeard.IsZero() {
		s += " heard=" + r.LastHeard.Format(time.RFC3339)
	}
	return s
}

// clone returns a deep copy of the record
func (r *NodeRecord) clone() *NodeRecord {
	c := *r
	if r.User.MacAddr != nil {
		c.User.MacAddr = append([]byte(nil), r.User.MacAddr...)
	}
	return &c
}

// heard moves LastHeard forward, never backwards
func (r *NodeRecord) heard(t time.Time) {
	if t.After(r.LastHeard) {
		r.LastHeard = t
	}
}

// setUser replaces the identity of the node
func (r *NodeRecord) setUser(u *common.User) {
	r.User = *u
	r.User.MacAddr = append([]byte(nil), u.MacAddr...)
	r.HasUser = true
}

// setPosition applies the staleness rule: a position is accepted only if its
// timestamp is not older than the stored one. Empty positions are ignored.
// It returns false if the position was rejected.
func (r *NodeRecord) setPosition(p *common.Position) bool {
	if p.LatitudeI == 0 && p.LongitudeI == 0 && p.Altitude == 0 && p.Time == 0 {
		return false
	}
	if r.HasPosition && p.Time < r.Position.Time {
		return false
	}
	r.Position = *p
	r.HasPosition = true
	return true
}

// setTelemetry overwrites the metrics contained in t
func (r *NodeRecord) setTelemetry(dm *common.DeviceMetrics, em *common.EnvironmentMetrics) bool {
	changed := false
	if dm != nil {
		r.DeviceMetrics = *dm
		r.HasDeviceMetrics = true
		changed = true
	}
	if em != nil {
		r.EnvironmentMetrics = *em
		r.HasEnvironmentMetrics = true
		changed = true
	}
	return changed
}
