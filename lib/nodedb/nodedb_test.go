package nodedb

import (
	"errors"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"math/rand/v2"
	"sync"
	"testing"
	"time"
)

var now = time.Unix(1700000000, 0)

func positionInfo(num common.NodeNum, lat int32, ts uint32) *common.NodeInfo {
	return &common.NodeInfo{
		Num:      num,
		Position: &common.Position{LatitudeI: lat, LongitudeI: lat / 2, Time: ts},
	}
}

// TestPositionReorderIdempotent applies two position updates with T1 < T2 in
// both orders and expects the T2 position in both cases
func TestPositionReorderIdempotent(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		t1 := r.Uint32N(1 << 30)
		t2 := t1 + 1 + r.Uint32N(1000)
		lat1 := int32(r.Uint32N(900000000)) + 1
		lat2 := int32(r.Uint32N(900000000)) + 1

		forward := New()
		forward.ApplyNodeInfo(positionInfo(1, lat1, t1), now)
		forward.ApplyNodeInfo(positionInfo(1, lat2, t2), now)

		backward := New()
		backward.ApplyNodeInfo(positionInfo(1, lat2, t2), now)
		backward.ApplyNodeInfo(positionInfo(1, lat1, t1), now)

		a, _ := forward.Get(1)
		b, _ := backward.Get(1)
		if a.Position != b.Position {
			t.Fatalf("orders diverged: %+v vs %+v", a.Position, b.Position)
		}
		if a.Position.Time != t2 || a.Position.LatitudeI != lat2 {
			t.Fatalf("expected the T2 position, got %+v", a.Position)
		}
	}
}

// TestPositionFromPackets checks the staleness rule on the packet path
func TestPositionFromPackets(t *testing.T) {
	db := New()
	pkt := &common.MeshPacket{From: 7}

	db.ApplyPacket(pkt, &common.Position{LatitudeI: 10, Time: 200}, now)
	db.ApplyPacket(pkt, &common.Position{LatitudeI: 20, Time: 100}, now)
	r, _ := db.Get(7)
	if r.Position.LatitudeI != 10 {
		t.Errorf("stale packet position was applied: %+v", r.Position)
	}

	// equal timestamps are not older and replace the stored position
	db.ApplyPacket(pkt, &common.Position{LatitudeI: 30, Time: 200}, now)
	r, _ = db.Get(7)
	if r.Position.LatitudeI != 30 {
		t.Errorf("position with equal timestamp was rejected: %+v", r.Position)
	}

	if _, ok := db.ApplyPosition(7, &common.Position{LatitudeI: 40, Time: 50}, now); ok {
		t.Errorf("ApplyPosition accepted an older report")
	}

	// empty positions carry no information
	db.ApplyPacket(pkt, &common.Position{}, now)
	r, _ = db.Get(7)
	if r.Position.LatitudeI != 30 {
		t.Errorf("empty position overwrote the stored one")
	}
}

// TestTelemetryOverwrites checks that metrics always win and refresh last heard
func TestTelemetryOverwrites(t *testing.T) {
	db := New()
	db.ApplyTelemetry(3, &common.Telemetry{DeviceMetrics: &common.DeviceMetrics{BatteryLevel: 90}}, now)

	later := now.Add(time.Minute)
	db.ApplyTelemetry(3, &common.Telemetry{DeviceMetrics: &common.DeviceMetrics{BatteryLevel: 40}}, later)

	r, ok := db.Get(3)
	if !ok {
		t.Fatalf("record missing")
	}
	if r.DeviceMetrics.BatteryLevel != 40 {
		t.Errorf("battery = %d, want 40 (last applied wins)", r.DeviceMetrics.BatteryLevel)
	}
	if !r.LastHeard.Equal(later) {
		t.Errorf("LastHeard = %s, want %s", r.LastHeard, later)
	}

	db.ApplyTelemetry(3, &common.Telemetry{EnvironmentMetrics: &common.EnvironmentMetrics{Temperature: 21.5}}, later)
	r, _ = db.Get(3)
	if !r.HasEnvironmentMetrics || r.EnvironmentMetrics.Temperature != 21.5 || r.DeviceMetrics.BatteryLevel != 40 {
		t.Errorf("environment metrics must not clear device metrics: %+v", r)
	}
}

// TestApplyPacketRefreshesHeard checks last heard, snr and hop tracking
func TestApplyPacketRefreshesHeard(t *testing.T) {
	db := New()
	pkt := &common.MeshPacket{From: 9, RxSNR: 6.5, HopStart: 3, HopLimit: 1}

	r, changed := db.ApplyPacket(pkt, nil, now)
	if !changed {
		t.Fatalf("packet from unknown node must create a record")
	}
	if !r.LastHeard.Equal(now) || r.SNR != 6.5 || r.HopsAway != 2 || !r.HasHops {
		t.Errorf("unexpected record %+v", r)
	}

	// LastHeard never moves backwards
	db.ApplyPacket(pkt, nil, now.Add(-time.Hour))
	r, _ = db.Get(9)
	if !r.LastHeard.Equal(now) {
		t.Errorf("LastHeard moved backwards to %s", r.LastHeard)
	}

	db.ApplyPacket(pkt, &common.User{LongName: "Relay", ShortName: "R"}, now)
	r, _ = db.Get(9)
	if r.Name() != "Relay" {
		t.Errorf("Name() = %q", r.Name())
	}

	if _, ok := db.ApplyPacket(&common.MeshPacket{From: 0}, nil, now); ok {
		t.Errorf("packet without sender must be ignored")
	}
}

// TestApplyNodeInfoMerges checks that node info merges instead of replacing
func TestApplyNodeInfoMerges(t *testing.T) {
	db := New()
	db.ApplyNodeInfo(&common.NodeInfo{Num: 5, User: &common.User{LongName: "Alpha", MacAddr: []byte{1, 2}}}, now)
	db.ApplyNodeInfo(&common.NodeInfo{Num: 5, LastHeard: 1700000500, DeviceMetrics: &common.DeviceMetrics{BatteryLevel: 55}}, now)

	r, _ := db.Get(5)
	if !r.HasUser || r.User.LongName != "Alpha" {
		t.Errorf("user was lost by a later node info: %+v", r)
	}
	if !r.HasDeviceMetrics || r.DeviceMetrics.BatteryLevel != 55 {
		t.Errorf("metrics not applied: %+v", r)
	}
	if r.LastHeard.Unix() != 1700000500 {
		t.Errorf("LastHeard = %d", r.LastHeard.Unix())
	}

	// returned records do not share memory with the database
	r.User.MacAddr[0] = 99
	again, _ := db.Get(5)
	if again.User.MacAddr[0] != 1 {
		t.Errorf("returned record aliases stored data")
	}
}

// TestApplyNodeInfoKeepsLinkQuality checks that entries without hop count or
// SNR leave the known values alone
func TestApplyNodeInfoKeepsLinkQuality(t *testing.T) {
	db := New()
	db.ApplyNodeInfo(&common.NodeInfo{Num: 7, SNR: 4.5, HopsAway: 3, HasHopsAway: true}, now)
	db.ApplyNodeInfo(&common.NodeInfo{Num: 7, User: &common.User{LongName: "Seven"}}, now)

	r, _ := db.Get(7)
	if !r.HasHops || r.HopsAway != 3 {
		t.Errorf("hops = %d (%v), want 3", r.HopsAway, r.HasHops)
	}
	if r.SNR != 4.5 {
		t.Errorf("SNR = %v, want 4.5", r.SNR)
	}

	// a reported hop count of zero is a direct neighbour
	db.ApplyNodeInfo(&common.NodeInfo{Num: 7, HasHopsAway: true}, now)
	r, _ = db.Get(7)
	if !r.HasHops || r.HopsAway != 0 {
		t.Errorf("hops = %d (%v), want 0", r.HopsAway, r.HasHops)
	}

	db.ApplyNodeInfo(&common.NodeInfo{Num: 8}, now)
	if r, _ := db.Get(8); r.HasHops {
		t.Errorf("node without reported hops has HasHops set")
	}
}

// TestRemove checks explicit removal
func TestRemove(t *testing.T) {
	db := New()
	db.ApplyNodeInfo(&common.NodeInfo{Num: 1}, now)
	db.ApplyNodeInfo(&common.NodeInfo{Num: 2}, now)

	if !db.Remove(1) {
		t.Errorf("Remove(1) failed")
	}
	if db.Remove(1) {
		t.Errorf("second Remove(1) must report false")
	}
	if db.Len() != 1 {
		t.Errorf("Len() = %d, want 1", db.Len())
	}
}

// TestSnapshotReadOnly checks immutability of snapshots
func TestSnapshotReadOnly(t *testing.T) {
	db := New()
	db.ApplyNodeInfo(&common.NodeInfo{Num: 1, User: &common.User{LongName: "one"}}, now)
	snap := db.Snapshot()

	if err := snap.Put(NodeRecord{Num: 2}); !errors.Is(err, common.ErrNodeDBReadOnly) {
		t.Errorf("Put = %v, want ErrNodeDBReadOnly", err)
	}
	if err := snap.Delete(1); !errors.Is(err, common.ErrNodeDBReadOnly) {
		t.Errorf("Delete = %v, want ErrNodeDBReadOnly", err)
	}

	// later changes are not visible in the snapshot
	db.ApplyNodeInfo(&common.NodeInfo{Num: 2}, now)
	db.ApplyNodeInfo(&common.NodeInfo{Num: 1, User: &common.User{LongName: "renamed"}}, now)
	if snap.Len() != 1 {
		t.Errorf("snapshot Len() = %d, want 1", snap.Len())
	}
	r, _ := snap.Get(1)
	if r.User.LongName != "one" {
		t.Errorf("snapshot saw a later update: %q", r.User.LongName)
	}

	var empty Snapshot
	if empty.Len() != 0 || len(empty.Nodes()) != 0 {
		t.Errorf("zero snapshot must be empty")
	}
}

// TestSeed checks seeding a fresh database from a snapshot
func TestSeed(t *testing.T) {
	old := New()
	old.ApplyNodeInfo(&common.NodeInfo{Num: 1, User: &common.User{LongName: "one"}}, now)
	old.ApplyNodeInfo(&common.NodeInfo{Num: 2}, now)

	fresh := New()
	if n := fresh.Seed(old.Snapshot()); n != 2 {
		t.Errorf("Seed() = %d, want 2", n)
	}
	r, ok := fresh.Get(1)
	if !ok || r.User.LongName != "one" {
		t.Errorf("seeded record missing: %+v", r)
	}

	nodes := fresh.Snapshot().Nodes()
	if len(nodes) != 2 || nodes[0].Num != 1 || nodes[1].Num != 2 {
		t.Errorf("Nodes() not ordered: %+v", nodes)
	}
}

// TestConcurrentReaders takes snapshots while the writer applies updates
func TestConcurrentReaders(t *testing.T) {
	db := New()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(4)
	for i := 0; i < 4; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, r := range db.Snapshot().Nodes() {
					_ = r.String()
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		num := common.NodeNum(i%50 + 1)
		db.ApplyPacket(&common.MeshPacket{From: num}, &common.Telemetry{DeviceMetrics: &common.DeviceMetrics{BatteryLevel: uint32(i % 100)}}, now)
	}
	close(stop)
	wg.Wait()

	if db.Len() != 50 {
		t.Errorf("Len() = %d, want 50", db.Len())
	}
}
