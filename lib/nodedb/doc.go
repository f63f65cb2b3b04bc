// Package nodedb mirrors the node database of the radio locally.
//
// The device reports nodes during the config handshake (one NodeInfo per
// node) and afterwards every packet heard from a node carries fresh
// information about it. These updates arrive unordered, so the database
// merges them with fixed rules:
//
//   - Records are keyed by node number and created on first sight.
//   - A position is accepted only if its timestamp is not older than the
//     stored one. Applying two reports in either order converges to the newer.
//   - Device and environment metrics always overwrite and refresh the
//     last-heard time. When two readings conflict the one applied last wins.
//   - Records are never evicted because a node went quiet. Remove is only
//     called when the device confirms the removal of a node.
//
// Concurrency: the owning connection applies all updates from its reader
// goroutine. Readers on other goroutines use Get or Snapshot, records are
// replaced copy-on-write in an xsync.MapOf so they never see partial updates.
//
// Snapshot is the external read-only view. Its Put and Delete methods always
// fail with common.ErrNodeDBReadOnly. A snapshot can seed the database of a
// new connection (see NodeDB.Seed).
package nodedb
