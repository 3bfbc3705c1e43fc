/*
Package volume manages named persistent volumes for stackd.

A Volume's lifecycle is independent of any single service: it is created
once, reused across restarts, and destroyed only on explicit teardown. The
Manager enforces that policy over a pluggable Driver that supplies the raw
backend primitives (exists/create/path/remove).

# Guarantees

  - Ensure is idempotent: if the volume exists it is reused unchanged and
    the same identity is returned; recreation never happens implicitly.
  - Concurrent Ensure calls for one volume are serialized by a per-volume
    mutex, so exactly one creation occurs even when two services share a
    volume and start in parallel.
  - Transient backend failures are retried a bounded number of times with
    exponential backoff before surfacing as a VolumeError.
  - Remove is the only destructive operation.

# Local driver

LocalDriver backs each volume with a directory under the configured base
path. The volume identity (a UUID assigned at creation) lives in
.stackd/volume.json inside the volume, so it survives process restarts and
disappears with the volume's data. The .stackd directory also hosts the
init script completion markers owned by the initrun package.

Host-path binds declared in a topology bypass this package entirely: they
are read/write pass-throughs with no lifecycle management.
*/
package volume
