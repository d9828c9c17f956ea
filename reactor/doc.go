// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor implements the single-threaded poll(2)-based event loop
// that owns the listener socket and the fixed-capacity set of active
// wsproto connections: accept admission, per-connection read/write
// servicing, deadline enforcement, and compaction.
package reactor
