// Package directory is the client for the shared directory store that every
// server process reads and writes.
//
// Two logical structures live in the store:
//
//   - the user directory, a hash named "users" whose fields are connection ids
//     and whose values are JSON encoded {"username", "isActive"} records
//   - the room set, a set named "rooms" holding every room name ever created
//
// The store itself is reached through the narrow Store interface (set, get
// and delete a hash field, read a whole hash, add and read set members) so the
// same Directory works against a process-local MemoryStore in development and
// tests, and against Redis (single node or cluster) in multi-process
// deployments.
//
// Nothing here is transactional. A read of the whole user hash followed by a
// broadcast may already be stale when it reaches clients if another process
// commits a join or leave in between; callers treat presence as eventually
// consistent.
package directory
