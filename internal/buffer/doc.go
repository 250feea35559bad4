// Package buffer provides thread-safe buffering of framed log records.
//
// Each shard owns one active ShardBuffer. Records are serialized on Add and
// stored as newline-terminated lines, so the buffer's size accounting is
// exact: it equals the byte length of the block a flush will compress.
//
// # ShardBuffer
//
//	buf := buffer.New(shard, maxSizeBytes, maxRecords)
//	if err := buf.Add(rec); err != nil { ... }
//
//	drained := buf.Drain()
//	// drained.Framed is the newline-delimited block, one line per record
//	// buffer is now empty and ready for reuse
//
// # Flush decisions
//
// The buffer never flushes itself. The owning pipeline actor reads Stats()
// and asks the flush policy; because size check and age timer run in the
// same actor, the two triggers cannot race on one buffer.
package buffer
