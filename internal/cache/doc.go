// Package cache implements the Cache Store used by the request executor.
//
// Entries carry their own TTL and expire lazily on read. The store is
// bounded: inserting past capacity evicts the oldest-inserted entry
// (FIFO, not LRU).
package cache
