// Package cache defines the durable, named cache storage behind the offline
// worker. Every deployed version owns one Store (named by its version tag);
// a Store maps request identity (method + absolute URL) to a full response
// snapshot. Two backends exist: a disk layout with temp file + rename writes,
// and a badger key-value database. The Storage also persists which store is
// currently active so a restarted process keeps serving the last good version.
package cache
