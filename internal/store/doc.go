// Package store is the durable log of download requests.
//
// Every request has one row in the requests table plus optional rows in the
// side tables (params, notifications, downloads, headers, bundles, extras).
// The in-memory registry is authoritative while the daemon runs; this store
// is the source of truth across restarts. Failures surface as DISK_BUSY.
package store
