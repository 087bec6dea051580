// Package storage persists the user directory so mention lookups survive
// restarts. Message history is never stored.
package storage
