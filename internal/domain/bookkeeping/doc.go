// Package bookkeeping models external accounting providers, the connections
// an organization holds to them, and the outcome of syncing records.
package bookkeeping
