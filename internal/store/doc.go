// Package store defines the persistence contracts of the crawler (frontier,
// pages, terms and occurrences) and the reconnect-and-retry policy shared by
// every backend. Implementations live in internal/storage; this package must
// not import database drivers or concrete clients.
package store
