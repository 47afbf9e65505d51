// Package crawler defines the contracts and value types shared by the crawl
// scheduler and its collaborators: fetching, archiving, publishing, hashing
// and time.
package crawler
