// Command searchcrawler crawls the web from a set of seed URLs, builds an
// inverted index of the pages it finds and keeps TF-IDF relevance scores for
// every term occurrence in a relational store.
//
// Usage:
//
//	searchcrawler crawl --config config.yaml
//	searchcrawler recompute --config config.yaml
//
// Every configuration key can also be set through the environment with the
// SEARCHCRAWLER_ prefix, for example SEARCHCRAWLER_STORE_DSN.
package main
