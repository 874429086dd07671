// Package feed defines the neutral protocol shared by the feed synchronization
// engine and its collaborators: records and their ordering, cursor pages,
// queries, the document/media store contracts, the materialized view read by
// presentation code, and the error taxonomy.
//
// The package must not import anything under internal/.
package feed
