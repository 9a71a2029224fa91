// Package feed turns RSS and Atom documents into one internal entry model.
//
// Protocol types (gofeed, rss) never leave this package: the poller and the
// interval estimator only see Feed and Entry.
package feed
