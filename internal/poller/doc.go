// Package poller runs one fetch loop per configured feed.
//
// Each loop owns its feed's FeedState row: it fetches the document, decides
// which entries are new, records and enqueues them in publication order,
// then sleeps for the adaptively estimated interval.
package poller
