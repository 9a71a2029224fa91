// Package format composes the status text posted for an entry: title, links
// and a hashtag line built from categories, configured tags and keywords
// scraped from the linked pages.
package format
