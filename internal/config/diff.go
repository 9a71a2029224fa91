package config

import (
	"reflect"
	"sort"
)

// FeedChanges summarizes how the feed list moved between two configs.
// Tokens are never part of the summary.
type FeedChanges struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c FeedChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// DiffFeeds compares feed lists by id.
func DiffFeeds(oldCfg, newCfg *Config) FeedChanges {
	prev := map[string]FeedConfig{}
	if oldCfg != nil {
		for _, f := range oldCfg.Feeds {
			prev[f.ID] = f
		}
	}
	var out FeedChanges
	next := map[string]struct{}{}
	if newCfg != nil {
		for _, f := range newCfg.Feeds {
			next[f.ID] = struct{}{}
			p, ok := prev[f.ID]
			switch {
			case !ok:
				out.Added = append(out.Added, f.ID)
			case !reflect.DeepEqual(p, f):
				out.Changed = append(out.Changed, f.ID)
			}
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			out.Removed = append(out.Removed, id)
		}
	}
	sort.Strings(out.Added)
	sort.Strings(out.Removed)
	sort.Strings(out.Changed)
	return out
}
