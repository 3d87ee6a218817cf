package app

import (
	"strings"
)

// shortID truncates long IDs for readable logging.
func shortID(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// nz returns fallback if s is empty or whitespace-only.
func nz(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// reverseEvents flips a batch in place, turning arrival order into newest first.
func reverseEvents(events []TradeEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

// recentIDs is a bounded set of processed trade ids. The oldest id is
// evicted once capacity is reached.
type recentIDs struct {
	capacity int
	order    []string
	next     int
	set      map[string]struct{}
}

func newRecentIDs(capacity int) *recentIDs {
	if capacity <= 0 {
		capacity = 2048
	}
	return &recentIDs{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		set:      make(map[string]struct{}, capacity),
	}
}

// Add records id and reports whether it was new.
func (r *recentIDs) Add(id string) bool {
	if _, ok := r.set[id]; ok {
		return false
	}
	if len(r.order) < r.capacity {
		r.order = append(r.order, id)
	} else {
		delete(r.set, r.order[r.next])
		r.order[r.next] = id
		r.next = (r.next + 1) % r.capacity
	}
	r.set[id] = struct{}{}
	return true
}

func (r *recentIDs) Len() int {
	return len(r.set)
}
