package model

import (
	"time"
)

// Interval is a half-open [Start, End) time span.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// BlackoutTable holds the merged, buffered blackout intervals for one locality
// and one calendar day, sorted by start time.
type BlackoutTable struct {
	Locality  string     `json:"locality"`
	Day       time.Time  `json:"day"`
	Intervals []Interval `json:"intervals"`
	FetchedAt time.Time  `json:"fetched_at"`
}
