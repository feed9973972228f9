package metric

import "sort"

// View is a bounded, de-duplicated, newest-first sequence of readings.
// It is not safe for concurrent use; owners guard it themselves.
type View struct {
	limit    int
	readings []Reading
}

// NewView returns an empty view retaining at most limit readings. A limit of
// zero or less means unbounded.
func NewView(limit int) *View {
	return &View{limit: limit}
}

// Limit returns the configured cap.
func (v *View) Limit() int { return v.limit }

// Len returns the number of readings held.
func (v *View) Len() int { return len(v.readings) }

// Empty reports whether the view holds no readings.
func (v *View) Empty() bool { return len(v.readings) == 0 }

// Readings returns a copy of the current sequence.
func (v *View) Readings() []Reading {
	return Clone(v.readings)
}

// Replace discards the current contents and installs readings.
func (v *View) Replace(readings []Reading) {
	v.readings = Normalize(readings, v.limit)
}

// Upsert inserts r, or overwrites the reading sharing its identity. The
// newest arrival is placed first before ordering, so ties on RecordedAt keep
// arrival order. Invalid readings are ignored and Upsert reports false.
func (v *View) Upsert(r Reading) bool {
	if !r.Valid() {
		return false
	}
	next := make([]Reading, 0, len(v.readings)+1)
	next = append(next, r)
	for _, existing := range v.readings {
		if existing.ID == r.ID {
			continue
		}
		next = append(next, existing)
	}
	sortNewestFirst(next)
	v.readings = truncate(next, v.limit)
	return true
}

// Get returns the reading with the given identity.
func (v *View) Get(id ID) (Reading, bool) {
	for _, r := range v.readings {
		if r.ID == id {
			return r, true
		}
	}
	return Reading{}, false
}

// Normalize drops invalid readings, keeps only the last occurrence of each
// identity, orders newest-first and truncates to limit.
func Normalize(readings []Reading, limit int) []Reading {
	seen := make(map[ID]struct{}, len(readings))
	out := make([]Reading, 0, len(readings))
	// Walk backwards so the last delivered copy of an identity wins.
	for i := len(readings) - 1; i >= 0; i-- {
		r := readings[i]
		if !r.Valid() {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	reverse(out)
	sortNewestFirst(out)
	return truncate(out, limit)
}

// Clone returns a copy of readings, or nil when empty.
func Clone(readings []Reading) []Reading {
	if len(readings) == 0 {
		return nil
	}
	dup := make([]Reading, len(readings))
	copy(dup, readings)
	return dup
}

func sortNewestFirst(readings []Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].RecordedAt.After(readings[j].RecordedAt)
	})
}

func truncate(readings []Reading, limit int) []Reading {
	if limit > 0 && len(readings) > limit {
		return readings[:limit]
	}
	return readings
}

func reverse(readings []Reading) {
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
}
