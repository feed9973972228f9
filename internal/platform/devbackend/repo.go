package devbackend

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/thrive/vitalsync/internal/domain/metric"
)

// MetricRepo keeps every reading per user in memory, with integer ids like
// the production database.
type MetricRepo struct {
	mu     sync.Mutex
	nextID int64
	byUser map[string][]metric.Reading
	now    func() time.Time
}

// NewMetricRepo returns an empty repo.
func NewMetricRepo() *MetricRepo {
	return &MetricRepo{byUser: make(map[string][]metric.Reading), now: time.Now}
}

// Create stores a reading for user and returns it with its assigned id.
func (r *MetricRepo) Create(user string, in metric.NewReading) metric.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	recorded := r.now().UTC()
	if in.RecordedAt != nil {
		recorded = in.RecordedAt.UTC()
	}
	reading := metric.Reading{
		ID:         metric.ID(strconv.FormatInt(r.nextID, 10)),
		Kind:       in.Kind,
		Value:      in.Value,
		Unit:       in.Unit,
		RecordedAt: recorded,
	}
	r.byUser[user] = append(r.byUser[user], reading)
	return reading
}

// Latest returns up to limit of user's newest readings, optionally of one
// kind only.
func (r *MetricRepo) Latest(user, kind string, limit int) []metric.Reading {
	r.mu.Lock()
	all := r.byUser[user]
	out := make([]metric.Reading, 0, len(all))
	for _, reading := range all {
		if kind != "" && reading.Kind != kind {
			continue
		}
		out = append(out, reading)
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EHRLink is a user's simulated EHR connection.
type EHRLink struct {
	PatientID   string
	FHIRBaseURL string
	ExpiresAt   time.Time
}

// EHRRegistry tracks pending authorization states and established links.
type EHRRegistry struct {
	mu      sync.Mutex
	pending map[string]string // state -> user
	links   map[string]EHRLink
}

func NewEHRRegistry() *EHRRegistry {
	return &EHRRegistry{pending: make(map[string]string), links: make(map[string]EHRLink)}
}

func (e *EHRRegistry) begin(state, user string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[state] = user
}

func (e *EHRRegistry) complete(state string, link EHRLink) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	user, ok := e.pending[state]
	if !ok {
		return "", false
	}
	delete(e.pending, state)
	e.links[user] = link
	return user, true
}

func (e *EHRRegistry) link(user string) (EHRLink, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[user]
	return l, ok
}

func (e *EHRRegistry) unlink(user string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.links, user)
}
