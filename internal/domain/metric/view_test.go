package metric

import (
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func reading(id string, value float64, at time.Time) Reading {
	return Reading{ID: ID(id), Kind: KindHeartRate, Value: value, RecordedAt: at}
}

func TestView_UpsertDistinctNewestFirst(t *testing.T) {
	v := NewView(10)
	for i := 0; i < 5; i++ {
		v.Upsert(reading(fmt.Sprintf("%d", i), float64(60+i), t0.Add(time.Duration(i)*time.Minute)))
	}
	got := v.Readings()
	if len(got) != 5 {
		t.Fatalf("expected 5 readings, got %d", len(got))
	}
	for i, r := range got {
		want := ID(fmt.Sprintf("%d", 4-i))
		if r.ID != want {
			t.Errorf("position %d: expected id %q, got %q", i, want, r.ID)
		}
	}
}

func TestView_UpsertSameTimestampKeepsArrivalOrder(t *testing.T) {
	v := NewView(10)
	v.Upsert(reading("a", 1, t0))
	v.Upsert(reading("b", 2, t0))
	v.Upsert(reading("c", 3, t0))
	got := v.Readings()
	if got[0].ID != "c" || got[1].ID != "b" || got[2].ID != "a" {
		t.Errorf("expected arrival order c,b,a, got %v,%v,%v", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestView_UpsertNeverExceedsCap(t *testing.T) {
	v := NewView(3)
	for i := 0; i < 10; i++ {
		v.Upsert(reading(fmt.Sprintf("%d", i), float64(i), t0.Add(time.Duration(i)*time.Second)))
		if v.Len() > 3 {
			t.Fatalf("view exceeded cap: %d", v.Len())
		}
	}
	got := v.Readings()
	if got[0].ID != "9" || got[2].ID != "7" {
		t.Errorf("expected newest three (9..7), got %v..%v", got[0].ID, got[2].ID)
	}
}

func TestView_UpsertRedeliveryReplacesValue(t *testing.T) {
	v := NewView(10)
	v.Upsert(reading("1", 70, t0))
	v.Upsert(reading("2", 72, t0.Add(time.Minute)))
	v.Upsert(reading("1", 75, t0))
	if v.Len() != 2 {
		t.Fatalf("expected 2 readings, got %d", v.Len())
	}
	r, ok := v.Get("1")
	if !ok {
		t.Fatal("expected reading 1 to be present")
	}
	if r.Value != 75 {
		t.Errorf("expected value 75, got %v", r.Value)
	}
}

func TestView_UpsertStaleTimestampStillWins(t *testing.T) {
	v := NewView(10)
	v.Upsert(reading("1", 70, t0.Add(time.Hour)))
	v.Upsert(reading("1", 65, t0))
	r, _ := v.Get("1")
	if r.Value != 65 {
		t.Errorf("expected last received value 65, got %v", r.Value)
	}
}

func TestView_UpsertInvalidIgnored(t *testing.T) {
	v := NewView(10)
	if v.Upsert(Reading{Kind: KindGlucose, Value: 1}) {
		t.Error("expected upsert without id to be rejected")
	}
	if v.Upsert(Reading{ID: "1", Value: 1}) {
		t.Error("expected upsert without kind to be rejected")
	}
	if !v.Empty() {
		t.Errorf("expected empty view, got %d", v.Len())
	}
}

func TestView_ReplaceDiscardsPrior(t *testing.T) {
	v := NewView(10)
	v.Upsert(reading("1", 70, t0))
	v.Replace([]Reading{reading("2", 80, t0)})
	if v.Len() != 1 {
		t.Fatalf("expected 1 reading, got %d", v.Len())
	}
	if _, ok := v.Get("1"); ok {
		t.Error("expected reading 1 to be discarded")
	}
}

func TestView_ReadingsIsCopy(t *testing.T) {
	v := NewView(10)
	v.Upsert(reading("1", 70, t0))
	got := v.Readings()
	got[0].Value = 999
	r, _ := v.Get("1")
	if r.Value != 70 {
		t.Errorf("mutating the copy changed the view: %v", r.Value)
	}
}

func TestNormalize_DeduplicatesLastWins(t *testing.T) {
	out := Normalize([]Reading{
		reading("1", 70, t0),
		reading("2", 71, t0.Add(time.Minute)),
		reading("1", 73, t0),
	}, 0)
	if len(out) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(out))
	}
	if out[0].ID != "2" {
		t.Errorf("expected newest first, got %q", out[0].ID)
	}
	if out[1].Value != 73 {
		t.Errorf("expected last copy of id 1 (73), got %v", out[1].Value)
	}
}

func TestNormalize_Truncates(t *testing.T) {
	var in []Reading
	for i := 0; i < 30; i++ {
		in = append(in, reading(fmt.Sprintf("%d", i), 1, t0.Add(time.Duration(i)*time.Minute)))
	}
	out := Normalize(in, 20)
	if len(out) != 20 {
		t.Fatalf("expected 20 readings, got %d", len(out))
	}
	if out[0].ID != "29" {
		t.Errorf("expected newest id 29 first, got %q", out[0].ID)
	}
}

func TestClone_Empty(t *testing.T) {
	if Clone(nil) != nil {
		t.Error("expected nil clone of nil")
	}
}
