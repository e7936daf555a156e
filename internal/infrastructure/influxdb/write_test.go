package influxdb

import (
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ─── Mock Dependencies ──────────────────────────────────────────────

// fakeWriter captures points instead of sending them.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func newTestClient(w *fakeWriter, now time.Time) *Client {
	return &Client{
		writeAPI:  w,
		connected: true,
		now:       func() time.Time { return now },
	}
}

func tagsOf(p *write.Point) map[string]string {
	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	return tags
}

func fieldsOf(p *write.Point) map[string]any {
	fields := make(map[string]any)
	for _, field := range p.FieldList() {
		fields[field.Key] = field.Value
	}
	return fields
}

func TestWriteTemplateEvent_Point(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	w := &fakeWriter{}
	c := newTestClient(w, now)

	at := now.Add(-time.Second)
	c.WriteTemplateEvent(TemplateEvent{
		DeviceID:      "pedal",
		Kind:          "signal_hold",
		Event:         "completed",
		Topic:         "pedal/hb",
		Scenario:      "signal_complete",
		AccumulatedMS: 5000,
		At:            at,
	})
	c.WriteTemplateEvent(TemplateEvent{DeviceID: "door", Kind: "uid", Event: "accepted"})

	if len(w.points) != 2 {
		t.Fatalf("wrote %d points, want 2", len(w.points))
	}

	p := w.points[0]
	if p.Name() != MeasurementTemplateEvents || !p.Time().Equal(at) {
		t.Errorf("point = %s at %s", p.Name(), p.Time())
	}
	tags := tagsOf(p)
	if tags["device_id"] != "pedal" || tags["kind"] != "signal_hold" || tags["event"] != "completed" {
		t.Errorf("tags = %v", tags)
	}
	fields := fieldsOf(p)
	if fields["accumulated_ms"] != int64(5000) || fields["scenario"] != "signal_complete" || fields["topic"] != "pedal/hb" {
		t.Errorf("fields = %v", fields)
	}

	// Zero time is stamped; empty topic and scenario are omitted.
	second := w.points[1]
	if !second.Time().Equal(now) {
		t.Errorf("zero At stamped as %s, want %s", second.Time(), now)
	}
	if _, ok := fieldsOf(second)["scenario"]; ok {
		t.Error("empty scenario should not be written")
	}
}

func TestWriteConfigCommitAndStall(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	w := &fakeWriter{}
	c := newTestClient(w, now)

	c.WriteConfigCommit(12, "night", 4)
	c.WriteLivenessStall([]string{"apply", "persist"}, 6*time.Second)

	if len(w.points) != 3 {
		t.Fatalf("wrote %d points, want 3", len(w.points))
	}
	commit := w.points[0]
	if commit.Name() != MeasurementConfigCommits || tagsOf(commit)["profile"] != "night" {
		t.Errorf("commit point = %s %v", commit.Name(), tagsOf(commit))
	}
	if fieldsOf(commit)["generation"] != int64(12) {
		t.Errorf("commit fields = %v", fieldsOf(commit))
	}

	for i, op := range []string{"apply", "persist"} {
		p := w.points[i+1]
		if p.Name() != MeasurementLivenessStalls || tagsOf(p)["operation"] != op {
			t.Errorf("stall point %d = %s %v", i, p.Name(), tagsOf(p))
		}
		if fieldsOf(p)["since_ms"] != int64(6000) {
			t.Errorf("stall fields = %v", fieldsOf(p))
		}
	}
}

func TestWrite_Disconnected(t *testing.T) {
	w := &fakeWriter{}
	c := newTestClient(w, time.Now())
	c.connected = false

	c.WriteTemplateEvent(TemplateEvent{DeviceID: "door"})
	c.WriteConfigCommit(1, "default", 0)
	c.WriteLivenessStall([]string{"apply"}, time.Second)
	c.WritePoint("custom", nil, map[string]any{"v": 1})
	c.Flush()

	if len(w.points) != 0 || w.flushes != 0 {
		t.Errorf("disconnected client wrote %d points and flushed %d times", len(w.points), w.flushes)
	}
}
