// Package telemetry collects key/value diagnostics published by the control loop.
//
// Publishing is fire-and-forget: nothing in the control path reads values back
// from a Sink, and a slow or absent consumer never blocks a tick.
package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Sink receives diagnostic values.
type Sink interface {
	PutNumber(key string, value float64)
	PutBool(key string, value bool)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) PutNumber(string, float64) {}
func (discard) PutBool(string, bool)      {}

// Table keeps the latest value per key. It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	values  map[string]any
	updated time.Time
}

func NewTable() *Table {
	return &Table{values: make(map[string]any)}
}

func (t *Table) PutNumber(key string, value float64) { t.put(key, value) }
func (t *Table) PutBool(key string, value bool)      { t.put(key, value) }

func (t *Table) put(key string, value any) {
	t.mu.Lock()
	t.values[key] = value
	t.updated = time.Now()
	t.mu.Unlock()
}

// Number returns the last number published under key.
func (t *Table) Number(key string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key].(float64)
	return v, ok
}

// Bool returns the last flag published under key.
func (t *Table) Bool(key string) (bool, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key].(bool)
	return v, ok
}

// Keys returns the published keys in sorted order.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot copies the current values.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vals := make(map[string]any, len(t.values))
	for k, v := range t.values {
		vals[k] = v
	}
	return Snapshot{Time: t.updated, Values: vals}
}

// Snapshot is a point-in-time copy of a Table.
type Snapshot struct {
	Time   time.Time      `json:"time"`
	Values map[string]any `json:"values"`
}

// PublishFunc delivers a snapshot to a consumer. Errors are reported to the
// Publisher's error hook and never stop publishing.
type PublishFunc func(Snapshot) error

// Publisher periodically hands Table snapshots to a consumer.
type Publisher struct {
	table   *Table
	period  time.Duration
	publish PublishFunc
	onError func(error)
}

func NewPublisher(table *Table, period time.Duration, publish PublishFunc, onError func(error)) *Publisher {
	if onError == nil {
		onError = func(error) {}
	}
	return &Publisher{table: table, period: period, publish: publish, onError: onError}
}

// Run publishes until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := p.table.Snapshot()
			if snap.Time.IsZero() || snap.Time.Equal(last) {
				continue
			}
			last = snap.Time
			if err := p.publish(snap); err != nil {
				p.onError(err)
			}
		}
	}
}
