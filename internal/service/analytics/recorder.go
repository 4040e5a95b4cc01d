// Package analytics appends one record per completed exchange to a single
// write-once log document. The service never reads the log back; it exists
// for offline analysis.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/internal/event"
	"github.com/quadai/quad/internal/logging"
	"github.com/quadai/quad/internal/model/analytics"
	"github.com/quadai/quad/internal/storage"
)

// Recorder owns the analytics document. Appends are serialized through one
// mutex because the whole log is a single record on disk.
type Recorder struct {
	store *storage.Store
	mu    sync.Mutex
}

func New(store *storage.Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends rec to the log, assigning a sortable id and timestamp when
// the publisher left them empty.
func (r *Recorder) Record(ctx context.Context, rec analytics.Record) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.loadAll(ctx)
	if err != nil {
		return err
	}
	records = append(records, rec)

	if err := r.store.Put(ctx, records, "analytics"); err != nil {
		return apperr.Wrap(apperr.CodeStorageUnavailable, "analytics storage unavailable", err)
	}
	return nil
}

// Watch appends a record for every interaction event until ctx is canceled.
// Failures are logged and dropped; analytics never block or fail an exchange.
func (r *Recorder) Watch(ctx context.Context, bus *event.Bus) error {
	return bus.Subscribe(ctx, event.TypeInteractionRecorded, func(data []byte) {
		var rec analytics.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			logging.Warn().Err(err).Msg("unreadable interaction event")
			return
		}
		if err := r.Record(ctx, rec); err != nil {
			logging.Warn().Err(err).Msg("failed to append analytics record")
		}
	})
}

// loadAll expects r.mu to be held.
func (r *Recorder) loadAll(ctx context.Context) ([]analytics.Record, error) {
	var records []analytics.Record
	if err := r.store.Get(ctx, &records, "analytics"); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []analytics.Record{}, nil
		}
		return nil, apperr.Wrap(apperr.CodeStorageUnavailable, "analytics storage unavailable", err)
	}
	return records, nil
}
