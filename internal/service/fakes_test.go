package service

import (
	"context"
	"errors"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"plate-node/internal/domain/detection"
	"plate-node/internal/repository"
)

type fakeSource struct {
	mu     sync.Mutex
	frames int
	reads  int
	err    error
}

func (s *fakeSource) TryReadFrame(ctx context.Context) (image.Image, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	if s.reads >= s.frames {
		return nil, false, nil
	}
	s.reads++
	return image.NewGray(image.Rect(0, 0, 64, 32)), true, nil
}

type fakeDetector struct {
	mu      sync.Mutex
	calls   int
	failOn  int
	noCands bool
}

func (d *fakeDetector) Detect(ctx context.Context, frame image.Image) ([]detection.Candidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls == d.failOn {
		return nil, errors.New("inference failed")
	}
	if d.noCands {
		return nil, nil
	}
	return []detection.Candidate{{Box: detection.BoundingBox{Width: 10, Height: 5}, Confidence: 0.9}}, nil
}

// fakeAssembler hands out one batch of records per call.
type fakeAssembler struct {
	mu      sync.Mutex
	batches [][]detection.VehicleDetectionData
	calls   int
	panicOn int
}

func (a *fakeAssembler) Assemble(ctx context.Context, frame image.Image, cands []detection.Candidate) []detection.VehicleDetectionData {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls == a.panicOn {
		panic("corrupt frame")
	}
	if len(a.batches) == 0 {
		return nil
	}
	batch := a.batches[0]
	a.batches = a.batches[1:]
	return batch
}

type fakeReporter struct {
	mu         sync.Mutex
	registered int
	heartbeats int
	sent       []detection.VehicleDetectionData
	failSend   bool
	failReg    bool
}

func (r *fakeReporter) RegisterNode(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered++
	if r.failReg {
		return errors.New("hub unreachable")
	}
	return nil
}

func (r *fakeReporter) SendHeartbeat(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	return r.heartbeats == 1
}

func (r *fakeReporter) SendDetection(ctx context.Context, det detection.VehicleDetectionData) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSend {
		return false, errors.New("hub returned 500")
	}
	r.sent = append(r.sent, det)
	return true, nil
}

func (r *fakeReporter) sentCopy() []detection.VehicleDetectionData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]detection.VehicleDetectionData(nil), r.sent...)
}

type fakeSaver struct{}

func (fakeSaver) Save(img image.Image, id uuid.UUID, at time.Time) (string, error) {
	return id.String() + ".jpg", nil
}

type fakeOutbox struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*repository.OutboxEntry
	order   []uuid.UUID
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{entries: make(map[uuid.UUID]*repository.OutboxEntry)}
}

func (o *fakeOutbox) Enqueue(ctx context.Context, det detection.VehicleDetectionData) error {
	entry, err := repository.NewOutboxEntry(det)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[entry.ID] = &entry
	o.order = append(o.order, entry.ID)
	return nil
}

func (o *fakeOutbox) ListPending(ctx context.Context, limit int) ([]repository.OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []repository.OutboxEntry
	for _, id := range o.order {
		if e := o.entries[id]; e.Status == repository.StatusPending {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempts < out[j].Attempts })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *fakeOutbox) MarkSent(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	o.entries[id].Status = repository.StatusSent
	o.entries[id].SentAt = &now
	o.entries[id].Attempts++
	return nil
}

func (o *fakeOutbox) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[id].LastError = &reason
	o.entries[id].Attempts++
	return nil
}

func (o *fakeOutbox) MarkDead(ctx context.Context, id uuid.UUID, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[id].Status = repository.StatusDead
	o.entries[id].LastError = &reason
	o.entries[id].Attempts++
	return nil
}

func (o *fakeOutbox) DeleteSentOlderThan(ctx context.Context, days int) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -days)
	var n int64
	for id, e := range o.entries {
		if e.Status == repository.StatusSent && e.SentAt.Before(cutoff) {
			delete(o.entries, id)
			n++
		}
	}
	kept := o.order[:0]
	for _, id := range o.order {
		if _, ok := o.entries[id]; ok {
			kept = append(kept, id)
		}
	}
	o.order = kept
	return n, nil
}

func (o *fakeOutbox) Recent(ctx context.Context, plate *string, limit int) ([]repository.OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []repository.OutboxEntry
	for i := len(o.order) - 1; i >= 0 && len(out) < limit; i-- {
		e := o.entries[o.order[i]]
		if plate != nil && e.PlateNumber != *plate {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (o *fakeOutbox) CountPending(ctx context.Context) (int64, error) {
	pending, _ := o.ListPending(ctx, 0)
	return int64(len(pending)), nil
}

func (o *fakeOutbox) size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

func record(plate string, conf float64, at time.Time) detection.VehicleDetectionData {
	return detection.VehicleDetectionData{
		ID:            uuid.New(),
		NodeID:        "node-1",
		PlateNumber:   plate,
		Confidence:    conf,
		DetectionTime: at,
		VehicleType:   detection.VehicleCar,
	}
}
