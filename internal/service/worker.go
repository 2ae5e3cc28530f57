package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"plate-node/internal/config"
	"plate-node/internal/domain/detection"
	"plate-node/internal/metrics"
	"plate-node/internal/pipeline"
	"plate-node/internal/speed"
)

const (
	ModeBest  = "best"
	ModeBatch = "batch"

	ErrorPause = 5 * time.Second
)

type State string

const (
	StateStarting    State = "starting"
	StateRegistering State = "registering"
	StateRunning     State = "running"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCapturing  Phase = "capturing"
	PhaseDetecting  Phase = "detecting"
	PhaseEstimating Phase = "estimating"
	PhaseReporting  Phase = "reporting"
)

type WorkerDeps struct {
	Source    FrameSource
	Detector  PlateDetector
	Assembler RecordAssembler
	Reporter  Reporter
	Speed     *speed.Estimator
	Metrics   *metrics.Metrics

	// Optional.
	Images    ImageSaver
	Outbox    OutboxWriter
	Publisher Publisher
}

// Status is what the local API reports about the worker.
type Status struct {
	NodeID        string                          `json:"node_id"`
	NodeName      string                          `json:"node_name"`
	State         State                           `json:"state"`
	Phase         Phase                           `json:"phase"`
	Mode          string                          `json:"mode"`
	StartedAt     *time.Time                      `json:"started_at,omitempty"`
	Iterations    uint64                          `json:"iterations"`
	LastDetection *detection.VehicleDetectionData `json:"last_detection,omitempty"`
	LastError     string                          `json:"last_error,omitempty"`
	LastErrorAt   *time.Time                      `json:"last_error_at,omitempty"`
	Counters      metrics.Snapshot                `json:"counters"`
}

// NodeWorker drives capture, detection, speed estimation and reporting at the
// configured frame rate.
type NodeWorker struct {
	cfg  config.NodeConfiguration
	mode string
	deps WorkerDeps
	log  zerolog.Logger

	frameInterval time.Duration
	errorPause    time.Duration

	mu            sync.RWMutex
	state         State
	phase         Phase
	startedAt     time.Time
	iterations    uint64
	lastDetection *detection.VehicleDetectionData
	lastError     string
	lastErrorAt   time.Time
}

func NewNodeWorker(cfg config.NodeConfiguration, mode string, deps WorkerDeps, log zerolog.Logger) *NodeWorker {
	if mode != ModeBatch {
		mode = ModeBest
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Speed == nil {
		deps.Speed = speed.NewEstimator()
	}
	return &NodeWorker{
		cfg:           cfg,
		mode:          mode,
		deps:          deps,
		log:           log,
		frameInterval: cfg.FrameInterval(),
		errorPause:    ErrorPause,
		state:         StateStarting,
		phase:         PhaseIdle,
	}
}

func (w *NodeWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		NodeID:     w.cfg.NodeID,
		NodeName:   w.cfg.NodeName,
		State:      w.state,
		Phase:      w.phase,
		Mode:       w.mode,
		Iterations: w.iterations,
		LastError:  w.lastError,
		Counters:   w.deps.Metrics.Snapshot(),
	}
	if !w.startedAt.IsZero() {
		t := w.startedAt
		s.StartedAt = &t
	}
	if w.lastDetection != nil {
		d := *w.lastDetection
		s.LastDetection = &d
	}
	if !w.lastErrorAt.IsZero() {
		t := w.lastErrorAt
		s.LastErrorAt = &t
	}
	return s
}

func (w *NodeWorker) setState(s State) {
	w.mu.Lock()
	w.state = s
	if s == StateRunning {
		w.startedAt = time.Now()
	}
	w.mu.Unlock()
	w.log.Info().Str("state", string(s)).Msg("worker state changed")
}

func (w *NodeWorker) setPhase(p Phase) {
	w.mu.Lock()
	w.phase = p
	w.mu.Unlock()
}

// Run registers the node and loops until ctx is cancelled. A failing iteration
// is logged and followed by a pause; it never stops the loop.
func (w *NodeWorker) Run(ctx context.Context) error {
	if w.deps.Source == nil || w.deps.Detector == nil || w.deps.Assembler == nil || w.deps.Reporter == nil {
		return fmt.Errorf("%w: worker is missing a collaborator", ErrInvalidInput)
	}

	w.setState(StateRegistering)
	if err := w.deps.Reporter.RegisterNode(ctx); err != nil {
		w.log.Warn().Err(err).Msg("continuing without hub registration")
	}

	w.setState(StateRunning)
	w.log.Info().
		Str("node_id", w.cfg.NodeID).
		Str("mode", w.mode).
		Dur("frame_interval", w.frameInterval).
		Msg("node worker started")

	for ctx.Err() == nil {
		delay := w.frameInterval
		if err := w.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			w.recordError(err)
			delay = w.errorPause
		}
		w.setPhase(PhaseIdle)
		if !sleepCtx(ctx, delay) {
			break
		}
	}

	w.setState(StateStopping)
	w.setState(StateStopped)
	return nil
}

func (w *NodeWorker) recordError(err error) {
	w.deps.Metrics.IterationErrors.Add(1)
	w.mu.Lock()
	w.lastError = err.Error()
	w.lastErrorAt = time.Now()
	w.mu.Unlock()
	w.log.Error().Err(err).Dur("pause", w.errorPause).Msg("worker iteration failed")
}

func (w *NodeWorker) iterate(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panic: %v", r)
		}
		w.deps.Metrics.ObserveIteration(time.Since(start))
		w.mu.Lock()
		w.iterations++
		w.mu.Unlock()
	}()

	w.setPhase(PhaseCapturing)
	frame, ok, err := w.deps.Source.TryReadFrame(ctx)
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}

	if ok {
		w.deps.Metrics.FramesRead.Add(1)
		if err := w.processFrame(ctx, frame); err != nil {
			return err
		}
	}

	if w.deps.Reporter.SendHeartbeat(ctx) {
		w.deps.Metrics.Heartbeats.Add(1)
	}
	return nil
}

func (w *NodeWorker) processFrame(ctx context.Context, frame image.Image) error {
	w.setPhase(PhaseDetecting)
	cands, err := w.deps.Detector.Detect(ctx, frame)
	if err != nil {
		return fmt.Errorf("detect plates: %w", err)
	}
	if len(cands) == 0 {
		return nil
	}

	records := w.deps.Assembler.Assemble(ctx, frame, cands)
	if w.mode == ModeBest {
		best, ok := pipeline.Best(records)
		if !ok {
			return nil
		}
		records = []detection.VehicleDetectionData{best}
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.handleDetection(ctx, frame, &records[i])
	}
	return nil
}

func (w *NodeWorker) handleDetection(ctx context.Context, frame image.Image, det *detection.VehicleDetectionData) {
	if w.cfg.EnableSpeedDetection {
		w.setPhase(PhaseEstimating)
		var kmh float64
		if det.HasPlate() {
			kmh = w.deps.Speed.EstimateSpeed(det.PlateNumber, det.DetectionTime, w.cfg.DetectionDistance)
		}
		det.ApplySpeed(kmh, w.cfg.SpeedLimit)
	}

	if w.cfg.SaveImagesLocally && w.deps.Images != nil {
		name, err := w.deps.Images.Save(frame, det.ID, det.DetectionTime)
		if err != nil {
			w.log.Warn().Err(err).Str("detection_id", det.ID.String()).Msg("failed to save detection image")
		} else {
			det.ImageFileName = name
		}
	}

	w.deps.Metrics.Detections.Add(1)
	if det.IsSpeedViolation {
		w.deps.Metrics.Violations.Add(1)
	}

	event := w.log.Info()
	if det.IsSpeedViolation {
		event = w.log.Warn()
	}
	event.
		Str("detection_id", det.ID.String()).
		Str("plate", det.PlateNumber).
		Float64("confidence", det.Confidence).
		Float64("ocr_confidence", det.OcrConfidence).
		Float64("speed", det.Speed).
		Bool("violation", det.IsSpeedViolation).
		Msg("vehicle detected")

	w.mu.Lock()
	last := *det
	w.lastDetection = &last
	w.mu.Unlock()

	w.setPhase(PhaseReporting)
	if w.cfg.AutoSendEnabled {
		w.report(ctx, *det)
	}

	if w.deps.Publisher != nil {
		if err := w.deps.Publisher.Publish(ctx, *det); err != nil {
			w.deps.Metrics.PublishErrors.Add(1)
			w.log.Warn().Err(err).Str("plate", det.PlateNumber).Msg("failed to publish detection")
		}
	}
}

func (w *NodeWorker) report(ctx context.Context, det detection.VehicleDetectionData) {
	ok, err := w.deps.Reporter.SendDetection(ctx, det)
	if ok {
		w.deps.Metrics.UploadsOK.Add(1)
		return
	}
	w.deps.Metrics.UploadsFailed.Add(1)

	if w.deps.Outbox == nil {
		w.log.Error().Err(err).Str("plate", det.PlateNumber).Msg("detection dropped after retries")
		return
	}
	// The send may have been cut short by shutdown; the outbox write must not be.
	if errors.Is(err, context.Canceled) {
		ctx = context.WithoutCancel(ctx)
	}
	if qerr := w.deps.Outbox.Enqueue(ctx, det); qerr != nil {
		w.log.Error().Err(qerr).Str("plate", det.PlateNumber).Msg("failed to queue detection in outbox")
		return
	}
	w.deps.Metrics.OutboxQueued.Add(1)
	w.log.Info().Str("plate", det.PlateNumber).Msg("detection queued in outbox")
}
