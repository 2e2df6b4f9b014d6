package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"asset-intake/internal/domain/asset"
	"asset-intake/internal/geo"
	"asset-intake/internal/intake"
	"asset-intake/internal/metrics"
	"asset-intake/internal/notifier"
	"asset-intake/internal/utils"
	"asset-intake/internal/vin"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrNoActiveWorkflow = errors.New("no active workflow")
)

const batchConcurrency = 4

// Store persists committed records. SaveCommit must store both records or
// neither.
type Store interface {
	LoadAssets(ctx context.Context) ([]asset.AssetRecord, error)
	LoadInteractions(ctx context.Context) ([]asset.InteractionRecord, error)
	SaveCommit(ctx context.Context, record asset.AssetRecord, interaction asset.InteractionRecord) error
}

type Recognizer interface {
	Recognize(ctx context.Context, image []byte, contentType string) (asset.RecognitionResult, error)
}

// Options carries the collaborators of IntakeService. Only Store is required.
type Options struct {
	Store      Store
	Recognizer Recognizer
	Decoder    vin.Decoder
	Locator    geo.Locator
	GeoTimeout time.Duration
	Notifier   notifier.Publisher
	Metrics    *metrics.Metrics
	Committer  *intake.Committer
}

// IntakeService owns the intake queue, the single active workflow and the
// in-memory record collections mirrored from the store.
type IntakeService struct {
	mu           sync.Mutex
	queue        *intake.Queue
	active       *intake.Workflow
	assets       []asset.AssetRecord
	interactions []asset.InteractionRecord

	store      Store
	recognizer Recognizer
	decoder    vin.Decoder
	locator    geo.Locator
	geoTimeout time.Duration
	notifier   notifier.Publisher
	metrics    *metrics.Metrics
	committer  *intake.Committer
	log        zerolog.Logger
}

func NewIntakeService(opts Options, log zerolog.Logger) *IntakeService {
	s := &IntakeService{
		queue:      intake.NewQueue(),
		store:      opts.Store,
		recognizer: opts.Recognizer,
		decoder:    opts.Decoder,
		locator:    opts.Locator,
		geoTimeout: opts.GeoTimeout,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		committer:  opts.Committer,
		log:        log,
	}
	if s.notifier == nil {
		s.notifier = notifier.Nop{}
	}
	if s.committer == nil {
		s.committer = intake.NewCommitter()
	}
	if s.geoTimeout <= 0 {
		s.geoTimeout = geo.DefaultTimeout
	}
	return s
}

// Load reads the stored records into memory. Call once before Run.
func (s *IntakeService) Load(ctx context.Context) error {
	assets, err := s.store.LoadAssets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load assets: %w", err)
	}
	interactions, err := s.store.LoadInteractions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load interactions: %w", err)
	}

	s.mu.Lock()
	s.assets = assets
	s.interactions = interactions
	s.mu.Unlock()

	s.log.Info().
		Int("assets", len(assets)).
		Int("interactions", len(interactions)).
		Msg("loaded records")
	return nil
}

// Run is the queue consumer. It opens a workflow for the head of the queue
// whenever none is active and returns when ctx is done.
func (s *IntakeService) Run(ctx context.Context) error {
	for {
		s.mu.Lock()
		s.advanceLocked()
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-s.queue.Ready():
		}
	}
}

type CaptureInput struct {
	Image       []byte
	ContentType string
	// Recognition skips the vision call when the caller already has the
	// attributes.
	Recognition *asset.RecognitionResult
	PhotoRefs   []string
	Coordinates *geo.Coordinates
}

func (in CaptureInput) validate() error {
	if len(in.Image) == 0 && in.Recognition == nil {
		return fmt.Errorf("%w: image or recognition is required", ErrInvalidInput)
	}
	if len(in.PhotoRefs) > asset.MaxPhotos {
		return fmt.Errorf("%w: at most %d photos per capture", ErrInvalidInput, asset.MaxPhotos)
	}
	return nil
}

// Submit recognizes, locates and verifies one capture and appends it to the
// queue. External failures degrade to unknown fields.
func (s *IntakeService) Submit(ctx context.Context, in CaptureInput) (asset.PendingCapture, error) {
	if err := in.validate(); err != nil {
		return asset.PendingCapture{}, err
	}
	capture := s.prepare(ctx, in)
	s.enqueue(capture, "single")
	return capture, nil
}

// SubmitBatch prepares captures concurrently. Every input is validated
// before any capture is enqueued; enqueue order follows completion order.
func (s *IntakeService) SubmitBatch(ctx context.Context, inputs []CaptureInput) ([]asset.PendingCapture, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", ErrInvalidInput)
	}
	for i, in := range inputs {
		if err := in.validate(); err != nil {
			return nil, fmt.Errorf("capture %d: %w", i, err)
		}
	}

	captures := make([]asset.PendingCapture, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, in := range inputs {
		g.Go(func() error {
			capture := s.prepare(gctx, in)
			s.enqueue(capture, "batch")
			captures[i] = capture
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info().Int("count", len(captures)).Msg("batch enqueued")
	return captures, nil
}

func (s *IntakeService) prepare(ctx context.Context, in CaptureInput) asset.PendingCapture {
	now := s.committer.Now().UTC()
	capture := asset.PendingCapture{
		ID:          uuid.New(),
		Recognition: s.recognize(ctx, in),
		CapturedAt:  now,
	}
	for _, ref := range in.PhotoRefs {
		if ref = strings.TrimSpace(ref); ref != "" {
			capture.Photos = append(capture.Photos, asset.Photo{Ref: ref, CapturedAt: now})
		}
	}

	res := geo.Acquire(ctx, s.locator, in.Coordinates, s.geoTimeout)
	switch {
	case res.Location != nil:
		capture.Location = res.Location
	case res.TimedOut:
		s.metrics.IncExternalFailure("geo")
		s.log.Warn().Stringer("capture_id", capture.ID).Dur("timeout", s.geoTimeout).Msg("location fix timed out")
	case res.Err != nil && !errors.Is(res.Err, geo.ErrNoFix):
		s.metrics.IncExternalFailure("geo")
		s.log.Warn().Err(res.Err).Stringer("capture_id", capture.ID).Msg("location fix failed")
	}

	if v := capture.Recognition.VIN; v != "" {
		report := s.reason(ctx, v)
		capture.VINReport = &report
	}
	return capture
}

func (s *IntakeService) recognize(ctx context.Context, in CaptureInput) asset.RecognitionResult {
	if in.Recognition != nil {
		return asset.FromExternal(*in.Recognition)
	}
	if s.recognizer == nil {
		return asset.RecognitionResult{Category: asset.CategoryUnknown}
	}

	result, err := s.recognizer.Recognize(ctx, in.Image, in.ContentType)
	if err != nil {
		s.metrics.IncExternalFailure("vision")
		s.log.Warn().Err(err).Msg("recognition failed, continuing with unknown attributes")
		return asset.RecognitionResult{Category: asset.CategoryUnknown}
	}
	return result
}

func (s *IntakeService) enqueue(capture asset.PendingCapture, source string) {
	depth := s.queue.Enqueue(capture)
	s.metrics.IncEnqueued(source)
	s.metrics.SetQueueDepth(depth)
	s.log.Info().
		Stringer("capture_id", capture.ID).
		Str("plate", capture.Recognition.Plate).
		Str("vin", capture.Recognition.VIN).
		Int("queue_length", depth).
		Msg("capture enqueued")
}

func (s *IntakeService) reason(ctx context.Context, raw string) vin.Reasoning {
	report := vin.Reason(ctx, raw, s.decoder)
	if report.LookupError != "" {
		s.metrics.IncExternalFailure("decode")
		s.log.Warn().Str("vin", report.Validation.Normalized).Str("error", report.LookupError).Msg("vin decode failed")
	}
	s.metrics.IncVINCheck(vinCheckResult(report))
	return report
}

func vinCheckResult(r vin.Reasoning) string {
	switch {
	case len(r.Validation.Errors) > 0:
		return "malformed"
	case r.Validation.Passed:
		return "valid"
	case len(r.Suggestions) > 0:
		return "corrected"
	}
	return "invalid"
}

// ReasonVIN runs the full VIN verification for an arbitrary string.
func (s *IntakeService) ReasonVIN(ctx context.Context, raw string) (vin.Reasoning, error) {
	if strings.TrimSpace(raw) == "" {
		return vin.Reasoning{}, fmt.Errorf("%w: vin is required", ErrInvalidInput)
	}
	return s.reason(ctx, raw), nil
}

// Active describes the workflow waiting for the operator.
func (s *IntakeService) Active() (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, ErrNoActiveWorkflow
	}
	return s.viewLocked(), nil
}

// Act applies an operator action to the active workflow. When the action
// closes it, the next queued capture becomes active.
func (s *IntakeService) Act(ctx context.Context, action intake.Action, operator string) (*ActResult, error) {
	s.mu.Lock()

	w := s.active
	if w == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveWorkflow
	}

	if err := w.Fire(ctx, action, operator); err != nil {
		s.mu.Unlock()
		if errors.Is(err, intake.ErrInvalidAction) {
			return nil, err
		}
		s.log.Error().
			Err(err).
			Stringer("capture_id", w.CaptureID()).
			Str("action", string(action)).
			Msg("failed to apply workflow action")
		return nil, fmt.Errorf("failed to apply %s: %w", action, err)
	}

	result := &ActResult{CaptureID: w.CaptureID(), State: w.State()}
	if committed := w.Result(); committed != nil {
		result.Asset = &committed.Asset
		result.Interaction = &committed.Interaction
	}

	if w.Closed() {
		s.metrics.IncOutcome(outcome(action, result))
		s.log.Info().
			Stringer("capture_id", w.CaptureID()).
			Str("action", string(action)).
			Str("operator", operator).
			Msg("workflow closed")
		s.active = nil
		s.advanceLocked()
	}
	if s.active != nil {
		result.Active = s.viewLocked()
	}
	s.mu.Unlock()

	if result.Interaction != nil {
		if err := s.notifier.PublishInteraction(ctx, *result.Asset, *result.Interaction); err != nil {
			s.metrics.IncExternalFailure("mqtt")
			s.log.Warn().Err(err).Stringer("interaction_id", result.Interaction.ID).Msg("failed to publish interaction")
		}
	}
	return result, nil
}

func outcome(action intake.Action, r *ActResult) string {
	if r.Interaction != nil {
		return string(r.Interaction.Kind)
	}
	if action == intake.ActionDiscard {
		return "discarded"
	}
	return "cancelled"
}

// EditVIN replaces the VIN of the active capture with an operator correction.
// A run without a duplicate is matched again against the stored records.
func (s *IntakeService) EditVIN(ctx context.Context, raw string) (*View, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: vin is required", ErrInvalidInput)
	}
	report := s.reason(ctx, raw)
	v := report.Validation.Normalized
	if v == "" {
		return nil, fmt.Errorf("%w: vin has no usable characters", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.active
	if w == nil {
		return nil, ErrNoActiveWorkflow
	}
	if err := w.SetVIN(v, &report); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoActiveWorkflow, err)
	}

	if w.State() == intake.StateTrespassPrompt && w.Existing() == nil {
		if existing, ok := intake.FindExisting(w.Capture(), s.assets); ok {
			if err := w.Rematch(ctx, existing); err != nil {
				return nil, err
			}
			s.log.Info().
				Stringer("capture_id", w.CaptureID()).
				Stringer("asset_id", existing.ID).
				Msg("edited vin matched existing asset")
		}
	}
	return s.viewLocked(), nil
}

// ClearQueue drops every capture still waiting. The active workflow is left
// alone.
func (s *IntakeService) ClearQueue() int {
	n := s.queue.Clear()
	s.metrics.SetQueueDepth(0)
	if n > 0 {
		s.log.Info().Int("dropped", n).Msg("intake queue cleared")
	}
	return n
}

func (s *IntakeService) QueueLength() int {
	return s.queue.Len()
}

func (s *IntakeService) Assets() []asset.AssetRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]asset.AssetRecord(nil), s.assets...)
}

func (s *IntakeService) Asset(id uuid.UUID) (asset.AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if a.ID == id {
			return a, nil
		}
	}
	return asset.AssetRecord{}, fmt.Errorf("%w: asset %s", ErrNotFound, id)
}

func (s *IntakeService) FindPlates(plateQuery string) ([]PlateInfo, error) {
	normalized := utils.NormalizePlate(plateQuery)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]PlateInfo, 0)
	for _, a := range s.assets {
		if utils.NormalizePlate(a.Plate) != normalized {
			continue
		}
		result = append(result, PlateInfo{
			AssetID:      a.ID,
			Plate:        a.Plate,
			Normalized:   normalized,
			LastSighting: a.LastSighting,
		})
	}
	return result, nil
}

type InteractionFilter struct {
	Plate  *string
	From   *string
	To     *string
	Limit  int
	Offset int
}

// Interactions pages through the log, newest first.
func (s *IntakeService) Interactions(filter InteractionFilter) ([]asset.InteractionRecord, error) {
	var normalizedPlate string
	if filter.Plate != nil {
		normalizedPlate = utils.NormalizePlate(*filter.Plate)
	}

	var fromTime, toTime *time.Time
	if filter.From != nil && *filter.From != "" {
		t, err := time.Parse(time.RFC3339, *filter.From)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		fromTime = &t
	}
	if filter.To != nil && *filter.To != "" {
		t, err := time.Parse(time.RFC3339, *filter.To)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		toTime = &t
	}

	limit, offset := filter.Limit, filter.Offset
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var plateAssets map[uuid.UUID]bool
	if normalizedPlate != "" {
		plateAssets = make(map[uuid.UUID]bool)
		for _, a := range s.assets {
			if utils.NormalizePlate(a.Plate) == normalizedPlate {
				plateAssets[a.ID] = true
			}
		}
	}

	result := make([]asset.InteractionRecord, 0)
	skipped := 0
	for _, i := range s.interactions {
		if plateAssets != nil && !plateAssets[i.AssetID] {
			continue
		}
		if fromTime != nil && i.Timestamp.Before(*fromTime) {
			continue
		}
		if toTime != nil && i.Timestamp.After(*toTime) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, i)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *IntakeService) advanceLocked() {
	if s.active != nil {
		return
	}
	capture, ok := s.queue.TryDequeue()
	if !ok {
		return
	}
	s.metrics.SetQueueDepth(s.queue.Len())

	var existing *asset.AssetRecord
	if match, found := intake.FindExisting(capture, s.assets); found {
		existing = &match
	}
	s.active = intake.NewWorkflow(capture, existing, s.commit)

	ev := s.log.Info().Stringer("capture_id", capture.ID).Str("state", string(s.active.State()))
	if existing != nil {
		ev = ev.Stringer("existing_id", existing.ID)
	}
	ev.Msg("workflow opened")
}

// commit runs inside Act with s.mu held.
func (s *IntakeService) commit(ctx context.Context, req intake.CommitRequest) (asset.AssetRecord, asset.InteractionRecord, error) {
	record, interaction, err := s.committer.Commit(s.assets, req)
	if err != nil {
		return asset.AssetRecord{}, asset.InteractionRecord{}, err
	}

	if err := s.store.SaveCommit(ctx, record, interaction); err != nil {
		return asset.AssetRecord{}, asset.InteractionRecord{}, fmt.Errorf("failed to save commit: %w", err)
	}

	replaced := false
	for i := range s.assets {
		if s.assets[i].ID == record.ID {
			s.assets[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		s.assets = append(s.assets, record)
	}
	s.interactions = append([]asset.InteractionRecord{interaction}, s.interactions...)

	s.log.Info().
		Stringer("asset_id", record.ID).
		Stringer("interaction_id", interaction.ID).
		Str("kind", string(interaction.Kind)).
		Str("warning", string(interaction.WarningType)).
		Msg("committed interaction")
	return record, interaction, nil
}

func (s *IntakeService) viewLocked() *View {
	w := s.active
	return &View{
		CaptureID:   w.CaptureID(),
		State:       w.State(),
		Actions:     w.Actions(),
		Capture:     w.Capture(),
		Existing:    w.Existing(),
		QueueLength: s.queue.Len(),
	}
}

type View struct {
	CaptureID   uuid.UUID            `json:"capture_id"`
	State       intake.State         `json:"state"`
	Actions     []intake.Action      `json:"actions"`
	Capture     asset.PendingCapture `json:"capture"`
	Existing    *asset.AssetRecord   `json:"existing,omitempty"`
	QueueLength int                  `json:"queue_length"`
}

type ActResult struct {
	CaptureID   uuid.UUID                `json:"capture_id"`
	State       intake.State             `json:"state"`
	Asset       *asset.AssetRecord       `json:"asset,omitempty"`
	Interaction *asset.InteractionRecord `json:"interaction,omitempty"`
	// Active is the workflow awaiting the operator after this action.
	Active *View `json:"active,omitempty"`
}

type PlateInfo struct {
	AssetID      uuid.UUID `json:"asset_id"`
	Plate        string    `json:"plate"`
	Normalized   string    `json:"normalized"`
	LastSighting time.Time `json:"last_sighting"`
}
