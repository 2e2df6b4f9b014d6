package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"asset-intake/internal/domain/asset"
	"asset-intake/internal/geo"
	"asset-intake/internal/intake"
	"asset-intake/internal/metrics"
	"asset-intake/internal/repository"
	"asset-intake/internal/vin"
)

const refVIN = "1HGBH41JXMN109186"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type failingStore struct {
	*repository.MemoryStore
}

func (failingStore) SaveCommit(context.Context, asset.AssetRecord, asset.InteractionRecord) error {
	return errors.New("database unavailable")
}

type recognizerFunc func(ctx context.Context, image []byte, contentType string) (asset.RecognitionResult, error)

func (f recognizerFunc) Recognize(ctx context.Context, image []byte, contentType string) (asset.RecognitionResult, error) {
	return f(ctx, image, contentType)
}

type locatorFunc func(ctx context.Context, hint *geo.Coordinates) (asset.Location, error)

func (f locatorFunc) Locate(ctx context.Context, hint *geo.Coordinates) (asset.Location, error) {
	return f(ctx, hint)
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []asset.InteractionRecord
	err  error
}

func (p *recordingPublisher) PublishInteraction(_ context.Context, _ asset.AssetRecord, i asset.InteractionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, i)
	return p.err
}

func (p *recordingPublisher) Close() {}

func startService(t *testing.T, opts Options) *IntakeService {
	t.Helper()
	if opts.Store == nil {
		opts.Store = repository.NewMemoryStore()
	}
	svc := NewIntakeService(opts, zerolog.Nop())
	require.NoError(t, svc.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc
}

func waitActive(t *testing.T, svc *IntakeService, id uuid.UUID) *View {
	t.Helper()
	var view *View
	require.Eventually(t, func() bool {
		v, err := svc.Active()
		if err != nil || v.CaptureID != id {
			return false
		}
		view = v
		return true
	}, time.Second, 5*time.Millisecond)
	return view
}

func recognized(plate, v string, photos ...string) CaptureInput {
	return CaptureInput{
		Recognition: &asset.RecognitionResult{Plate: plate, VIN: v, Make: "Honda"},
		PhotoRefs:   photos,
	}
}

func seededStore(t *testing.T, records ...asset.AssetRecord) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, r := range records {
		require.NoError(t, store.SaveCommit(context.Background(), r, asset.InteractionRecord{
			ID:          uuid.New(),
			Kind:        asset.KindSighting,
			AssetID:     r.ID,
			Timestamp:   r.FirstSighting,
			WarningType: asset.WarningNone,
		}))
	}
	return store
}

func knownAsset(plate, v string) asset.AssetRecord {
	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return asset.AssetRecord{
		ID:            uuid.New(),
		Plate:         plate,
		VIN:           v,
		Category:      asset.CategoryVehicle,
		Photos:        []asset.Photo{{Ref: "old.jpg", CapturedAt: seen}},
		FirstSighting: seen,
		LastSighting:  seen,
	}
}

func TestNewAssetEndToEnd(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := startService(t, Options{Store: store})
	ctx := context.Background()

	capture, err := svc.Submit(ctx, recognized(asset.Unknown, refVIN, "front.jpg"))
	require.NoError(t, err)
	assert.Empty(t, capture.Recognition.Plate)
	require.NotNil(t, capture.VINReport)
	assert.True(t, capture.VINReport.Validation.Passed)

	view := waitActive(t, svc, capture.ID)
	assert.Equal(t, intake.StateTrespassPrompt, view.State)
	assert.Nil(t, view.Existing)
	assert.Equal(t, []intake.Action{intake.ActionTrespassYes, intake.ActionTrespassNo, intake.ActionCancel}, view.Actions)

	result, err := svc.Act(ctx, intake.ActionTrespassNo, "alice")
	require.NoError(t, err)
	assert.Equal(t, intake.StateClosed, result.State)
	require.NotNil(t, result.Interaction)
	assert.Equal(t, asset.KindSighting, result.Interaction.Kind)
	assert.Equal(t, asset.WarningNone, result.Interaction.WarningType)
	assert.Equal(t, "alice", result.Interaction.Operator)
	assert.Nil(t, result.Active)

	assets := svc.Assets()
	require.Len(t, assets, 1)
	assert.Equal(t, refVIN, assets[0].VIN)
	assert.Equal(t, asset.Unknown, assets[0].Plate)
	assert.Equal(t, "Honda", assets[0].Make)

	stored, err := store.LoadInteractions(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, result.Interaction.ID, stored[0].ID)

	_, err = svc.Active()
	assert.ErrorIs(t, err, ErrNoActiveWorkflow)
}

func TestRepeatSightingEndToEnd(t *testing.T) {
	known := knownAsset(asset.Unknown, refVIN)
	svc := startService(t, Options{Store: seededStore(t, known)})
	ctx := context.Background()

	capture, err := svc.Submit(ctx, recognized("", refVIN, "new.jpg"))
	require.NoError(t, err)

	view := waitActive(t, svc, capture.ID)
	assert.Equal(t, intake.StateDuplicate, view.State)
	require.NotNil(t, view.Existing)
	assert.Equal(t, known.ID, view.Existing.ID)

	for _, action := range []intake.Action{intake.ActionUpdateAsset, intake.ActionTrespassYes} {
		_, err := svc.Act(ctx, action, "bob")
		require.NoError(t, err)
	}
	result, err := svc.Act(ctx, intake.ActionWarnWritten, "bob")
	require.NoError(t, err)

	require.NotNil(t, result.Interaction)
	assert.Equal(t, asset.KindTrespass, result.Interaction.Kind)
	assert.Equal(t, asset.WarningWritten, result.Interaction.WarningType)
	assert.Equal(t, known.ID, result.Interaction.AssetID)

	assets := svc.Assets()
	require.Len(t, assets, 1)
	require.Len(t, assets[0].Photos, 2)
	assert.Equal(t, "new.jpg", assets[0].Photos[0].Ref)
	assert.Equal(t, "old.jpg", assets[0].Photos[1].Ref)
	assert.True(t, assets[0].LastSighting.After(known.LastSighting))
}

func TestQueueOrder(t *testing.T) {
	svc := NewIntakeService(Options{Store: repository.NewMemoryStore()}, zerolog.Nop())
	require.NoError(t, svc.Load(context.Background()))
	ctx := context.Background()

	var ids []uuid.UUID
	for _, plate := range []string{"C1", "C2", "C3"} {
		c, err := svc.Submit(ctx, recognized(plate, ""))
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	assert.Equal(t, 3, svc.QueueLength())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	waitActive(t, svc, ids[0])
	for i := range ids {
		view, err := svc.Active()
		require.NoError(t, err)
		assert.Equal(t, ids[i], view.CaptureID)

		_, err = svc.Act(ctx, intake.ActionTrespassNo, "")
		require.NoError(t, err)
	}

	interactions, err := svc.Interactions(InteractionFilter{})
	require.NoError(t, err)
	require.Len(t, interactions, 3)
	plates := make([]string, 0, 3)
	for _, i := range interactions {
		a, err := svc.Asset(i.AssetID)
		require.NoError(t, err)
		plates = append(plates, a.Plate)
	}
	assert.Equal(t, []string{"C3", "C2", "C1"}, plates)
}

func TestDiscardLeavesRecordsUntouched(t *testing.T) {
	known := knownAsset("ABC123", asset.Unknown)
	store := seededStore(t, known)
	pub := &recordingPublisher{}
	svc := startService(t, Options{Store: store, Notifier: pub})
	ctx := context.Background()

	capture, err := svc.Submit(ctx, recognized("ABC123", asset.Unknown, "x.jpg"))
	require.NoError(t, err)
	view := waitActive(t, svc, capture.ID)
	require.Equal(t, intake.StateDuplicate, view.State)

	result, err := svc.Act(ctx, intake.ActionDiscard, "alice")
	require.NoError(t, err)
	assert.Equal(t, intake.StateClosed, result.State)
	assert.Nil(t, result.Interaction)

	interactions, err := store.LoadInteractions(ctx)
	require.NoError(t, err)
	assert.Len(t, interactions, 1)
	assets := svc.Assets()
	require.Len(t, assets, 1)
	assert.Len(t, assets[0].Photos, 1)
	assert.Empty(t, pub.sent)
}

func TestCommitFailureKeepsWorkflowOpen(t *testing.T) {
	svc := startService(t, Options{Store: failingStore{repository.NewMemoryStore()}})
	ctx := context.Background()

	capture, err := svc.Submit(ctx, recognized("FAIL1", ""))
	require.NoError(t, err)
	waitActive(t, svc, capture.ID)

	_, err = svc.Act(ctx, intake.ActionTrespassNo, "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, intake.ErrInvalidAction)

	view, err := svc.Active()
	require.NoError(t, err)
	assert.Equal(t, intake.StateTrespassPrompt, view.State)
	assert.Empty(t, svc.Assets())

	result, err := svc.Act(ctx, intake.ActionCancel, "alice")
	require.NoError(t, err)
	assert.Equal(t, intake.StateClosed, result.State)
	assert.Empty(t, svc.Assets())
}

func TestActErrors(t *testing.T) {
	svc := startService(t, Options{})
	ctx := context.Background()

	_, err := svc.Act(ctx, intake.ActionTrespassNo, "")
	assert.ErrorIs(t, err, ErrNoActiveWorkflow)

	capture, err := svc.Submit(ctx, recognized("ERR1", ""))
	require.NoError(t, err)
	waitActive(t, svc, capture.ID)

	_, err = svc.Act(ctx, intake.ActionDiscard, "")
	assert.ErrorIs(t, err, intake.ErrInvalidAction)
	_, err = svc.Act(ctx, intake.Action("explode"), "")
	assert.ErrorIs(t, err, intake.ErrInvalidAction)
}

func TestSubmitValidation(t *testing.T) {
	svc := NewIntakeService(Options{Store: repository.NewMemoryStore()}, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Submit(ctx, CaptureInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.SubmitBatch(ctx, []CaptureInput{recognized("OK1", ""), {}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, svc.QueueLength())

	_, err = svc.SubmitBatch(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmitBatchEnqueuesEveryCapture(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := NewIntakeService(Options{Store: repository.NewMemoryStore(), Metrics: m}, zerolog.Nop())

	inputs := make([]CaptureInput, 6)
	for i := range inputs {
		inputs[i] = recognized(string(rune('A'+i))+"100", "")
	}
	captures, err := svc.SubmitBatch(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, captures, 6)
	for i, c := range captures {
		assert.Equal(t, inputs[i].Recognition.Plate, c.Recognition.Plate)
	}
	assert.Equal(t, 6, svc.QueueLength())
	assert.Equal(t, 6.0, testutil.ToFloat64(m.CapturesEnqueued.WithLabelValues("batch")))

	assert.Equal(t, 6, svc.ClearQueue())
	assert.Zero(t, svc.QueueLength())
}

func TestExternalFailuresDegrade(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	vision := recognizerFunc(func(context.Context, []byte, string) (asset.RecognitionResult, error) {
		return asset.RecognitionResult{}, errors.New("vision down")
	})
	slow := locatorFunc(func(ctx context.Context, _ *geo.Coordinates) (asset.Location, error) {
		<-ctx.Done()
		return asset.Location{}, ctx.Err()
	})
	decoder := vin.DecoderFunc(func(context.Context, string) (*vin.ManufacturingInfo, error) {
		return nil, errors.New("decode down")
	})

	svc := NewIntakeService(Options{
		Store:      repository.NewMemoryStore(),
		Recognizer: vision,
		Locator:    slow,
		Decoder:    decoder,
		GeoTimeout: 20 * time.Millisecond,
		Metrics:    m,
	}, zerolog.Nop())

	start := time.Now()
	capture, err := svc.Submit(context.Background(), CaptureInput{
		Image:       []byte{0xff, 0xd8},
		ContentType: "image/jpeg",
		Coordinates: &geo.Coordinates{Lat: 1, Lng: 2},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Empty(t, capture.Recognition.Plate)
	assert.Equal(t, asset.CategoryUnknown, capture.Recognition.Category)
	assert.Nil(t, capture.Location)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalFailures.WithLabelValues("vision")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalFailures.WithLabelValues("geo")))

	report, err := svc.ReasonVIN(context.Background(), refVIN)
	require.NoError(t, err)
	assert.True(t, report.Validation.Passed)
	assert.NotEmpty(t, report.LookupError)
	assert.True(t, report.Intel.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalFailures.WithLabelValues("decode")))
}

func TestSubmitUsesLocationAndRecognizer(t *testing.T) {
	vision := recognizerFunc(func(_ context.Context, image []byte, contentType string) (asset.RecognitionResult, error) {
		assert.Equal(t, "image/png", contentType)
		return asset.RecognitionResult{Plate: "XYZ9", Category: asset.CategoryTrailer}, nil
	})
	svc := NewIntakeService(Options{
		Store:      repository.NewMemoryStore(),
		Recognizer: vision,
		Locator:    geo.CoordinateLocator{},
	}, zerolog.Nop())

	capture, err := svc.Submit(context.Background(), CaptureInput{
		Image:       []byte("png"),
		ContentType: "image/png",
		Coordinates: &geo.Coordinates{Lat: 40.1, Lng: -75.2},
	})
	require.NoError(t, err)
	assert.Equal(t, "XYZ9", capture.Recognition.Plate)
	assert.Nil(t, capture.VINReport)
	require.NotNil(t, capture.Location)
	assert.InDelta(t, 40.1, capture.Location.Lat, 1e-9)
}

func TestEditVINRematches(t *testing.T) {
	known := knownAsset("KNOWN1", refVIN)
	svc := startService(t, Options{Store: seededStore(t, known)})
	ctx := context.Background()

	// OCR read the 0 in the serial as an O
	capture, err := svc.Submit(ctx, recognized("NEW999", "1HGBH41JXMN1O9186"))
	require.NoError(t, err)
	require.NotNil(t, capture.VINReport)
	assert.False(t, capture.VINReport.Validation.Passed)

	view := waitActive(t, svc, capture.ID)
	assert.Equal(t, intake.StateTrespassPrompt, view.State)

	view, err = svc.EditVIN(ctx, refVIN)
	require.NoError(t, err)
	assert.Equal(t, intake.StateDuplicate, view.State)
	require.NotNil(t, view.Existing)
	assert.Equal(t, known.ID, view.Existing.ID)
	assert.Equal(t, refVIN, view.Capture.Recognition.VIN)
	require.NotNil(t, view.Capture.VINReport)
	assert.True(t, view.Capture.VINReport.Validation.Passed)

	_, err = svc.EditVIN(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEditVINWithoutWorkflow(t *testing.T) {
	svc := NewIntakeService(Options{Store: repository.NewMemoryStore()}, zerolog.Nop())
	_, err := svc.EditVIN(context.Background(), refVIN)
	assert.ErrorIs(t, err, ErrNoActiveWorkflow)
}

func TestNotifierFailureDoesNotFailCommit(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := startService(t, Options{Notifier: pub})
	ctx := context.Background()

	capture, err := svc.Submit(ctx, recognized("PUB1", ""))
	require.NoError(t, err)
	waitActive(t, svc, capture.ID)

	result, err := svc.Act(ctx, intake.ActionTrespassNo, "")
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, result.Interaction.ID, pub.sent[0].ID)
	assert.Len(t, svc.Assets(), 1)
}

func TestQueries(t *testing.T) {
	a1 := knownAsset("AB-123", asset.Unknown)
	a2 := knownAsset("zz 9", asset.Unknown)
	svc := NewIntakeService(Options{Store: seededStore(t, a1, a2)}, zerolog.Nop())
	require.NoError(t, svc.Load(context.Background()))

	plates, err := svc.FindPlates("ab123")
	require.NoError(t, err)
	require.Len(t, plates, 1)
	assert.Equal(t, a1.ID, plates[0].AssetID)
	assert.Equal(t, "AB123", plates[0].Normalized)

	_, err = svc.FindPlates(" - ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := svc.Asset(a2.ID)
	require.NoError(t, err)
	assert.Equal(t, "zz 9", got.Plate)
	_, err = svc.Asset(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	plate := "ZZ9"
	interactions, err := svc.Interactions(InteractionFilter{Plate: &plate})
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, a2.ID, interactions[0].AssetID)

	all, err := svc.Interactions(InteractionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	bad := "yesterday"
	_, err = svc.Interactions(InteractionFilter{From: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestActResultJSONOmitsEmptyActive(t *testing.T) {
	result := ActResult{CaptureID: uuid.New(), State: intake.StateClosed}

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.NotContains(t, body, "active")
	assert.NotContains(t, body, "asset")

	result.Active = &View{QueueLength: 1}
	raw, err = json.Marshal(result)
	require.NoError(t, err)
	body = nil
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Contains(t, body, "active")
	assert.EqualValues(t, 1, body["active"].(map[string]any)["queue_length"])
}
