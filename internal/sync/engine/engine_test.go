package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balregistry/internal/baselocale/models"
	"balregistry/internal/baselocale/store"
	"balregistry/internal/deposit"
	"balregistry/internal/event"
	"balregistry/internal/export"
	"balregistry/internal/notify"
	id "balregistry/pkg/domain"
	dErrors "balregistry/pkg/domain-errors"
	"balregistry/pkg/platform/sentinel"
	"balregistry/pkg/requestcontext"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeGateway is a deterministic deposit service. PublishRevision moves the
// remote head the way the real service does, so repeated reconciliations see
// the revision the previous run created.
type fakeGateway struct {
	mu sync.Mutex

	hab    *deposit.Habilitation
	habErr error

	head            *deposit.Revision
	headErr         error
	rejectNext      bool
	publishErr      error
	nextRevisionSeq int

	habCalls     int
	headCalls    int
	publishCalls int
}

func (f *fakeGateway) GetHabilitation(_ context.Context, _ id.HabilitationID) (*deposit.Habilitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.habCalls++
	if f.habErr != nil {
		return nil, f.habErr
	}
	return f.hab, nil
}

func (f *fakeGateway) CreateHabilitation(_ context.Context, _ id.CommuneCode) (*deposit.Habilitation, error) {
	return nil, errors.New("not used in engine tests")
}

func (f *fakeGateway) SendPinCode(_ context.Context, _ id.HabilitationID) error {
	return errors.New("not used in engine tests")
}

func (f *fakeGateway) ValidatePinCode(_ context.Context, _ id.HabilitationID, _ string) (*deposit.Habilitation, error) {
	return nil, errors.New("not used in engine tests")
}

func (f *fakeGateway) PublishRevision(_ context.Context, commune id.CommuneCode, _ id.BaseLocaleID, content []byte, _ id.HabilitationID) (*deposit.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishCalls++
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.nextRevisionSeq++
	rev := &deposit.Revision{
		ID:          id.RevisionID(fmt.Sprintf("rev-%d", f.nextRevisionSeq)),
		CommuneCode: commune,
		Validation:  deposit.Validation{Valid: true},
	}
	if f.rejectNext {
		rev.Validation = deposit.Validation{Valid: false, Errors: []string{"voie_nom is required"}}
		rev.Status = deposit.RevisionPending
		return rev, nil
	}
	rev.Status = deposit.RevisionPublished
	rev.Files = []deposit.RevisionFile{{Type: deposit.FileTypeBal, Hash: export.Hash(content)}}
	f.head = rev
	return rev, nil
}

func (f *fakeGateway) GetCurrentRevision(_ context.Context, _ id.CommuneCode) (*deposit.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	if f.headErr != nil {
		return nil, f.headErr
	}
	return f.head, nil
}

func (f *fakeGateway) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.publishCalls
}

func (f *fakeGateway) headCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headCalls
}

func (f *fakeGateway) setHead(rev *deposit.Revision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = rev
}

type fixture struct {
	store    *store.Memory
	gateway  *fakeGateway
	notifier *notify.Memory
	events   *event.MemoryStore
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	expires := fixedNow.Add(6 * time.Hour)
	f := &fixture{
		store: store.NewMemory(),
		gateway: &fakeGateway{
			hab: &deposit.Habilitation{
				ID:          "hab-1",
				CommuneCode: "27115",
				Status:      deposit.HabilitationAccepted,
				ExpiresAt:   &expires,
			},
		},
		notifier: notify.NewMemory(),
		events:   event.NewMemoryStore(),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := New(f.store, f.gateway, export.NewExporter(f.store), f.notifier,
		WithLogger(logger),
		WithEvents(event.NewPublisher(f.events)),
	)
	require.NoError(t, err)
	f.engine = eng
	return f
}

func testCtx() context.Context {
	return requestcontext.WithTime(context.Background(), fixedNow)
}

func (f *fixture) seedDraft(t *testing.T) *models.BaseLocale {
	t.Helper()
	bl, err := models.NewBaseLocale(id.NewBaseLocaleID(), "Adresses de Breux-sur-Avre", "27115",
		[]string{"mairie@breux.fr"}, fixedNow.Add(-24*time.Hour))
	require.NoError(t, err)
	bl.HabilitationID = "hab-1"
	require.NoError(t, f.store.Create(context.Background(), bl))
	f.store.PutAddressRows(bl.ID, []export.Row{
		{VoieNom: "Rue de la Mairie", Numero: 1, Lon: 1.05, Lat: 48.75, Certified: true},
		{VoieNom: "Rue de la Mairie", Numero: 3, Suffixe: "bis", Lon: 1.051, Lat: 48.751},
	})
	return bl
}

// seedPublished runs a first publication through the engine so the fake
// remote head matches what the base locale believes it uploaded.
func (f *fixture) seedPublished(t *testing.T) *models.BaseLocale {
	t.Helper()
	bl := f.seedDraft(t)
	published, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
	require.NoError(t, err)
	require.Equal(t, models.StatusPublished, published.Status)
	return published
}

func (f *fixture) touch(t *testing.T, blID id.BaseLocaleID, at time.Time) {
	t.Helper()
	_, err := f.store.Execute(context.Background(), blID, nil, func(b *models.BaseLocale) {
		b.Touch(at)
	})
	require.NoError(t, err)
}

func (f *fixture) get(t *testing.T, blID id.BaseLocaleID) *models.BaseLocale {
	t.Helper()
	bl, err := f.store.FindByID(context.Background(), blID)
	require.NoError(t, err)
	return bl
}

func TestFirstPublication(t *testing.T) {
	f := newFixture(t)
	bl := f.seedDraft(t)

	got, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPublished, got.Status)
	assert.Equal(t, models.SyncStatusSynced, got.Sync.Status)
	assert.False(t, got.Sync.IsPaused)
	assert.Equal(t, id.RevisionID("rev-1"), got.Sync.LastUploadedRevisionID)
	assert.Equal(t, fixedNow, got.Sync.CurrentUpdated)
	assert.Equal(t, fixedNow, got.UpdatedAt)

	assert.Equal(t, 1, f.gateway.publishCount())

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"mairie@breux.fr"}, sent[0].Recipients)

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypePublished, events[0].Type)
	assert.Equal(t, id.RevisionID("rev-1"), events[0].RevisionID)
	assert.Empty(t, events[0].OverwrittenRevisionID)
}

func TestFirstPublicationNotifiesCommuneContacts(t *testing.T) {
	f := newFixture(t)
	f.gateway.hab.EmailsCommune = []string{"MAIRIE@breux.fr", "secretariat@breux.fr"}
	bl := f.seedDraft(t)

	_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
	require.NoError(t, err)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"mairie@breux.fr", "secretariat@breux.fr"}, sent[0].Recipients)

	// The merge is for the notification only, the stored recipient list
	// does not change.
	got := f.get(t, bl.ID)
	assert.Equal(t, []string{"mairie@breux.fr"}, got.Emails)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	bl := f.seedPublished(t)

	again, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSynced, again.Sync.Status)
	assert.Equal(t, bl.Sync.LastUploadedRevisionID, again.Sync.LastUploadedRevisionID)
	assert.Equal(t, 1, f.gateway.publishCount(), "a second run with no local edits must not publish")
	assert.Len(t, f.notifier.Sent(), 1)
	assert.Len(t, f.events.Events(), 1)
}

func TestGuards(t *testing.T) {
	t.Run("unknown base locale", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Reconcile(testCtx(), id.NewBaseLocaleID(), Options{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("demo base locale is rejected without pausing", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedDraft(t)
		_, err := f.store.Execute(context.Background(), bl.ID, nil, func(b *models.BaseLocale) {
			b.Status = models.StatusDemo
		})
		require.NoError(t, err)

		_, err = f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.ErrorIs(t, err, ErrNotSyncable)
		assert.False(t, f.get(t, bl.ID).Sync.IsPaused)
	})

	t.Run("missing habilitation pauses", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedDraft(t)
		_, err := f.store.Execute(context.Background(), bl.ID, nil, func(b *models.BaseLocale) {
			b.HabilitationID = ""
		})
		require.NoError(t, err)

		_, err = f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.ErrorIs(t, err, ErrNoHabilitation)
		assert.True(t, f.get(t, bl.ID).Sync.IsPaused)
		assert.Equal(t, 0, f.gateway.publishCount())
	})

	t.Run("habilitation unknown to the deposit service pauses", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedDraft(t)
		f.gateway.habErr = fmt.Errorf("habilitation: %w", sentinel.ErrNotFound)

		_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.ErrorIs(t, err, ErrNoHabilitation)
		assert.True(t, f.get(t, bl.ID).Sync.IsPaused)
	})

	t.Run("transport failure does not pause", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedDraft(t)
		f.gateway.habErr = errors.New("connection refused")

		_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoHabilitation)
		assert.False(t, f.get(t, bl.ID).Sync.IsPaused)
	})

	t.Run("pending habilitation pauses", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedDraft(t)
		f.gateway.hab.Status = deposit.HabilitationPending

		_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.ErrorIs(t, err, ErrHabilitationNotAccepted)
		assert.True(t, f.get(t, bl.ID).Sync.IsPaused)
	})

	t.Run("expired habilitation pauses", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedDraft(t)
		expired := fixedNow.Add(-time.Minute)
		f.gateway.hab.ExpiresAt = &expired

		_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.ErrorIs(t, err, ErrHabilitationExpired)
		assert.True(t, f.get(t, bl.ID).Sync.IsPaused)
	})

	t.Run("habilitation without expiry counts as expired", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedDraft(t)
		f.gateway.hab.ExpiresAt = nil

		_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.ErrorIs(t, err, ErrHabilitationExpired)
		assert.True(t, f.get(t, bl.ID).Sync.IsPaused)
	})

	t.Run("empty dataset does not pause", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedDraft(t)
		f.store.PutAddressRows(bl.ID, nil)

		_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.ErrorIs(t, err, ErrEmptyDataset)
		assert.False(t, f.get(t, bl.ID).Sync.IsPaused)
		assert.Equal(t, 0, f.gateway.publishCount())
	})

	t.Run("empty dataset blocks published base locales too", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedPublished(t)
		headsBefore := f.gateway.headCount()
		f.store.PutAddressRows(bl.ID, nil)

		_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.ErrorIs(t, err, ErrEmptyDataset)
		assert.False(t, f.get(t, bl.ID).Sync.IsPaused)
		// The guard fires before the remote head is consulted and nothing
		// beyond the first publication may go out.
		assert.Equal(t, headsBefore, f.gateway.headCount())
		assert.Equal(t, 1, f.gateway.publishCount())
	})
}

func TestRejectedContentLeavesDraftIntact(t *testing.T) {
	f := newFixture(t)
	bl := f.seedDraft(t)
	f.gateway.rejectNext = true

	_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
	require.ErrorIs(t, err, ErrInvalidContent)

	got := f.get(t, bl.ID)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Equal(t, models.SyncStatusNone, got.Sync.Status)
	assert.False(t, got.Sync.IsPaused)
	assert.Empty(t, f.notifier.Sent())
	assert.Empty(t, f.events.Events())
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, event.Event) error {
	return errors.New("outbox unavailable")
}

func TestEventAppendFailureRollsBackPublication(t *testing.T) {
	f := newFixture(t)
	bl := f.seedDraft(t)

	eng, err := New(f.store, f.gateway, export.NewExporter(f.store), f.notifier,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEvents(failingEmitter{}),
	)
	require.NoError(t, err)

	_, err = eng.Reconcile(testCtx(), bl.ID, Options{})
	require.Error(t, err)

	// The event append and the state write commit together: no published
	// state may exist without its event on record.
	got := f.get(t, bl.ID)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Empty(t, f.notifier.Sent())
}

func TestLocalEditPublishesNewRevision(t *testing.T) {
	f := newFixture(t)
	bl := f.seedPublished(t)

	f.store.PutAddressRows(bl.ID, []export.Row{
		{VoieNom: "Rue de la Mairie", Numero: 1, Lon: 1.05, Lat: 48.75, Certified: true},
	})
	editedAt := fixedNow.Add(10 * time.Minute)
	f.touch(t, bl.ID, editedAt)

	ctx := requestcontext.WithTime(context.Background(), fixedNow.Add(time.Hour))
	got, err := f.engine.Reconcile(ctx, bl.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSynced, got.Sync.Status)
	assert.Equal(t, id.RevisionID("rev-2"), got.Sync.LastUploadedRevisionID)
	assert.Equal(t, got.UpdatedAt, got.Sync.CurrentUpdated)
	assert.Equal(t, 2, f.gateway.publishCount())

	// notification only goes out on first publication
	assert.Len(t, f.notifier.Sent(), 1)
}

func TestIdenticalContentIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	bl := f.seedPublished(t)

	// a no-op edit: the clock moved but the exported bytes did not
	f.touch(t, bl.ID, fixedNow.Add(10*time.Minute))

	ctx := requestcontext.WithTime(context.Background(), fixedNow.Add(time.Hour))
	got, err := f.engine.Reconcile(ctx, bl.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSynced, got.Sync.Status)
	assert.Equal(t, id.RevisionID("rev-1"), got.Sync.LastUploadedRevisionID)
	assert.Equal(t, 1, f.gateway.publishCount(), "identical content must not create a new revision")

	events := f.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeSyncCaughtUp, events[1].Type)
	assert.Equal(t, id.RevisionID("rev-1"), events[1].RevisionID)
}

func TestConflictDetection(t *testing.T) {
	t.Run("foreign remote head", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedPublished(t)

		f.gateway.setHead(&deposit.Revision{
			ID:          "rev-foreign",
			CommuneCode: bl.CommuneCode,
			Status:      deposit.RevisionPublished,
			Validation:  deposit.Validation{Valid: true},
			Files:       []deposit.RevisionFile{{Type: deposit.FileTypeBal, Hash: "other-hash"}},
		})

		got, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.NoError(t, err)

		assert.Equal(t, models.SyncStatusConflict, got.Sync.Status)
		assert.True(t, got.Sync.IsPaused)
		assert.Equal(t, 1, f.gateway.publishCount(), "a conflict must not publish")

		events := f.events.Events()
		require.Len(t, events, 2)
		assert.Equal(t, event.TypeConflictDetected, events[1].Type)
		assert.Equal(t, id.RevisionID("rev-foreign"), events[1].RevisionID)
	})

	t.Run("vanished remote head", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedPublished(t)
		f.gateway.setHead(nil)

		got, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusConflict, got.Sync.Status)
		assert.True(t, got.Sync.IsPaused)
	})

	t.Run("known conflict is left untouched without force", func(t *testing.T) {
		f := newFixture(t)
		bl := f.seedPublished(t)
		f.gateway.setHead(&deposit.Revision{ID: "rev-foreign", CommuneCode: bl.CommuneCode})

		_, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.NoError(t, err)
		headCallsAfterDetection := f.gateway.headCount()

		got, err := f.engine.Reconcile(testCtx(), bl.ID, Options{})
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusConflict, got.Sync.Status)
		assert.Equal(t, headCallsAfterDetection, f.gateway.headCount(),
			"a known conflict must not hit the remote again")
	})
}

func TestForcedConflictResolution(t *testing.T) {
	f := newFixture(t)
	bl := f.seedPublished(t)

	f.gateway.setHead(&deposit.Revision{
		ID:          "rev-foreign",
		CommuneCode: bl.CommuneCode,
		Status:      deposit.RevisionPublished,
		Validation:  deposit.Validation{Valid: true},
		Files:       []deposit.RevisionFile{{Type: deposit.FileTypeBal, Hash: "other-hash"}},
	})

	got, err := f.engine.Reconcile(testCtx(), bl.ID, Options{Force: true})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSynced, got.Sync.Status)
	assert.False(t, got.Sync.IsPaused)
	assert.Equal(t, id.RevisionID("rev-2"), got.Sync.LastUploadedRevisionID)
	assert.Equal(t, 2, f.gateway.publishCount())

	events := f.events.Events()
	require.Len(t, events, 3)
	assert.Equal(t, event.TypeConflictDetected, events[1].Type)
	assert.Equal(t, event.TypePublished, events[2].Type)
	assert.Equal(t, id.RevisionID("rev-foreign"), events[2].OverwrittenRevisionID,
		"a forced resolution must record which remote head it replaced")
}

func TestForcedResolutionAdoptsIdenticalForeignHead(t *testing.T) {
	f := newFixture(t)
	bl := f.seedPublished(t)

	// someone republished our exact content under a new revision id
	localHash := f.gateway.head.FileHash(deposit.FileTypeBal)
	f.gateway.setHead(&deposit.Revision{
		ID:          "rev-foreign",
		CommuneCode: bl.CommuneCode,
		Status:      deposit.RevisionPublished,
		Validation:  deposit.Validation{Valid: true},
		Files:       []deposit.RevisionFile{{Type: deposit.FileTypeBal, Hash: localHash}},
	})

	got, err := f.engine.Reconcile(testCtx(), bl.ID, Options{Force: true})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSynced, got.Sync.Status)
	assert.Equal(t, id.RevisionID("rev-foreign"), got.Sync.LastUploadedRevisionID)
	assert.Equal(t, 1, f.gateway.publishCount(), "identical content adopts the foreign head")
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	bl := f.seedPublished(t)

	paused, err := f.engine.Pause(context.Background(), bl.ID)
	require.NoError(t, err)
	assert.True(t, paused.Sync.IsPaused)

	// idempotent
	paused, err = f.engine.Pause(context.Background(), bl.ID)
	require.NoError(t, err)
	assert.True(t, paused.Sync.IsPaused)

	resumed, err := f.engine.Resume(context.Background(), bl.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Sync.IsPaused)

	_, err = f.engine.Pause(context.Background(), id.NewBaseLocaleID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestConcurrentReconcilesSerialize(t *testing.T) {
	f := newFixture(t)
	bl := f.seedDraft(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Reconcile(testCtx(), bl.ID, Options{})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.gateway.publishCount(), "only the first run publishes, the rest observe synced state")
	assert.Len(t, f.notifier.Sent(), 1)

	got := f.get(t, bl.ID)
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.Equal(t, models.SyncStatusSynced, got.Sync.Status)
}
