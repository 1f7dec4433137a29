package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gharsathi/internal/billing"
	"gharsathi/internal/events"
	"gharsathi/internal/models"
	"gharsathi/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

var testActors = []models.Actor{
	{ID: "u-1", Role: models.RoleUser, Name: "Sita"},
	{ID: "u-2", Role: models.RoleUser, Name: "Gita"},
	{ID: "p-1", Role: models.RoleProvider, Name: "Ram"},
	{ID: "p-2", Role: models.RoleProvider, Name: "Hari"},
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking).Clone(), args.Error(1)
}
func (m *mockRepo) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) UpdateBookingWithVersion(ctx context.Context, b *models.Booking, v int64) error {
	return m.Called(ctx, b, v).Error(0)
}

// recorder collects published event types in order.
type recorder struct {
	mu    sync.Mutex
	types []string
	last  map[string]events.Event
}

func (r *recorder) handle(e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	if r.last == nil {
		r.last = map[string]events.Event{}
	}
	r.last[e.Type] = *e
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type testEnv struct {
	svc   *BookingService
	repo  *repository.MemoryBookingRepository
	rec   *recorder
	clock time.Time
}

func (e *testEnv) at(d time.Duration) { e.clock = base.Add(d) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithPolicy(t, billing.DefaultPolicy())
}

func newTestEnvWithPolicy(t *testing.T, policy billing.Policy) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:  repository.NewMemoryBookingRepository(),
		rec:   &recorder{},
		clock: base,
	}
	bus := events.NewEventBus()
	bus.SubscribeAll(events.AllBookingEvents, env.rec.handle)

	svc, err := NewBookingService(env.repo, repository.NewStaticDirectory(testActors), bus, Options{
		Billing:     policy,
		NodeID:      1,
		NoteRetries: 100,
		Clock:       func() time.Time { return env.clock },
	}, nil)
	require.NoError(t, err)
	env.svc = svc
	return env
}

func createInput() models.CreateBookingInput {
	return models.CreateBookingInput{
		UserID:          "u-1",
		ProviderID:      "p-1",
		ServiceType:     "plumbing",
		DurationInHours: 2,
		StartTime:       base.Add(time.Hour),
		Charge:          400,
		Location:        &models.Location{Address: "Baneshwor, Kathmandu"},
	}
}

func (e *testEnv) create(t *testing.T) *models.Booking {
	t.Helper()
	b, err := e.svc.CreateBooking(context.Background(), createInput())
	require.NoError(t, err)
	return b
}

func (e *testEnv) move(t *testing.T, code, actor string, to models.Status, p models.TransitionPayload) *models.Booking {
	t.Helper()
	b, err := e.svc.TransitionBooking(context.Background(), code, models.TransitionRequest{ActorID: actor, Target: to, Payload: p})
	require.NoError(t, err, "-> %s by %s", to, actor)
	return b
}

// completed drives a fresh booking to completed with three worked hours.
func (e *testEnv) completed(t *testing.T) *models.Booking {
	t.Helper()
	b := e.create(t)
	e.at(5 * time.Minute)
	e.move(t, b.BookingID, "p-1", models.StatusAccepted, models.TransitionPayload{})
	e.at(10 * time.Minute)
	e.move(t, b.BookingID, "u-1", models.StatusConfirmed, models.TransitionPayload{})
	e.at(time.Hour)
	e.move(t, b.BookingID, "p-1", models.StatusInProgress, models.TransitionPayload{})
	e.at(4 * time.Hour)
	e.move(t, b.BookingID, "p-1", models.StatusCompletedByProvider, models.TransitionPayload{})
	return e.move(t, b.BookingID, "u-1", models.StatusCompletedByUser, models.TransitionPayload{})
}

func TestCreateBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		in := createInput()
		in.Materials = []models.Material{{Name: "pipe", Cost: 120.5}, {Name: "tape", Cost: 30}}

		b, err := env.svc.CreateBooking(ctx, in)
		require.NoError(t, err)
		assert.Regexp(t, `^BK-[0-9A-Z]+$`, b.BookingID)
		assert.NotEmpty(t, b.ID)
		assert.Equal(t, models.StatusPending, b.Status)
		assert.Equal(t, models.PaymentPending, b.PaymentStatus)
		assert.Equal(t, models.PaymentMethodNone, b.PaymentMethod)
		assert.Equal(t, int64(1), b.Version)
		assert.Equal(t, 150.5, b.MaterialsCost)
		assert.Equal(t, 550.5, b.TotalCharge)
		assert.Equal(t, base, b.CreatedAt)

		stored, err := env.svc.GetBooking(ctx, b.BookingID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, stored.ID)
		assert.Contains(t, env.rec.seen(), events.EventBookingCreated)
	})

	t.Run("UniqueCodes", func(t *testing.T) {
		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			b := env.create(t)
			assert.False(t, seen[b.BookingID], "duplicate code %s", b.BookingID)
			seen[b.BookingID] = true
		}
	})

	cases := []struct {
		name  string
		edit  func(in *models.CreateBookingInput)
		field string
	}{
		{"UnknownProvider", func(in *models.CreateBookingInput) { in.ProviderID = "p-404" }, "providerId"},
		{"ProviderIsUser", func(in *models.CreateBookingInput) { in.ProviderID = "u-2" }, "providerId"},
		{"UserIsProvider", func(in *models.CreateBookingInput) { in.UserID = "p-2" }, "userId"},
		{"ChargeBelowMinimum", func(in *models.CreateBookingInput) { in.Charge = 150 }, "charge"},
		{"NegativeCharge", func(in *models.CreateBookingInput) { in.Charge = -1 }, "charge"},
		{"ShortDuration", func(in *models.CreateBookingInput) { in.DurationInHours = 0.25 }, ""},
		{"MissingStart", func(in *models.CreateBookingInput) { in.StartTime = time.Time{} }, "startTime"},
		{"SameParty", func(in *models.CreateBookingInput) { in.ProviderID = in.UserID }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := createInput()
			tc.edit(&in)
			_, err := env.svc.CreateBooking(ctx, in)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrValidation)
			if tc.field != "" {
				var ve *models.ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, tc.field, ve.Field)
			}
		})
	}
}

func TestCreateBookingRepoError(t *testing.T) {
	repo := new(mockRepo)
	svc, err := NewBookingService(repo, repository.NewStaticDirectory(testActors), nil, Options{}, nil)
	require.NoError(t, err)

	repo.On("CreateBooking", mock.Anything, mock.Anything).Return(models.ErrDuplicateBookingCode)
	_, err = svc.CreateBooking(context.Background(), createInput())
	assert.ErrorIs(t, err, models.ErrDuplicateBookingCode)
	repo.AssertExpectations(t)
}

func TestLifecycleThroughService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b := env.completed(t)
	assert.Equal(t, models.StatusCompleted, b.Status)
	require.NotNil(t, b.ActualDuration)
	assert.Equal(t, 3.0, *b.ActualDuration)
	assert.Equal(t, 600.0, b.Charge)
	assert.Equal(t, 600.0, b.TotalCharge)
	assert.Equal(t, int64(6), b.Version)

	env.at(5 * time.Hour)
	paid, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
		Method:        models.PaymentMethodEsewa,
		Status:        models.PaymentCompleted,
		Amount:        600,
		TransactionID: "tx-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, paid.Status)
	assert.Equal(t, models.PaymentCompleted, paid.PaymentStatus)
	assert.True(t, paid.ChargeLocked)
	assert.Equal(t, int64(7), paid.Version)

	again, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
		Method:        models.PaymentMethodEsewa,
		Status:        models.PaymentCompleted,
		Amount:        600,
		TransactionID: "tx-1",
	})
	require.NoError(t, err, "gateway redelivery must be idempotent")
	assert.Equal(t, int64(7), again.Version)

	rating := 5
	reviewed := env.move(t, b.BookingID, "u-1", models.StatusReviewed, models.TransitionPayload{Rating: &rating, Comment: "quick fix"})
	assert.Equal(t, models.StatusReviewed, reviewed.Status)
	assert.Equal(t, 600.0, reviewed.TotalCharge)

	_, err = env.svc.TransitionBooking(ctx, b.BookingID, models.TransitionRequest{ActorID: "u-1", Target: models.StatusCancelled})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	assert.Equal(t, []string{
		events.EventBookingCreated,
		events.EventBookingTransitioned,
		events.EventBookingTransitioned,
		events.EventBookingTransitioned,
		events.EventBookingTransitioned,
		events.EventBookingTransitioned,
		events.EventPaymentApplied,
		events.EventBookingTransitioned,
	}, env.rec.seen())
}

func TestTransitionBookingErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.create(t)

	t.Run("UserCannotAccept", func(t *testing.T) {
		_, err := env.svc.TransitionBooking(ctx, b.BookingID, models.TransitionRequest{ActorID: "u-1", Target: models.StatusAccepted})
		assert.ErrorIs(t, err, models.ErrActorNotPermitted)
	})

	t.Run("OtherProviderCannotAccept", func(t *testing.T) {
		_, err := env.svc.TransitionBooking(ctx, b.BookingID, models.TransitionRequest{ActorID: "p-2", Target: models.StatusAccepted})
		assert.ErrorIs(t, err, models.ErrActorNotPermitted)
	})

	t.Run("UnknownActor", func(t *testing.T) {
		_, err := env.svc.TransitionBooking(ctx, b.BookingID, models.TransitionRequest{ActorID: "ghost", Target: models.StatusAccepted})
		assert.ErrorIs(t, err, models.ErrActorNotPermitted)
	})

	t.Run("MissingActor", func(t *testing.T) {
		_, err := env.svc.TransitionBooking(ctx, b.BookingID, models.TransitionRequest{Target: models.StatusAccepted})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("SkipAhead", func(t *testing.T) {
		_, err := env.svc.TransitionBooking(ctx, b.BookingID, models.TransitionRequest{ActorID: "p-1", Target: models.StatusInProgress})
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("UnknownBooking", func(t *testing.T) {
		_, err := env.svc.TransitionBooking(ctx, "BK-NOPE", models.TransitionRequest{ActorID: "p-1", Target: models.StatusAccepted})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("StaleExpectedVersion", func(t *testing.T) {
		_, err := env.svc.TransitionBooking(ctx, b.BookingID, models.TransitionRequest{ActorID: "p-1", Target: models.StatusAccepted, ExpectedVersion: 7})
		assert.ErrorIs(t, err, models.ErrConcurrentModification)
	})

	t.Run("RejectionLeavesRecordUntouched", func(t *testing.T) {
		stored, err := env.svc.GetBooking(ctx, b.BookingID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, stored.Status)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("CancelAfterStart", func(t *testing.T) {
		other := env.create(t)
		env.at(5 * time.Minute)
		env.move(t, other.BookingID, "p-1", models.StatusAccepted, models.TransitionPayload{})
		env.move(t, other.BookingID, "u-1", models.StatusConfirmed, models.TransitionPayload{})
		env.at(time.Hour)
		env.move(t, other.BookingID, "p-1", models.StatusInProgress, models.TransitionPayload{})

		_, err := env.svc.TransitionBooking(ctx, other.BookingID, models.TransitionRequest{ActorID: "u-1", Target: models.StatusCancelled})
		assert.ErrorIs(t, err, models.ErrStateTransition)
	})

	t.Run("SystemMayCancel", func(t *testing.T) {
		other := env.create(t)
		cancelled := env.move(t, other.BookingID, models.SystemActorID, models.StatusCancelled, models.TransitionPayload{Reason: "provider unavailable"})
		assert.Equal(t, models.StatusCancelled, cancelled.Status)
		assert.Equal(t, "provider unavailable", cancelled.Notes[len(cancelled.Notes)-1].Text)
	})
}

func TestTransitionSaveConflict(t *testing.T) {
	repo := new(mockRepo)
	svc, err := NewBookingService(repo, repository.NewStaticDirectory(testActors), nil, Options{Clock: func() time.Time { return base }}, nil)
	require.NoError(t, err)

	current := &models.Booking{
		ID: "rec-1", BookingID: "BK-1", UserID: "u-1", ProviderID: "p-1",
		ServiceType: "plumbing", DurationInHours: 1, StartTime: base.Add(time.Hour),
		Charge: 200, TotalCharge: 200, Status: models.StatusPending,
		PaymentMethod: models.PaymentMethodNone, PaymentStatus: models.PaymentPending,
		CreatedAt: base, UpdatedAt: base, Version: 3,
	}
	repo.On("GetBookingByCode", mock.Anything, "BK-1").Return(current, nil)
	repo.On("UpdateBookingWithVersion", mock.Anything, mock.AnythingOfType("*models.Booking"), int64(3)).Return(models.ErrConcurrentModification)

	_, err = svc.TransitionBooking(context.Background(), "BK-1", models.TransitionRequest{ActorID: "p-1", Target: models.StatusAccepted})
	assert.ErrorIs(t, err, models.ErrConcurrentModification)
	assert.Equal(t, models.StatusPending, current.Status)
	repo.AssertExpectations(t)
}

func TestConcurrentTransitionsOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.create(t)

	targets := []models.Status{models.StatusAccepted, models.StatusDeclined}
	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.TransitionBooking(ctx, b.BookingID, models.TransitionRequest{
				ActorID: "p-1",
				Target:  targets[i%2],
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, models.ErrConcurrentModification) && !errors.Is(err, models.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	stored, err := env.svc.GetBooking(ctx, b.BookingID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Contains(t, targets, stored.Status)
}

func TestApplyPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("AmountMismatch", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.completed(t)

		_, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			Method: models.PaymentMethodEsewa, Status: models.PaymentCompleted, Amount: 500, TransactionID: "tx-9",
		})
		var mismatch *models.AmountMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, 600.0, mismatch.Expected)
		assert.Equal(t, 500.0, mismatch.Got)
		assert.Contains(t, env.rec.seen(), events.EventPaymentRejected)

		stored, _ := env.svc.GetBooking(ctx, b.BookingID)
		assert.Equal(t, models.StatusCompleted, stored.Status)
		assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
		assert.Equal(t, b.Version, stored.Version)
	})

	t.Run("CashByUserRejected", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.completed(t)
		_, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			ActorID: "u-1", Method: models.PaymentMethodCash, Status: models.PaymentCompleted, Amount: 600,
		})
		assert.ErrorIs(t, err, models.ErrActorNotPermitted)
	})

	t.Run("CashByProvider", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.completed(t)
		paid, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			ActorID: "p-1", Method: models.PaymentMethodCash, Status: models.PaymentCompleted, Amount: 600,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaid, paid.Status)
		assert.Equal(t, models.PaymentMethodCash, paid.PaymentMethod)
	})

	t.Run("BeforeCompletion", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.create(t)
		_, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			Method: models.PaymentMethodEsewa, Status: models.PaymentCompleted, Amount: 400, TransactionID: "tx-1",
		})
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("FailedThenSettled", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.completed(t)
		failed, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			Method: models.PaymentMethodEsewa, Status: models.PaymentFailed, TransactionID: "tx-1",
		})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentFailed, failed.PaymentStatus)
		assert.Equal(t, models.StatusCompleted, failed.Status)

		paid, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			Method: models.PaymentMethodEsewa, Status: models.PaymentCompleted, Amount: 600, TransactionID: "tx-2",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaid, paid.Status)
	})

	t.Run("SecondSettlementRejected", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.completed(t)
		_, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			Method: models.PaymentMethodEsewa, Status: models.PaymentCompleted, Amount: 600, TransactionID: "tx-1",
		})
		require.NoError(t, err)
		_, err = env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			Method: models.PaymentMethodEsewa, Status: models.PaymentCompleted, Amount: 600, TransactionID: "tx-other",
		})
		assert.ErrorIs(t, err, models.ErrAlreadyPaid)
	})

	t.Run("Refund", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.completed(t)
		_, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			Method: models.PaymentMethodEsewa, Status: models.PaymentCompleted, Amount: 600, TransactionID: "tx-1",
		})
		require.NoError(t, err)

		_, err = env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			ActorID: "u-1", Method: models.PaymentMethodEsewa, Status: models.PaymentRefunded,
		})
		assert.ErrorIs(t, err, models.ErrActorNotPermitted)

		refunded, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			ActorID: "p-1", Method: models.PaymentMethodEsewa, Status: models.PaymentRefunded,
		})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentRefunded, refunded.PaymentStatus)
		assert.Equal(t, models.StatusPaid, refunded.Status)
	})
}

func TestAppendNote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.create(t)

	t.Run("Party", func(t *testing.T) {
		env.at(time.Minute)
		got, err := env.svc.AppendNote(ctx, b.BookingID, "u-1", "  please bring a ladder ")
		require.NoError(t, err)
		last := got.Notes[len(got.Notes)-1]
		assert.Equal(t, "please bring a ladder", last.Text)
		assert.Equal(t, "u-1", last.CreatedBy)
		assert.Equal(t, base.Add(time.Minute), last.CreatedAt)
		assert.Equal(t, models.StatusPending, got.Status)
	})

	t.Run("Outsider", func(t *testing.T) {
		_, err := env.svc.AppendNote(ctx, b.BookingID, "u-2", "hello")
		assert.ErrorIs(t, err, models.ErrActorNotPermitted)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := env.svc.AppendNote(ctx, b.BookingID, "u-1", "   ")
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("TooLong", func(t *testing.T) {
		long := make([]byte, models.MaxNoteLength+1)
		for i := range long {
			long[i] = 'a'
		}
		_, err := env.svc.AppendNote(ctx, b.BookingID, "u-1", string(long))
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("ConcurrentNotesAllLand", func(t *testing.T) {
		before, err := env.svc.GetBooking(ctx, b.BookingID)
		require.NoError(t, err)

		const writers = 10
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				actor := "u-1"
				if i%2 == 1 {
					actor = "p-1"
				}
				_, err := env.svc.AppendNote(ctx, b.BookingID, actor, "note")
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		after, err := env.svc.GetBooking(ctx, b.BookingID)
		require.NoError(t, err)
		assert.Len(t, after.Notes, len(before.Notes)+writers)
		assert.Equal(t, before.Version+writers, after.Version)
	})
}

func TestCustomTariff(t *testing.T) {
	ctx := context.Background()

	t.Run("LowerMinimumCompletesAndPays", func(t *testing.T) {
		env := newTestEnvWithPolicy(t, billing.Policy{MinimumCharge: 150, HourlyRate: 150})
		in := createInput()
		in.Charge = 150
		in.DurationInHours = 1
		b, err := env.svc.CreateBooking(ctx, in)
		require.NoError(t, err)

		one := 1.0
		env.at(5 * time.Minute)
		env.move(t, b.BookingID, "p-1", models.StatusAccepted, models.TransitionPayload{})
		env.at(10 * time.Minute)
		env.move(t, b.BookingID, "u-1", models.StatusConfirmed, models.TransitionPayload{})
		env.at(time.Hour)
		env.move(t, b.BookingID, "p-1", models.StatusInProgress, models.TransitionPayload{})
		env.at(2 * time.Hour)
		env.move(t, b.BookingID, "p-1", models.StatusCompletedByProvider, models.TransitionPayload{ActualDuration: &one})
		done := env.move(t, b.BookingID, "u-1", models.StatusCompletedByUser, models.TransitionPayload{})
		assert.Equal(t, models.StatusCompleted, done.Status)
		assert.Equal(t, 150.0, done.TotalCharge)

		paid, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			Method: models.PaymentMethodEsewa, Status: models.PaymentCompleted, Amount: 150, TransactionID: "tx-150",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaid, paid.Status)
	})

	t.Run("HigherMinimumRejectsLowCharge", func(t *testing.T) {
		env := newTestEnvWithPolicy(t, billing.Policy{MinimumCharge: 300, HourlyRate: 200})
		in := createInput()
		in.Charge = 250
		_, err := env.svc.CreateBooking(ctx, in)
		var ve *models.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "charge", ve.Field)

		in.Charge = 300
		b, err := env.svc.CreateBooking(ctx, in)
		require.NoError(t, err)

		low := 250.0
		_, err = env.svc.UpdateCharges(ctx, b.BookingID, models.ChargeUpdate{ActorID: "p-1", Charge: &low})
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestUpdateCharges(t *testing.T) {
	ctx := context.Background()
	price := func(v float64) *float64 { return &v }

	t.Run("ProviderRevises", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.create(t)

		got, err := env.svc.UpdateCharges(ctx, b.BookingID, models.ChargeUpdate{
			ActorID:          "p-1",
			Materials:        []models.Material{{Name: "pipe", Cost: 120.5}},
			AdditionalCharge: price(50),
			ExpectedVersion:  1,
		})
		require.NoError(t, err)
		assert.Equal(t, 120.5, got.MaterialsCost)
		assert.Equal(t, 570.5, got.TotalCharge)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, int64(2), got.Version)
		assert.Contains(t, env.rec.seen(), events.EventBookingChargesUpdated)
	})

	t.Run("MaintenancePriceWins", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.create(t)

		got, err := env.svc.UpdateCharges(ctx, b.BookingID, models.ChargeUpdate{
			ActorID:            "p-1",
			AdditionalCharge:   price(100),
			MaintenanceDetails: &models.MaintenanceDetails{MaintenancePrice: price(350)},
		})
		require.NoError(t, err)
		assert.Equal(t, 350.0, got.TotalCharge)
	})

	t.Run("MaterialCostFilledFromSheet", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.create(t)

		got, err := env.svc.UpdateCharges(ctx, b.BookingID, models.ChargeUpdate{
			ActorID: "p-1",
			MaintenanceDetails: &models.MaintenanceDetails{
				Materials: []models.Material{{Name: "valve", Cost: 80}, {Name: "seal", Cost: 20}},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, got.MaintenanceDetails)
		assert.Equal(t, 100.0, got.MaintenanceDetails.MaterialCost)
	})

	t.Run("UserRejected", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.create(t)
		_, err := env.svc.UpdateCharges(ctx, b.BookingID, models.ChargeUpdate{ActorID: "u-1", AdditionalCharge: price(10)})
		assert.ErrorIs(t, err, models.ErrActorNotPermitted)
	})

	t.Run("NegativeRejected", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.create(t)
		_, err := env.svc.UpdateCharges(ctx, b.BookingID, models.ChargeUpdate{ActorID: "p-1", AdditionalCharge: price(-10)})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("StaleVersion", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.create(t)
		_, err := env.svc.UpdateCharges(ctx, b.BookingID, models.ChargeUpdate{ActorID: "p-1", AdditionalCharge: price(10), ExpectedVersion: 9})
		assert.ErrorIs(t, err, models.ErrConcurrentModification)
	})

	t.Run("LockedAfterPayment", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.completed(t)
		_, err := env.svc.ApplyPayment(ctx, b.BookingID, models.PaymentRequest{
			Method: models.PaymentMethodEsewa, Status: models.PaymentCompleted, Amount: 600, TransactionID: "tx-1",
		})
		require.NoError(t, err)

		_, err = env.svc.UpdateCharges(ctx, b.BookingID, models.ChargeUpdate{ActorID: "p-1", AdditionalCharge: price(10)})
		assert.ErrorIs(t, err, models.ErrChargesLocked)
	})
}

func TestListBookings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.create(t)
	env.at(time.Minute)
	second := env.create(t)
	env.move(t, second.BookingID, "p-1", models.StatusAccepted, models.TransitionPayload{})

	all, err := env.svc.ListBookings(ctx, models.BookingFilter{UserID: "u-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.BookingID, all[0].BookingID)
	assert.Equal(t, first.BookingID, all[1].BookingID)

	accepted, err := env.svc.ListBookings(ctx, models.BookingFilter{Status: models.StatusAccepted})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, second.BookingID, accepted[0].BookingID)

	_, err = env.svc.ListBookings(ctx, models.BookingFilter{Status: "archived"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCodeGenerator(t *testing.T) {
	gen, err := NewCodeGenerator(3)
	require.NoError(t, err)

	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		code := gen.Next()
		assert.Regexp(t, `^BK-[0-9A-Z]+$`, code)
		assert.False(t, seen[code])
		seen[code] = true
	}

	_, err = NewCodeGenerator(4096)
	assert.Error(t, err)
}
