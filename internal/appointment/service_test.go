package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/apperr"
	"github.com/hackgods/campus-care-coordination/internal/config"
	"github.com/hackgods/campus-care-coordination/internal/event"
	"github.com/hackgods/campus-care-coordination/internal/identity"
)

// memRepository is an in-memory Repository. Mutate holds the lock for the
// whole call, standing in for the row lock.
type memRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
	block bool
}

func newMemRepository() *memRepository {
	return &memRepository{items: make(map[uuid.UUID]*Appointment)}
}

func clone(a *Appointment) *Appointment {
	c := *a
	c.History = append([]HistoryEntry(nil), a.History...)
	if a.ProviderID != nil {
		v := *a.ProviderID
		c.ProviderID = &v
	}
	if a.SupportID != nil {
		v := *a.SupportID
		c.SupportID = &v
	}
	if a.Location != nil {
		v := *a.Location
		c.Location = &v
	}
	if a.CheckedInAt != nil {
		v := *a.CheckedInAt
		c.CheckedInAt = &v
	}
	return &c
}

func (m *memRepository) wait(ctx context.Context) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *memRepository) Create(ctx context.Context, a *Appointment) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[a.ID] = clone(a)
	return nil
}

func (m *memRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return clone(a), nil
}

func (m *memRepository) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Appointment, bool, error) {
	if err := m.wait(ctx); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.items[id]
	if !ok {
		return nil, false, ErrAppointmentNotFound
	}
	working := clone(stored)
	changed, err := fn(working)
	if err != nil {
		return nil, false, err
	}
	if changed {
		m.items[id] = clone(working)
	}
	return working, changed, nil
}

func (m *memRepository) filter(keep func(*Appointment) bool) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.items {
		if keep(a) {
			out = append(out, *clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *memRepository) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return m.filter(func(a *Appointment) bool { return a.StudentID == studentID }), nil
}

func (m *memRepository) ListUpcoming(ctx context.Context, studentID uuid.UUID, from time.Time) ([]Appointment, error) {
	return m.filter(func(a *Appointment) bool {
		return a.StudentID == studentID && !a.StartTime.Before(from) && !a.Status.Terminal()
	}), nil
}

func (m *memRepository) ListAwaitingDecision(ctx context.Context, limit int) ([]Appointment, error) {
	return m.filter(func(a *Appointment) bool {
		return a.Status == StatusPending || a.Status == StatusRescheduled
	}), nil
}

type published struct {
	event  event.DomainEvent
	topics []string
}

type capturePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *capturePublisher) Publish(_ context.Context, ev event.DomainEvent, topics ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{event: ev, topics: topics})
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	svc      *Service
	repo     *memRepository
	pub      *capturePublisher
	clock    *fakeClock
	student  identity.Identity
	provider identity.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepository()
	pub := &capturePublisher{}
	clock := &fakeClock{t: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)}
	cfg := config.Config{
		StoreTimeout:  time.Second,
		CheckInWindow: 15 * time.Minute,
	}

	svc := NewService(repo, pub, cfg, zerolog.Nop())
	svc.now = clock.Now

	return &fixture{
		svc:      svc,
		repo:     repo,
		pub:      pub,
		clock:    clock,
		student:  identity.Identity{UserID: uuid.New(), Role: identity.RoleStudent},
		provider: identity.Identity{UserID: uuid.New(), Role: identity.RoleProvider},
	}
}

func (f *fixture) tomorrowAt(hour int) time.Time {
	now := f.clock.Now()
	return time.Date(now.Year(), now.Month(), now.Day()+1, hour, 0, 0, 0, time.UTC)
}

func (f *fixture) book(t *testing.T) *Appointment {
	t.Helper()
	appt, err := f.svc.Create(context.Background(), f.student, CreateInput{
		Service:   "Dental",
		StartTime: f.tomorrowAt(10),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return appt
}

func (f *fixture) confirmed(t *testing.T) *Appointment {
	t.Helper()
	appt := f.book(t)
	appt, err := f.svc.ConfirmOrDeny(context.Background(), appt.ID, f.provider, DecisionConfirm)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return appt
}

func expectKind(t *testing.T, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func TestService_BookConfirmRescheduleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t)
	if appt.Status != StatusPending || len(appt.History) != 1 {
		t.Fatalf("expected PENDING with 1 history entry, got %s with %d", appt.Status, len(appt.History))
	}
	if appt.Duration != 45 {
		t.Fatalf("expected Dental duration 45, got %d", appt.Duration)
	}

	appt, err := f.svc.ConfirmOrDeny(ctx, appt.ID, f.provider, DecisionConfirm)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if appt.Status != StatusConfirmed || len(appt.History) != 2 {
		t.Fatalf("expected CONFIRMED with 2 entries, got %s with %d", appt.Status, len(appt.History))
	}
	if appt.ProviderID == nil || *appt.ProviderID != f.provider.UserID {
		t.Fatal("expected provider to be recorded")
	}

	appt, err = f.svc.Reschedule(ctx, appt.ID, f.student, RescheduleInput{StartTime: f.tomorrowAt(14)})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if appt.Status != StatusPending || len(appt.History) != 3 {
		t.Fatalf("expected PENDING with 3 entries, got %s with %d", appt.Status, len(appt.History))
	}
	third := appt.History[2]
	if third.PriorStatus != StatusConfirmed || third.Action != ActionReschedule {
		t.Fatalf("expected third entry to record prior CONFIRMED, got %+v", third)
	}

	if f.pub.count() != 3 {
		t.Fatalf("expected 3 events, got %d", f.pub.count())
	}
	for _, p := range f.pub.events {
		if p.event.Kind != event.AppointmentChanged {
			t.Fatalf("unexpected kind %s", p.event.Kind)
		}
		if len(p.topics) != 2 || p.topics[0] != event.StudentTopic(f.student.UserID) || p.topics[1] != event.ProviderTopic {
			t.Fatalf("unexpected topics %v", p.topics)
		}
	}
}

func TestService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		actor  identity.Identity
		input  CreateInput
		target error
	}{
		{"unknown service", f.student, CreateInput{Service: "Astrology", StartTime: f.tomorrowAt(9)}, apperr.ErrValidation},
		{"start in past", f.student, CreateInput{Service: "Dental", StartTime: f.clock.Now().Add(-time.Hour)}, apperr.ErrValidation},
		{"start now", f.student, CreateInput{Service: "Dental", StartTime: f.clock.Now()}, apperr.ErrValidation},
		{"provider booking", f.provider, CreateInput{Service: "Dental", StartTime: f.tomorrowAt(9)}, apperr.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.actor, tt.input)
			expectKind(t, err, tt.target)
		})
	}

	if f.pub.count() != 0 {
		t.Fatalf("failed creates must not publish, got %d events", f.pub.count())
	}
}

func TestService_ConfirmOrDenyRequiresAwaitingState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	denied := f.book(t)
	denied, err := f.svc.ConfirmOrDeny(ctx, denied.ID, f.provider, DecisionDeny)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied.Status != StatusDenied {
		t.Fatalf("expected DENIED, got %s", denied.Status)
	}

	_, err = f.svc.ConfirmOrDeny(ctx, denied.ID, f.provider, DecisionConfirm)
	expectKind(t, err, apperr.ErrInvalidTransition)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.CurrentState != string(StatusDenied) {
		t.Fatalf("expected current state DENIED in error, got %v", err)
	}

	confirmed := f.confirmed(t)
	_, err = f.svc.ConfirmOrDeny(ctx, confirmed.ID, f.provider, DecisionDeny)
	expectKind(t, err, apperr.ErrInvalidTransition)

	pending := f.book(t)
	_, err = f.svc.ConfirmOrDeny(ctx, pending.ID, f.student, DecisionConfirm)
	expectKind(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.ConfirmOrDeny(ctx, pending.ID, f.provider, Decision("MAYBE"))
	expectKind(t, err, apperr.ErrValidation)

	_, err = f.svc.ConfirmOrDeny(ctx, uuid.New(), f.provider, DecisionConfirm)
	expectKind(t, err, apperr.ErrNotFound)
}

func TestService_LegacyRescheduledStatusIsConfirmable(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	f.repo.mu.Lock()
	f.repo.items[appt.ID].Status = StatusRescheduled
	f.repo.mu.Unlock()

	got, err := f.svc.ConfirmOrDeny(context.Background(), appt.ID, f.provider, DecisionConfirm)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", got.Status)
	}
}

func TestService_OwnershipChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t)
	intruder := identity.Identity{UserID: uuid.New(), Role: identity.RoleStudent}

	_, err := f.svc.Reschedule(ctx, appt.ID, intruder, RescheduleInput{StartTime: f.tomorrowAt(15)})
	expectKind(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.Reschedule(ctx, appt.ID, f.provider, RescheduleInput{StartTime: f.tomorrowAt(15)})
	expectKind(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.Cancel(ctx, appt.ID, intruder)
	expectKind(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.Get(ctx, appt.ID, intruder)
	expectKind(t, err, apperr.ErrUnauthorized)

	if _, err := f.svc.Get(ctx, appt.ID, f.provider); err != nil {
		t.Fatalf("provider get: %v", err)
	}
}

func TestService_TerminalStatesRejectTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cancelled, err := f.svc.Cancel(ctx, f.confirmed(t).ID, f.student)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	completed, err := f.svc.Complete(ctx, f.confirmed(t).ID, f.provider)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	for _, appt := range []*Appointment{cancelled, completed} {
		ops := map[string]func() error{
			"cancel": func() error { _, err := f.svc.Cancel(ctx, appt.ID, f.student); return err },
			"reschedule": func() error {
				_, err := f.svc.Reschedule(ctx, appt.ID, f.student, RescheduleInput{StartTime: f.tomorrowAt(16)})
				return err
			},
			"support": func() error { _, err := f.svc.AssignSupport(ctx, appt.ID, f.provider, uuid.New()); return err },
			"location": func() error {
				_, err := f.svc.SetLocation(ctx, appt.ID, f.provider, LocationTelehealth)
				return err
			},
			"confirm": func() error { _, err := f.svc.ConfirmOrDeny(ctx, appt.ID, f.provider, DecisionConfirm); return err },
		}
		for name, op := range ops {
			if err := op(); !errors.Is(err, apperr.ErrInvalidTransition) {
				t.Fatalf("%s on %s: expected invalid transition, got %v", name, appt.Status, err)
			}
		}
	}
}

func TestService_AssignSupportAndLocationKeepStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t)
	support := uuid.New()

	got, err := f.svc.AssignSupport(ctx, appt.ID, f.provider, support)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Status != StatusPending || len(got.History) != 1 {
		t.Fatalf("support must not change status or history: %s %d", got.Status, len(got.History))
	}
	if got.SupportID == nil || *got.SupportID != support {
		t.Fatal("expected support to be set")
	}

	events := f.pub.count()
	if _, err := f.svc.AssignSupport(ctx, appt.ID, f.provider, support); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if f.pub.count() != events {
		t.Fatal("assigning the same support twice must not publish")
	}

	got, err = f.svc.SetLocation(ctx, appt.ID, f.provider, LocationNorthCampus)
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if got.Location == nil || *got.Location != LocationNorthCampus || len(got.History) != 1 {
		t.Fatalf("unexpected location result %+v", got)
	}

	_, err = f.svc.SetLocation(ctx, appt.ID, f.provider, Location("MOON"))
	expectKind(t, err, apperr.ErrValidation)

	_, err = f.svc.AssignSupport(ctx, appt.ID, f.student, uuid.New())
	expectKind(t, err, apperr.ErrUnauthorized)
}

func TestService_CheckInWindow(t *testing.T) {
	tests := []struct {
		name    string
		offset  time.Duration // now relative to start
		confirm bool
		wantErr error
	}{
		{"at start", 0, true, nil},
		{"early inside window", -15 * time.Minute, true, nil},
		{"late inside window", 10 * time.Minute, true, nil},
		{"too early", -16 * time.Minute, true, apperr.ErrInvalidTransition},
		{"too late", 20 * time.Minute, true, apperr.ErrInvalidTransition},
		{"pending in window", 0, false, apperr.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			appt := f.book(t)
			if tt.confirm {
				appt = f.confirmed(t)
			}

			f.clock.Set(appt.StartTime.Add(tt.offset))
			got, err := f.svc.CheckIn(context.Background(), appt.ID, f.student)
			if tt.wantErr != nil {
				expectKind(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("check in: %v", err)
			}
			if !got.CheckedIn || got.CheckedInAt == nil || !got.CheckedInAt.Equal(f.clock.Now()) {
				t.Fatalf("expected checked in at %s, got %+v", f.clock.Now(), got)
			}
			if got.Status != StatusConfirmed {
				t.Fatalf("check-in must keep status, got %s", got.Status)
			}
		})
	}
}

func TestService_CheckInTwiceIsNoOp(t *testing.T) {
	f := newFixture(t)
	appt := f.confirmed(t)
	f.clock.Set(appt.StartTime)

	first, err := f.svc.CheckIn(context.Background(), appt.ID, f.provider)
	if err != nil {
		t.Fatalf("first check in: %v", err)
	}
	events := f.pub.count()

	f.clock.Set(appt.StartTime.Add(time.Minute))
	second, err := f.svc.CheckIn(context.Background(), appt.ID, f.student)
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if !second.CheckedInAt.Equal(*first.CheckedInAt) {
		t.Fatal("second check in must not move checkedInAt")
	}
	if f.pub.count() != events {
		t.Fatal("second check in must not publish")
	}
}

func TestService_RescheduleClearsCheckIn(t *testing.T) {
	f := newFixture(t)
	appt := f.confirmed(t)
	f.clock.Set(appt.StartTime)
	if _, err := f.svc.CheckIn(context.Background(), appt.ID, f.student); err != nil {
		t.Fatalf("check in: %v", err)
	}

	got, err := f.svc.Reschedule(context.Background(), appt.ID, f.student, RescheduleInput{
		StartTime: appt.StartTime.Add(48 * time.Hour),
		Service:   "counseling",
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if got.CheckedIn || got.CheckedInAt != nil {
		t.Fatal("reschedule must clear check-in")
	}
	if got.Service != OfferingCounseling || got.Duration != 60 {
		t.Fatalf("expected counseling for 60 minutes, got %s %d", got.Service, got.Duration)
	}

	_, err = f.svc.Reschedule(context.Background(), appt.ID, f.student, RescheduleInput{StartTime: f.clock.Now().Add(-time.Minute)})
	expectKind(t, err, apperr.ErrValidation)
}

func TestService_HistoryMatchesSuccessfulTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t)
	transitions := 1

	steps := []func() (bool, error){
		func() (bool, error) { _, err := f.svc.Cancel(ctx, appt.ID, f.provider); return true, err },
		func() (bool, error) {
			_, err := f.svc.ConfirmOrDeny(ctx, appt.ID, f.provider, DecisionConfirm)
			return true, err
		},
		func() (bool, error) { _, err := f.svc.AssignSupport(ctx, appt.ID, f.provider, uuid.New()); return false, err },
		func() (bool, error) {
			_, err := f.svc.ConfirmOrDeny(ctx, appt.ID, f.provider, DecisionConfirm)
			return true, err
		},
		func() (bool, error) {
			_, err := f.svc.Reschedule(ctx, appt.ID, f.student, RescheduleInput{StartTime: f.tomorrowAt(17)})
			return true, err
		},
		func() (bool, error) { _, err := f.svc.Complete(ctx, appt.ID, f.provider); return true, err },
		func() (bool, error) {
			_, err := f.svc.ConfirmOrDeny(ctx, appt.ID, f.provider, DecisionDeny)
			return true, err
		},
		func() (bool, error) { _, err := f.svc.Cancel(ctx, appt.ID, f.student); return true, err },
		func() (bool, error) { _, err := f.svc.Cancel(ctx, appt.ID, f.student); return true, err },
	}

	for _, step := range steps {
		statusChange, err := step()
		if err == nil && statusChange {
			transitions++
		}
	}

	got, err := f.svc.Get(ctx, appt.ID, f.student)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != transitions {
		t.Fatalf("expected %d history entries, got %d", transitions, len(got.History))
	}
	for i := 1; i < len(got.History); i++ {
		if got.History[i].PriorStatus != got.History[i-1].Status {
			t.Fatalf("history gap at %d: %+v", i, got.History)
		}
	}
	if last := got.History[len(got.History)-1]; last.Status != got.Status {
		t.Fatalf("last entry %s does not match status %s", last.Status, got.Status)
	}
}

func TestService_StoreTimeout(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	f.repo.block = true
	f.svc.cfg.StoreTimeout = 20 * time.Millisecond

	_, err := f.svc.Cancel(context.Background(), appt.ID, f.student)
	expectKind(t, err, apperr.ErrTimeout)

	_, err = f.svc.Create(context.Background(), f.student, CreateInput{Service: "Dental", StartTime: f.tomorrowAt(11)})
	expectKind(t, err, apperr.ErrTimeout)

	if f.pub.count() != 1 {
		t.Fatalf("timed out calls must not publish, got %d events", f.pub.count())
	}
}

func TestService_SnapshotReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.book(t)
	confirmed := f.confirmed(t)
	if _, err := f.svc.Cancel(ctx, f.book(t).ID, f.student); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	upcoming, err := f.svc.Upcoming(ctx, f.student.UserID)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(upcoming) != 2 {
		t.Fatalf("expected 2 upcoming appointments, got %d", len(upcoming))
	}

	awaiting, err := f.svc.AwaitingDecision(ctx)
	if err != nil {
		t.Fatalf("awaiting: %v", err)
	}
	if len(awaiting) != 1 || awaiting[0].ID != pending.ID {
		t.Fatalf("expected only %s awaiting decision, got %v", pending.ID, awaiting)
	}
	_ = confirmed
}
