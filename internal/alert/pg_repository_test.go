package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/campus-care-coordination/internal/db/dbtest"
)

func insertAlert(t *testing.T, repo *PgRepository, status Status, end time.Time) uuid.UUID {
	t.Helper()
	a := &HealthAlert{
		ID:        uuid.New(),
		Title:     "Water main repair",
		Content:   "No water in Hall B",
		Priority:  PriorityMedium,
		StartTime: end.Add(-time.Hour),
		EndTime:   end,
		Status:    status,
		CreatedBy: uuid.New(),
		CreatedAt: end.Add(-time.Hour),
	}
	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("create alert: %v", err)
	}
	return a.ID
}

func TestPgRepository_ConcurrentExpireDueIsDisjoint(t *testing.T) {
	repo := NewPgRepository(dbtest.Pool(t))
	now := time.Now().UTC()

	due := make(map[uuid.UUID]Status)
	for i := 0; i < 30; i++ {
		status := StatusActive
		if i%5 == 0 {
			status = StatusDraft
		}
		due[insertAlert(t, repo, status, now.Add(-time.Minute))] = status
	}
	notDue := insertAlert(t, repo, StatusActive, now.Add(time.Hour))

	const sweepers = 4
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([][]Expired, sweepers)
		errs    = make([]error, sweepers)
	)
	for i := 0; i < sweepers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = repo.ExpireDue(context.Background(), now)
		}(i)
	}
	close(start)
	wg.Wait()

	seen := make(map[uuid.UUID]int)
	for i, list := range results {
		if errs[i] != nil {
			t.Fatalf("sweeper %d: %v", i, errs[i])
		}
		for _, e := range list {
			want, ours := due[e.Alert.ID]
			if e.Alert.ID == notDue {
				t.Fatalf("alert ending in the future was expired")
			}
			if !ours {
				continue
			}
			seen[e.Alert.ID]++
			if e.Alert.Status != StatusExpired {
				t.Errorf("returned status = %s, want EXPIRED", e.Alert.Status)
			}
			if e.Prior != want {
				t.Errorf("prior = %s, want %s", e.Prior, want)
			}
		}
	}

	for id := range due {
		if seen[id] != 1 {
			t.Errorf("alert %s returned %d times, want exactly once", id, seen[id])
		}
	}

	again, err := repo.ExpireDue(context.Background(), now)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	for _, e := range again {
		if _, ours := due[e.Alert.ID]; ours {
			t.Errorf("alert %s expired twice", e.Alert.ID)
		}
	}
}

func TestPgRepository_ListActive(t *testing.T) {
	repo := NewPgRepository(dbtest.Pool(t))
	now := time.Now().UTC()

	active := insertAlert(t, repo, StatusActive, now.Add(time.Hour))
	draft := insertAlert(t, repo, StatusDraft, now.Add(time.Hour))
	lapsed := insertAlert(t, repo, StatusActive, now.Add(-time.Minute))

	list, err := repo.ListActive(context.Background(), now)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}

	found := make(map[uuid.UUID]bool)
	for _, a := range list {
		found[a.ID] = true
	}
	if !found[active] {
		t.Errorf("active alert missing")
	}
	if found[draft] || found[lapsed] {
		t.Errorf("draft or lapsed alert listed: draft=%v lapsed=%v", found[draft], found[lapsed])
	}
}
