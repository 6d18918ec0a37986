package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := migratedTestStore(t)
	repo := store.Timeline()
	ctx := context.Background()
	base := time.Now().UTC().Round(time.Microsecond)

	events := []domain.TimelineEvent{
		{OrderID: "order-1", Type: domain.TimelineOrderCreated, Reason: "created", Occurred: base},
		{OrderID: "order-1", Type: domain.TimelineItemsAdded, Reason: "1 item", Occurred: base.Add(time.Second)},
		{OrderID: "order-2", Type: domain.TimelineOrderCreated, Occurred: base},
	}
	for _, event := range events {
		if err := repo.Append(ctx, event); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	got, err := repo.List(ctx, "order-1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != domain.TimelineOrderCreated || got[1].Type != domain.TimelineItemsAdded {
		t.Fatalf("unexpected event order: %+v", got)
	}
	if !got[1].Occurred.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected occurred time: %s", got[1].Occurred)
	}
}
