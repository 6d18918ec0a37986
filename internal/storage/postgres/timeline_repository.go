package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// timelineRepository ведёт журнал заказа. Внешнего ключа на orders нет:
// журнал остаётся после удаления заказа.
type timelineRepository struct {
	q querier
}

func scanTimelineEvent(row rowScanner) (domain.TimelineEvent, error) {
	var ev domain.TimelineEvent
	if err := row.Scan(&ev.OrderID, &ev.Type, &ev.Reason, &ev.Occurred); err != nil {
		return domain.TimelineEvent{}, err
	}
	ev.Occurred = ev.Occurred.UTC()
	return ev, nil
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`,
		event.OrderID, event.Type, event.Reason, occurred)
	if err != nil {
		return fmt.Errorf("append %s to timeline of %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// List возвращает события в порядке записи; при равном времени решает serial id.
func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return selectAll(ctx, r.q, "timeline events", scanTimelineEvent, `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`, orderID)
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
