package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

type timelineRepository struct {
	s *session
}

// Append добавляет событие в историю заказа.
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	return r.s.write(ctx, func(st *state) error {
		// Clip: слайс может разделять массив с предыдущим снимком.
		events := append(slices.Clip(st.timeline[event.OrderID]), event)
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Occurred.Before(events[j].Occurred)
		})
		st.timeline[event.OrderID] = events
		return nil
	})
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var result []domain.TimelineEvent
	err := r.s.read(ctx, func(st *state) error {
		result = slices.Clone(st.timeline[orderID])
		return nil
	})
	if result == nil {
		result = []domain.TimelineEvent{}
	}
	return result, err
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
