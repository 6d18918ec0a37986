package domain

import "time"

// Типы событий истории заказа.
const (
	TimelineOrderCreated = "OrderCreated"
	TimelineOrderEdited  = "OrderEdited"
	TimelineOrderDeleted = "OrderDeleted"
	TimelineItemsAdded   = "ItemsAdded"
	TimelineItemEdited   = "ItemEdited"
	TimelineItemsRemoved = "ItemsRemoved"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
