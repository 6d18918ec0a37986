package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/storage/memory"
)

func newOrder(id, buyerID string, createdAt time.Time) domain.Order {
	order := domain.Order{
		ID:         id,
		BuyerID:    buyerID,
		EmployeeID: "employee-1",
		Address:    domain.Address{Country: "RU", City: "Moscow", Street: "Arbat 10"},
		Items: []domain.OrderItem{
			{ID: id + "-item-1", OrderID: id, CarModelID: "model-1", Quantity: 2, UnitPrice: decimal.NewFromInt(100), CreatedAt: createdAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	order.RecomputeTotal()
	return order
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	order := newOrder("order-1", "buyer-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || len(stored.Items) != 1 || !stored.Price.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	// Изменение возвращённой копии не должно влиять на хранилище.
	stored.Items[0].Quantity = 100
	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Quantity != 2 {
		t.Fatalf("repository leaked internal state")
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_SaveVersioning(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	order := newOrder("order-1", "buyer-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Items[0].Comment = "black"
	if err := repo.Save(ctx, order); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	stored, _ := repo.Get(ctx, order.ID)
	if stored.Version != 1 || stored.Items[0].Comment != "black" {
		t.Fatalf("unexpected stored order after save: %+v", stored)
	}

	// Повторное сохранение со старой версией должно вернуть конфликт.
	if err := repo.Save(ctx, order); !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	if err := repo.Save(ctx, newOrder("missing", "b", time.Now())); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	base := time.Now().UTC()

	for i, id := range []string{"o-1", "o-2", "o-3"} {
		buyer := "buyer-1"
		if id == "o-2" {
			buyer = "buyer-2"
		}
		if err := repo.Create(ctx, newOrder(id, buyer, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
	}

	all, err := repo.List(ctx, domain.OrderFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "o-3" || all[2].ID != "o-1" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}

	byBuyer, _ := repo.List(ctx, domain.OrderFilter{BuyerID: "buyer-1", Limit: 1})
	if len(byBuyer) != 1 || byBuyer[0].ID != "o-3" {
		t.Fatalf("unexpected filtered list %v", ids(byBuyer))
	}

	if err := repo.Delete(ctx, "o-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "o-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on second delete, got %v", err)
	}
}

func ids(orders []domain.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}
