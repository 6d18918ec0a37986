package orders

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/dealership/internal/cache"
	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/metrics"
	"github.com/vladislavdragonenkov/dealership/internal/service/notifier"
	"github.com/vladislavdragonenkov/dealership/internal/storage/memory"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type WorkflowSuite struct {
	suite.Suite

	ctx     context.Context
	store   *memory.Store
	cache   *cache.Memory
	service *Service
	logHook *test.Hook
	seq     atomic.Int64
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.cache = cache.NewMemory()
	s.seq.Store(0)

	logger, hook := test.NewNullLogger()
	s.logHook = hook
	entry := log.NewEntry(logger)

	s.service = NewService(s.store,
		WithLogger(entry),
		WithMetrics(metrics.NewWorkflowMetricsWithRegisterer(prometheus.NewRegistry())),
		WithCache(s.cache, time.Minute),
		WithNotifier(notifier.New(entry)),
		WithClock(func() time.Time { return baseTime }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", s.seq.Add(1)) }),
	)

	s.seedBuyer("buyer-1")
	s.seedEmployee("employee-1")
	s.seedModel("model-m", "100", 5)
}

func (s *WorkflowSuite) seedBuyer(id string) {
	s.Require().NoError(s.store.Catalog().CreateBuyer(s.ctx, domain.Buyer{ID: id, FullName: "Buyer " + id, CreatedAt: baseTime}))
}

func (s *WorkflowSuite) seedEmployee(id string) {
	s.Require().NoError(s.store.Catalog().CreateEmployee(s.ctx, domain.Employee{ID: id, FullName: "Employee " + id, CreatedAt: baseTime}))
}

func (s *WorkflowSuite) seedModel(id, price string, stock int32) {
	s.Require().NoError(s.store.Catalog().CreateCarModel(s.ctx, domain.CarModel{
		ID: id, Brand: "Lada", Model: id, Year: 2026,
		Price: decimal.RequireFromString(price), CreatedAt: baseTime, UpdatedAt: baseTime,
	}))
	_, err := s.store.Inventory().Set(s.ctx, id, stock)
	s.Require().NoError(err)
}

func (s *WorkflowSuite) stock(id string) int32 {
	record, err := s.store.Inventory().Get(s.ctx, id)
	s.Require().NoError(err)
	return record.Quantity
}

func (s *WorkflowSuite) address() domain.Address {
	return domain.Address{Country: "RU", Region: "MOW", City: "Moscow", Street: "Tverskaya 1"}
}

func (s *WorkflowSuite) createOrder(key string, items ...ItemInput) Result {
	result, err := s.service.CreateOrder(s.ctx, CreateOrderCommand{
		IdempotencyKey: key,
		BuyerID:        "buyer-1",
		EmployeeID:     "employee-1",
		Address:        s.address(),
		Items:          items,
	})
	s.Require().NoError(err)
	return result
}

func requireFailure(t *testing.T, err error, code domain.FailureCode, field string) *domain.Failure {
	t.Helper()

	var failures domain.Failures
	require.ErrorAs(t, err, &failures)
	for _, f := range failures {
		if f.Code == code && f.Field == field {
			return f
		}
	}
	t.Fatalf("no failure %s[%s] in %v", code, field, failures)
	return nil
}

func (s *WorkflowSuite) requireTotalInvariant(order domain.Order) {
	s.Require().Empty(order.ValidateInvariants())
}

// Scenario A.
func (s *WorkflowSuite) TestCreateOrderReservesStockAndComputesTotal() {
	result := s.createOrder("key-a", ItemInput{CarModelID: "model-m", Quantity: 2, Comment: "white"})

	s.Require().False(result.Replayed)
	s.Require().True(result.Order.Price.Equal(decimal.NewFromInt(200)))
	s.Require().Len(result.Order.Items, 1)
	s.Require().True(result.Order.Items[0].UnitPrice.Equal(decimal.NewFromInt(100)))
	s.Require().Equal(int32(3), s.stock("model-m"))
	s.requireTotalInvariant(result.Order)

	pending, err := s.store.Outbox().PullPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Require().Equal(notifier.EventOrderCreated, pending[0].EventType)
	s.Require().Equal(result.Order.ID, pending[0].AggregateID)

	events, err := s.service.Timeline(s.ctx, result.Order.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Require().Equal(domain.TimelineOrderCreated, events[0].Type)
}

// Scenarios B, C and D on one order.
func (s *WorkflowSuite) TestEditItemScenarios() {
	created := s.createOrder("key-a", ItemInput{CarModelID: "model-m", Quantity: 2})
	orderID := created.Order.ID
	itemID := created.Order.Items[0].ID

	five := int32(5)
	edited, err := s.service.EditItem(s.ctx, EditItemCommand{
		IdempotencyKey: "key-b", OrderID: orderID, ItemID: itemID, Quantity: &five,
	})
	s.Require().NoError(err)
	s.Require().Equal(int32(0), s.stock("model-m"))
	s.Require().True(edited.Order.Price.Equal(decimal.NewFromInt(500)))
	s.Require().NotNil(edited.Item)
	s.Require().Equal(int32(5), edited.Item.Quantity)
	s.requireTotalInvariant(edited.Order)

	six := int32(6)
	_, err = s.service.EditItem(s.ctx, EditItemCommand{
		IdempotencyKey: "key-c", OrderID: orderID, ItemID: itemID, Quantity: &six,
	})
	f := requireFailure(s.T(), err, domain.FailureInsufficientStock, "quantity")
	s.Require().Contains(f.Message, "available 0")
	s.Require().Equal(int32(0), s.stock("model-m"))

	current, err := s.service.GetOrder(s.ctx, orderID)
	s.Require().NoError(err)
	s.Require().Equal(int32(5), current.Items[0].Quantity)
	s.Require().True(current.Price.Equal(decimal.NewFromInt(500)))

	removed, err := s.service.RemoveItems(s.ctx, RemoveItemsCommand{
		IdempotencyKey: "key-d", OrderID: orderID, ItemIDs: []string{itemID},
	})
	s.Require().NoError(err)
	s.Require().Empty(removed.Order.Items)
	s.Require().True(removed.Order.Price.IsZero())
	s.Require().Equal(int32(5), s.stock("model-m"))
}

// Scenario E.
func (s *WorkflowSuite) TestConcurrentAddItemForLastUnit() {
	s.seedModel("model-last", "300", 1)
	created := s.createOrder("key-create")

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		shortages atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.service.AddItem(s.ctx, AddItemCommand{
				IdempotencyKey: fmt.Sprintf("key-add-%d", i),
				OrderID:        created.Order.ID,
				ItemInput:      ItemInput{CarModelID: "model-last", Quantity: 1},
			})
			if err == nil {
				successes.Add(1)
				return
			}
			if domain.CodeOf(err) == domain.FailureInsufficientStock {
				shortages.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Require().Equal(int32(1), successes.Load())
	s.Require().Equal(int32(1), shortages.Load())
	s.Require().Equal(int32(0), s.stock("model-last"))

	order, err := s.store.Orders().Get(s.ctx, created.Order.ID)
	s.Require().NoError(err)
	s.Require().Len(order.Items, 1)
	s.requireTotalInvariant(order)
}

func (s *WorkflowSuite) TestCreateOrderReplayReturnsSameOrder() {
	first := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 2})
	second := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 2})

	s.Require().True(second.Replayed)
	s.Require().Equal(first.Order.ID, second.Order.ID)
	s.Require().Equal(int32(3), s.stock("model-m"))

	orders, err := s.store.Orders().List(s.ctx, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Require().Len(orders, 1)

	pending, err := s.store.Outbox().PullPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
}

func (s *WorkflowSuite) TestReplayReflectsCurrentState() {
	created := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 1})
	_, err := s.service.AddItem(s.ctx, AddItemCommand{
		IdempotencyKey: "key-2", OrderID: created.Order.ID,
		ItemInput: ItemInput{CarModelID: "model-m", Quantity: 1},
	})
	s.Require().NoError(err)

	replayed := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 1})
	s.Require().True(replayed.Replayed)
	s.Require().Len(replayed.Order.Items, 2)
	s.Require().True(replayed.Order.Price.Equal(decimal.NewFromInt(200)))
}

func (s *WorkflowSuite) TestAddItemReplayReturnsItem() {
	created := s.createOrder("key-1")
	cmd := AddItemCommand{
		IdempotencyKey: "key-add", OrderID: created.Order.ID,
		ItemInput: ItemInput{CarModelID: "model-m", Quantity: 1},
	}

	first, err := s.service.AddItem(s.ctx, cmd)
	s.Require().NoError(err)
	second, err := s.service.AddItem(s.ctx, cmd)
	s.Require().NoError(err)

	s.Require().True(second.Replayed)
	s.Require().NotNil(second.Item)
	s.Require().Equal(first.Item.ID, second.Item.ID)
	s.Require().Equal(int32(4), s.stock("model-m"))
}

func (s *WorkflowSuite) TestIdempotencyKeyReuseWithDifferentRequest() {
	s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 1})

	_, err := s.service.CreateOrder(s.ctx, CreateOrderCommand{
		IdempotencyKey: "key-1",
		BuyerID:        "buyer-1",
		EmployeeID:     "employee-1",
		Address:        s.address(),
		Items:          []ItemInput{{CarModelID: "model-m", Quantity: 2}},
	})
	requireFailure(s.T(), err, domain.FailureConflict, "idempotency_key")
	s.Require().Equal(int32(4), s.stock("model-m"))
}

func (s *WorkflowSuite) TestIdempotencyKeyRequired() {
	_, err := s.service.CreateOrder(s.ctx, CreateOrderCommand{BuyerID: "buyer-1"})
	requireFailure(s.T(), err, domain.FailureValidation, "idempotency_key")
}

func (s *WorkflowSuite) TestFailedRequestIsNotRemembered() {
	cmd := CreateOrderCommand{
		IdempotencyKey: "key-retry",
		BuyerID:        "buyer-1",
		EmployeeID:     "employee-1",
		Address:        s.address(),
		Items:          []ItemInput{{CarModelID: "model-m", Quantity: 7}},
	}

	_, err := s.service.CreateOrder(s.ctx, cmd)
	requireFailure(s.T(), err, domain.FailureInsufficientStock, "items[0].quantity")
	s.Require().Equal(int32(5), s.stock("model-m"))

	_, err = s.store.Inventory().Increase(s.ctx, "model-m", 2)
	s.Require().NoError(err)

	result, err := s.service.CreateOrder(s.ctx, cmd)
	s.Require().NoError(err)
	s.Require().False(result.Replayed)
	s.Require().Equal(int32(0), s.stock("model-m"))
}

func (s *WorkflowSuite) TestCreateOrderValidation() {
	s.seedModel("model-short", "50", 1)

	tests := []struct {
		name  string
		cmd   CreateOrderCommand
		code  domain.FailureCode
		field string
	}{
		{
			name:  "missing buyer",
			cmd:   CreateOrderCommand{EmployeeID: "employee-1", Address: s.address()},
			code:  domain.FailureValidation,
			field: "buyer_id",
		},
		{
			name:  "bad address",
			cmd:   CreateOrderCommand{BuyerID: "buyer-1", EmployeeID: "employee-1", Address: domain.Address{City: "Moscow"}},
			code:  domain.FailureValidation,
			field: "address",
		},
		{
			name:  "unknown buyer",
			cmd:   CreateOrderCommand{BuyerID: "ghost", EmployeeID: "employee-1", Address: s.address()},
			code:  domain.FailureNotFound,
			field: "buyer_id",
		},
		{
			name:  "unknown employee",
			cmd:   CreateOrderCommand{BuyerID: "buyer-1", EmployeeID: "ghost", Address: s.address()},
			code:  domain.FailureNotFound,
			field: "employee_id",
		},
		{
			name: "unknown car model",
			cmd: CreateOrderCommand{BuyerID: "buyer-1", EmployeeID: "employee-1", Address: s.address(),
				Items: []ItemInput{{CarModelID: "model-m", Quantity: 1}, {CarModelID: "ghost", Quantity: 1}}},
			code:  domain.FailureNotFound,
			field: "items[1].car_model_id",
		},
		{
			name: "zero quantity",
			cmd: CreateOrderCommand{BuyerID: "buyer-1", EmployeeID: "employee-1", Address: s.address(),
				Items: []ItemInput{{CarModelID: "model-m", Quantity: 0}}},
			code:  domain.FailureValidation,
			field: "items[0].quantity",
		},
		{
			name: "same model requested twice beyond stock",
			cmd: CreateOrderCommand{BuyerID: "buyer-1", EmployeeID: "employee-1", Address: s.address(),
				Items: []ItemInput{{CarModelID: "model-m", Quantity: 3}, {CarModelID: "model-m", Quantity: 3}}},
			code:  domain.FailureInsufficientStock,
			field: "items[0].quantity",
		},
		{
			name: "completion before creation",
			cmd: CreateOrderCommand{BuyerID: "buyer-1", EmployeeID: "employee-1", Address: s.address(),
				CompletedAt: timePtr(baseTime.Add(-time.Hour))},
			code:  domain.FailureValidation,
			field: "completed_at",
		},
	}

	for i, tt := range tests {
		s.Run(tt.name, func() {
			tt.cmd.IdempotencyKey = fmt.Sprintf("key-validation-%d", i)
			_, err := s.service.CreateOrder(s.ctx, tt.cmd)
			requireFailure(s.T(), err, tt.code, tt.field)
		})
	}

	s.Require().Equal(int32(5), s.stock("model-m"))
	s.Require().Equal(int32(1), s.stock("model-short"))
	orders, err := s.store.Orders().List(s.ctx, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Require().Empty(orders)
}

func (s *WorkflowSuite) TestCreateOrderCollectsEveryShortage() {
	s.seedModel("model-x", "10", 0)

	_, err := s.service.CreateOrder(s.ctx, CreateOrderCommand{
		IdempotencyKey: "key-many",
		BuyerID:        "buyer-1",
		EmployeeID:     "employee-1",
		Address:        s.address(),
		Items: []ItemInput{
			{CarModelID: "model-m", Quantity: 6},
			{CarModelID: "model-x", Quantity: 1},
		},
	})
	requireFailure(s.T(), err, domain.FailureInsufficientStock, "items[0].quantity")
	requireFailure(s.T(), err, domain.FailureInsufficientStock, "items[1].quantity")
}

func (s *WorkflowSuite) TestQuantitiesCannotWrapAround() {
	huge := ItemInput{CarModelID: "model-m", Quantity: math.MaxInt32}
	_, err := s.service.CreateOrder(s.ctx, CreateOrderCommand{
		IdempotencyKey: "key-wrap", BuyerID: "buyer-1", EmployeeID: "employee-1",
		Address: s.address(), Items: []ItemInput{huge, huge},
	})
	requireFailure(s.T(), err, domain.FailureValidation, "items[0].quantity")
	requireFailure(s.T(), err, domain.FailureValidation, "items[1].quantity")
	s.Require().Equal(int32(5), s.stock("model-m"))

	limit := ItemInput{CarModelID: "model-m", Quantity: domain.MaxItemQuantity}
	_, err = s.service.CreateOrder(s.ctx, CreateOrderCommand{
		IdempotencyKey: "key-limit", BuyerID: "buyer-1", EmployeeID: "employee-1",
		Address: s.address(), Items: []ItemInput{limit, limit},
	})
	requireFailure(s.T(), err, domain.FailureInsufficientStock, "items[0].quantity")
	s.Require().Equal(int32(5), s.stock("model-m"))

	orders, err := s.store.Orders().List(s.ctx, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Require().Empty(orders)

	created := s.createOrder("key-ok", ItemInput{CarModelID: "model-m", Quantity: 2})
	itemID := created.Order.Items[0].ID

	tooMany := domain.MaxItemQuantity + 1
	_, err = s.service.EditItem(s.ctx, EditItemCommand{
		IdempotencyKey: "key-edit", OrderID: created.Order.ID, ItemID: itemID, Quantity: &tooMany,
	})
	requireFailure(s.T(), err, domain.FailureValidation, "quantity")
	s.Require().Equal(int32(3), s.stock("model-m"))

	// возврат на почти полный склад не должен переполнить остаток
	_, err = s.store.Inventory().Set(s.ctx, "model-m", math.MaxInt32-1)
	s.Require().NoError(err)
	_, err = s.service.RemoveItems(s.ctx, RemoveItemsCommand{
		IdempotencyKey: "key-remove", OrderID: created.Order.ID, ItemIDs: []string{itemID},
	})
	requireFailure(s.T(), err, domain.FailureValidation, "quantity")
	s.Require().Equal(int32(math.MaxInt32-1), s.stock("model-m"))

	order, err := s.store.Orders().Get(s.ctx, created.Order.ID)
	s.Require().NoError(err)
	s.Require().Len(order.Items, 1)
}

func (s *WorkflowSuite) TestCreateOrderWithoutItems() {
	result := s.createOrder("key-empty")

	s.Require().Empty(result.Order.Items)
	s.Require().True(result.Order.Price.IsZero())
}

func (s *WorkflowSuite) TestAddItemsIsAllOrNothing() {
	s.seedModel("model-rare", "1000", 1)
	created := s.createOrder("key-1")

	_, err := s.service.AddItems(s.ctx, AddItemsCommand{
		IdempotencyKey: "key-batch",
		OrderID:        created.Order.ID,
		Items: []ItemInput{
			{CarModelID: "model-m", Quantity: 2},
			{CarModelID: "model-rare", Quantity: 2},
		},
	})
	requireFailure(s.T(), err, domain.FailureInsufficientStock, "items[1].quantity")
	s.Require().Equal(int32(5), s.stock("model-m"))
	s.Require().Equal(int32(1), s.stock("model-rare"))

	result, err := s.service.AddItems(s.ctx, AddItemsCommand{
		IdempotencyKey: "key-batch-2",
		OrderID:        created.Order.ID,
		Items: []ItemInput{
			{CarModelID: "model-m", Quantity: 2},
			{CarModelID: "model-rare", Quantity: 1},
		},
	})
	s.Require().NoError(err)
	s.Require().Len(result.Order.Items, 2)
	s.Require().True(result.Order.Price.Equal(decimal.NewFromInt(1200)))
	s.Require().Equal(int32(3), s.stock("model-m"))
	s.Require().Equal(int32(0), s.stock("model-rare"))
}

func (s *WorkflowSuite) TestAddItemsRequiresItems() {
	created := s.createOrder("key-1")

	_, err := s.service.AddItems(s.ctx, AddItemsCommand{IdempotencyKey: "key-2", OrderID: created.Order.ID})
	requireFailure(s.T(), err, domain.FailureValidation, "items")
}

func (s *WorkflowSuite) TestAddItemToUnknownOrder() {
	_, err := s.service.AddItem(s.ctx, AddItemCommand{
		IdempotencyKey: "key-1", OrderID: "ghost",
		ItemInput: ItemInput{CarModelID: "model-m", Quantity: 1},
	})
	requireFailure(s.T(), err, domain.FailureNotFound, "order_id")
	s.Require().Equal(int32(5), s.stock("model-m"))
}

func (s *WorkflowSuite) TestEditItemChangesModel() {
	s.seedModel("model-n", "250", 4)
	created := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 2})
	itemID := created.Order.Items[0].ID

	modelN := "model-n"
	three := int32(3)
	comment := "upgrade"
	result, err := s.service.EditItem(s.ctx, EditItemCommand{
		IdempotencyKey: "key-2", OrderID: created.Order.ID, ItemID: itemID,
		CarModelID: &modelN, Quantity: &three, Comment: &comment,
	})
	s.Require().NoError(err)

	s.Require().Equal(int32(5), s.stock("model-m"))
	s.Require().Equal(int32(1), s.stock("model-n"))
	s.Require().Equal("model-n", result.Item.CarModelID)
	s.Require().True(result.Item.UnitPrice.Equal(decimal.NewFromInt(250)))
	s.Require().Equal("upgrade", result.Item.Comment)
	s.Require().True(result.Order.Price.Equal(decimal.NewFromInt(750)))
}

func (s *WorkflowSuite) TestEditItemModelChangeRollsBackRelease() {
	s.seedModel("model-n", "250", 1)
	created := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 2})

	modelN := "model-n"
	_, err := s.service.EditItem(s.ctx, EditItemCommand{
		IdempotencyKey: "key-2", OrderID: created.Order.ID, ItemID: created.Order.Items[0].ID,
		CarModelID: &modelN,
	})
	requireFailure(s.T(), err, domain.FailureInsufficientStock, "quantity")

	s.Require().Equal(int32(3), s.stock("model-m"), "release of the old model must be rolled back")
	s.Require().Equal(int32(1), s.stock("model-n"))
}

func (s *WorkflowSuite) TestEditItemDecreaseQuantityRestocks() {
	created := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 4})

	one := int32(1)
	result, err := s.service.EditItem(s.ctx, EditItemCommand{
		IdempotencyKey: "key-2", OrderID: created.Order.ID, ItemID: created.Order.Items[0].ID, Quantity: &one,
	})
	s.Require().NoError(err)
	s.Require().Equal(int32(4), s.stock("model-m"))
	s.Require().True(result.Order.Price.Equal(decimal.NewFromInt(100)))
}

func (s *WorkflowSuite) TestEditItemErrors() {
	created := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 1})
	itemID := created.Order.Items[0].ID

	_, err := s.service.EditItem(s.ctx, EditItemCommand{IdempotencyKey: "key-2", OrderID: created.Order.ID, ItemID: "ghost"})
	requireFailure(s.T(), err, domain.FailureNotFound, "item_id")

	zero := int32(0)
	_, err = s.service.EditItem(s.ctx, EditItemCommand{IdempotencyKey: "key-3", OrderID: created.Order.ID, ItemID: itemID, Quantity: &zero})
	requireFailure(s.T(), err, domain.FailureValidation, "quantity")

	ghost := "ghost-model"
	_, err = s.service.EditItem(s.ctx, EditItemCommand{IdempotencyKey: "key-4", OrderID: created.Order.ID, ItemID: itemID, CarModelID: &ghost})
	requireFailure(s.T(), err, domain.FailureNotFound, "car_model_id")
}

func (s *WorkflowSuite) TestUnitPriceSnapshotSurvivesCatalogChange() {
	created := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 1})

	_, err := s.store.Catalog().UpdateCarModelPrice(s.ctx, "model-m", decimal.NewFromInt(150), baseTime)
	s.Require().NoError(err)

	two := int32(2)
	edited, err := s.service.EditItem(s.ctx, EditItemCommand{
		IdempotencyKey: "key-2", OrderID: created.Order.ID, ItemID: created.Order.Items[0].ID, Quantity: &two,
	})
	s.Require().NoError(err)
	s.Require().True(edited.Item.UnitPrice.Equal(decimal.NewFromInt(100)))

	added, err := s.service.AddItem(s.ctx, AddItemCommand{
		IdempotencyKey: "key-3", OrderID: created.Order.ID,
		ItemInput: ItemInput{CarModelID: "model-m", Quantity: 1},
	})
	s.Require().NoError(err)
	s.Require().True(added.Item.UnitPrice.Equal(decimal.NewFromInt(150)))
	s.Require().True(added.Order.Price.Equal(decimal.NewFromInt(350)))
}

func (s *WorkflowSuite) TestRemoveItemsUnknownIDs() {
	created := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 1})

	_, err := s.service.RemoveItems(s.ctx, RemoveItemsCommand{
		IdempotencyKey: "key-2", OrderID: created.Order.ID, ItemIDs: []string{"ghost"},
	})
	requireFailure(s.T(), err, domain.FailureNotFound, "item_ids")

	result, err := s.service.RemoveItems(s.ctx, RemoveItemsCommand{
		IdempotencyKey: "key-3", OrderID: created.Order.ID, ItemIDs: []string{"ghost", created.Order.Items[0].ID},
	})
	s.Require().NoError(err)
	s.Require().Empty(result.Order.Items)
	s.Require().Equal(int32(5), s.stock("model-m"))
}

func (s *WorkflowSuite) TestEditOrder() {
	created := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 1})
	s.seedEmployee("employee-2")

	newAddress := domain.Address{Country: "RU", City: "Kazan", Street: "Baumana 5"}
	employee := "employee-2"
	completed := baseTime.Add(48 * time.Hour)
	result, err := s.service.EditOrder(s.ctx, EditOrderCommand{
		IdempotencyKey: "key-2", OrderID: created.Order.ID,
		Address: &newAddress, EmployeeID: &employee, CompletedAt: &completed,
	})
	s.Require().NoError(err)
	s.Require().Equal(newAddress, result.Order.Address)
	s.Require().Equal("employee-2", result.Order.EmployeeID)
	s.Require().Equal("buyer-1", result.Order.BuyerID)
	s.Require().NotNil(result.Order.CompletedAt)
	s.Require().True(result.Order.CompletedAt.Equal(completed))
	s.Require().Len(result.Order.Items, 1)
	s.Require().Equal(int32(4), s.stock("model-m"))

	ghost := "ghost"
	_, err = s.service.EditOrder(s.ctx, EditOrderCommand{IdempotencyKey: "key-3", OrderID: created.Order.ID, BuyerID: &ghost})
	requireFailure(s.T(), err, domain.FailureNotFound, "buyer_id")

	early := baseTime.Add(-time.Minute)
	_, err = s.service.EditOrder(s.ctx, EditOrderCommand{IdempotencyKey: "key-4", OrderID: created.Order.ID, CompletedAt: &early})
	requireFailure(s.T(), err, domain.FailureValidation, "completed_at")
}

func (s *WorkflowSuite) TestDeleteOrderRestocksAndReplays() {
	s.seedModel("model-n", "10", 2)
	created := s.createOrder("key-1",
		ItemInput{CarModelID: "model-m", Quantity: 2},
		ItemInput{CarModelID: "model-n", Quantity: 2},
	)
	s.Require().Equal(int32(0), s.stock("model-n"))

	cmd := DeleteOrderCommand{IdempotencyKey: "key-del", OrderID: created.Order.ID}
	deleted, err := s.service.DeleteOrder(s.ctx, cmd)
	s.Require().NoError(err)
	s.Require().Equal(created.Order.ID, deleted.Order.ID)
	s.Require().Equal(int32(5), s.stock("model-m"))
	s.Require().Equal(int32(2), s.stock("model-n"))

	_, err = s.service.GetOrder(s.ctx, created.Order.ID)
	requireFailure(s.T(), err, domain.FailureNotFound, "order_id")

	replayed, err := s.service.DeleteOrder(s.ctx, cmd)
	s.Require().NoError(err)
	s.Require().True(replayed.Replayed)
	s.Require().Equal(created.Order.ID, replayed.Order.ID)
	s.Require().Len(replayed.Order.Items, 2)
	s.Require().Equal(int32(5), s.stock("model-m"))

	_, err = s.service.DeleteOrder(s.ctx, DeleteOrderCommand{IdempotencyKey: "key-del-2", OrderID: created.Order.ID})
	requireFailure(s.T(), err, domain.FailureNotFound, "order_id")

	events, err := s.service.Timeline(s.ctx, created.Order.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.TimelineOrderDeleted, events[len(events)-1].Type)
}

func (s *WorkflowSuite) TestConservationAcrossMutations() {
	s.seedModel("model-n", "70", 6)
	const total = int32(5 + 6)

	reserved := func() int32 {
		orders, err := s.store.Orders().List(s.ctx, domain.OrderFilter{})
		s.Require().NoError(err)
		var sum int32
		for _, order := range orders {
			for _, item := range order.Items {
				sum += item.Quantity
			}
			s.requireTotalInvariant(order)
		}
		return sum
	}
	check := func() {
		s.Require().Equal(total, reserved()+s.stock("model-m")+s.stock("model-n"))
	}

	a := s.createOrder("k1", ItemInput{CarModelID: "model-m", Quantity: 2}, ItemInput{CarModelID: "model-n", Quantity: 1})
	check()
	b := s.createOrder("k2", ItemInput{CarModelID: "model-n", Quantity: 3})
	check()

	modelM := "model-m"
	_, err := s.service.EditItem(s.ctx, EditItemCommand{IdempotencyKey: "k3", OrderID: b.Order.ID, ItemID: b.Order.Items[0].ID, CarModelID: &modelM})
	s.Require().NoError(err)
	check()

	_, err = s.service.AddItems(s.ctx, AddItemsCommand{IdempotencyKey: "k4", OrderID: a.Order.ID, Items: []ItemInput{{CarModelID: "model-n", Quantity: 5}}})
	s.Require().NoError(err)
	check()

	_, err = s.service.AddItem(s.ctx, AddItemCommand{IdempotencyKey: "k5", OrderID: a.Order.ID, ItemInput: ItemInput{CarModelID: "model-n", Quantity: 9}})
	s.Require().Error(err)
	check()

	_, err = s.service.RemoveItems(s.ctx, RemoveItemsCommand{IdempotencyKey: "k6", OrderID: a.Order.ID, ItemIDs: []string{a.Order.Items[0].ID}})
	s.Require().NoError(err)
	check()

	_, err = s.service.DeleteOrder(s.ctx, DeleteOrderCommand{IdempotencyKey: "k7", OrderID: b.Order.ID})
	s.Require().NoError(err)
	check()
}

func (s *WorkflowSuite) TestReadsAreCachedAndInvalidated() {
	created := s.createOrder("key-1", ItemInput{CarModelID: "model-m", Quantity: 1})

	order, err := s.service.GetOrder(s.ctx, created.Order.ID)
	s.Require().NoError(err)
	s.Require().Len(order.Items, 1)
	_, ok, _ := s.cache.Get(s.ctx, cache.OrderKey(created.Order.ID))
	s.Require().True(ok)

	list, err := s.service.ListOrders(s.ctx, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	_, ok, _ = s.cache.Get(s.ctx, cache.KeyAllOrders)
	s.Require().True(ok)

	_, err = s.service.AddItem(s.ctx, AddItemCommand{
		IdempotencyKey: "key-2", OrderID: created.Order.ID,
		ItemInput: ItemInput{CarModelID: "model-m", Quantity: 1},
	})
	s.Require().NoError(err)

	_, ok, _ = s.cache.Get(s.ctx, cache.OrderKey(created.Order.ID))
	s.Require().False(ok)
	_, ok, _ = s.cache.Get(s.ctx, cache.KeyAllOrders)
	s.Require().False(ok)

	order, err = s.service.GetOrder(s.ctx, created.Order.ID)
	s.Require().NoError(err)
	s.Require().Len(order.Items, 2)
	s.Require().True(order.Price.Equal(decimal.NewFromInt(200)))

	filtered, err := s.service.ListOrders(s.ctx, domain.OrderFilter{BuyerID: "nobody"})
	s.Require().NoError(err)
	s.Require().Empty(filtered)
}

// pausingCache задерживает первый Set после arm, пока тест не закроет release.
type pausingCache struct {
	*cache.Memory
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (c *pausingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.armed.CompareAndSwap(true, false) {
		close(c.entered)
		<-c.release
	}
	return c.Memory.Set(ctx, key, value, ttl)
}

func (s *WorkflowSuite) TestSlowCacheFillDoesNotHideCommittedEdit() {
	paused := &pausingCache{Memory: cache.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	logger, _ := test.NewNullLogger()
	svc := NewService(s.store,
		WithLogger(log.NewEntry(logger)),
		WithMetrics(metrics.NewWorkflowMetricsWithRegisterer(prometheus.NewRegistry())),
		WithCache(paused, time.Minute),
		WithClock(func() time.Time { return baseTime }),
		WithIDGenerator(func() string { return fmt.Sprintf("slow-%d", s.seq.Add(1)) }),
	)

	created, err := svc.CreateOrder(s.ctx, CreateOrderCommand{
		IdempotencyKey: "key-1", BuyerID: "buyer-1", EmployeeID: "employee-1", Address: s.address(),
		Items: []ItemInput{{CarModelID: "model-m", Quantity: 1}},
	})
	s.Require().NoError(err)
	orderID, itemID := created.Order.ID, created.Order.Items[0].ID

	paused.armed.Store(true)
	firstRead := make(chan domain.Order, 1)
	go func() {
		order, err := svc.GetOrder(s.ctx, orderID)
		s.NoError(err)
		firstRead <- order
	}()
	<-paused.entered

	three := int32(3)
	_, err = svc.EditItem(s.ctx, EditItemCommand{IdempotencyKey: "key-2", OrderID: orderID, ItemID: itemID, Quantity: &three})
	s.Require().NoError(err)

	close(paused.release)
	s.Require().Equal(int32(1), (<-firstRead).Items[0].Quantity)

	current, err := svc.GetOrder(s.ctx, orderID)
	s.Require().NoError(err)
	s.Require().Equal(int32(3), current.Items[0].Quantity)
	s.Require().True(current.Price.Equal(decimal.NewFromInt(300)))
}

func (s *WorkflowSuite) TestExpectedFailuresAreLoggedAsWarnings() {
	_, err := s.service.AddItem(s.ctx, AddItemCommand{
		IdempotencyKey: "key-1", OrderID: "ghost",
		ItemInput: ItemInput{CarModelID: "model-m", Quantity: 1},
	})
	s.Require().Error(err)

	entry := s.logHook.LastEntry()
	s.Require().NotNil(entry)
	s.Require().Equal(log.WarnLevel, entry.Level)
	s.Require().Equal(domain.FailureNotFound, entry.Data["code"])
}

func (s *WorkflowSuite) TestTimelineUnknownOrder() {
	_, err := s.service.Timeline(s.ctx, "ghost")
	requireFailure(s.T(), err, domain.FailureNotFound, "order_id")
}

func timePtr(t time.Time) *time.Time {
	return &t
}
