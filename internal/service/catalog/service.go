// Package catalog ведёт справочники дилерского центра: покупателей, сотрудников,
// модели автомобилей и складские остатки по ним.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// Имена операций каталога.
const (
	OpCreateBuyer    = "CreateBuyer"
	OpGetBuyer       = "GetBuyer"
	OpListBuyers     = "ListBuyers"
	OpCreateEmployee = "CreateEmployee"
	OpGetEmployee    = "GetEmployee"
	OpListEmployees  = "ListEmployees"
	OpCreateCarModel = "CreateCarModel"
	OpGetCarModel    = "GetCarModel"
	OpListCarModels  = "ListCarModels"
	OpUpdatePrice    = "UpdateCarModelPrice"
	OpSetStock       = "SetStock"
	OpGetStock       = "GetStock"
)

// Store: то, что каталогу нужно от хранилища.
type Store interface {
	domain.TxManager
	domain.Repositories
}

// BuyerInput: данные нового покупателя.
type BuyerInput struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// EmployeeInput: данные нового сотрудника.
type EmployeeInput struct {
	FullName string `json:"full_name"`
	Position string `json:"position"`
	Email    string `json:"email"`
}

// CarModelInput: данные новой модели; Stock задаёт начальный остаток.
type CarModelInput struct {
	Brand string          `json:"brand"`
	Model string          `json:"model"`
	Year  int32           `json:"year"`
	Price decimal.Decimal `json:"price"`
	Stock int32           `json:"stock"`
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.now = clock }
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// Service: операции над справочниками.
type Service struct {
	store  Store
	logger *log.Entry
	now    func() time.Time
	newID  func() string
}

// NewService создаёт сервис каталога.
func NewService(store Store, options ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.WithField("component", "catalog"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// CreateBuyer регистрирует покупателя.
func (s *Service) CreateBuyer(ctx context.Context, in BuyerInput) (domain.Buyer, error) {
	if strings.TrimSpace(in.FullName) == "" {
		return domain.Buyer{}, domain.Failures{domain.Invalid(OpCreateBuyer, "full_name", errors.New("full_name is required"))}
	}

	buyer := domain.Buyer{
		ID:        s.newID(),
		FullName:  strings.TrimSpace(in.FullName),
		Email:     in.Email,
		Phone:     in.Phone,
		CreatedAt: s.now(),
	}
	if err := s.store.Catalog().CreateBuyer(ctx, buyer); err != nil {
		return domain.Buyer{}, s.failure(OpCreateBuyer, err)
	}
	s.logger.WithField("buyer_id", buyer.ID).Info("Buyer created")
	return buyer, nil
}

// GetBuyer возвращает покупателя.
func (s *Service) GetBuyer(ctx context.Context, id string) (domain.Buyer, error) {
	buyer, err := s.store.Catalog().GetBuyer(ctx, id)
	if err != nil {
		return domain.Buyer{}, s.failure(OpGetBuyer, err)
	}
	return buyer, nil
}

// ListBuyers возвращает покупателей в порядке регистрации.
func (s *Service) ListBuyers(ctx context.Context) ([]domain.Buyer, error) {
	buyers, err := s.store.Catalog().ListBuyers(ctx)
	if err != nil {
		return nil, s.failure(OpListBuyers, err)
	}
	return buyers, nil
}

// CreateEmployee регистрирует сотрудника.
func (s *Service) CreateEmployee(ctx context.Context, in EmployeeInput) (domain.Employee, error) {
	if strings.TrimSpace(in.FullName) == "" {
		return domain.Employee{}, domain.Failures{domain.Invalid(OpCreateEmployee, "full_name", errors.New("full_name is required"))}
	}

	employee := domain.Employee{
		ID:        s.newID(),
		FullName:  strings.TrimSpace(in.FullName),
		Position:  in.Position,
		Email:     in.Email,
		CreatedAt: s.now(),
	}
	if err := s.store.Catalog().CreateEmployee(ctx, employee); err != nil {
		return domain.Employee{}, s.failure(OpCreateEmployee, err)
	}
	s.logger.WithField("employee_id", employee.ID).Info("Employee created")
	return employee, nil
}

// GetEmployee возвращает сотрудника.
func (s *Service) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	employee, err := s.store.Catalog().GetEmployee(ctx, id)
	if err != nil {
		return domain.Employee{}, s.failure(OpGetEmployee, err)
	}
	return employee, nil
}

// ListEmployees возвращает сотрудников.
func (s *Service) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	employees, err := s.store.Catalog().ListEmployees(ctx)
	if err != nil {
		return nil, s.failure(OpListEmployees, err)
	}
	return employees, nil
}

// CreateCarModel добавляет модель и её начальный остаток одной транзакцией.
func (s *Service) CreateCarModel(ctx context.Context, in CarModelInput) (domain.CarModel, error) {
	var failures domain.Failures
	if strings.TrimSpace(in.Brand) == "" {
		failures = append(failures, domain.Invalid(OpCreateCarModel, "brand", errors.New("brand is required")))
	}
	if strings.TrimSpace(in.Model) == "" {
		failures = append(failures, domain.Invalid(OpCreateCarModel, "model", errors.New("model is required")))
	}
	if in.Year <= 0 {
		failures = append(failures, domain.Invalid(OpCreateCarModel, "year", errors.New("year must be positive")))
	}
	if in.Price.IsNegative() {
		failures = append(failures, domain.Invalid(OpCreateCarModel, "price", domain.ErrPriceNegative))
	}
	if in.Stock < 0 {
		failures = append(failures, domain.Invalid(OpCreateCarModel, "stock", domain.ErrStockNegative))
	}
	if len(failures) > 0 {
		return domain.CarModel{}, failures
	}

	now := s.now()
	model := domain.CarModel{
		ID:        s.newID(),
		Brand:     strings.TrimSpace(in.Brand),
		Model:     strings.TrimSpace(in.Model),
		Year:      in.Year,
		Price:     in.Price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Catalog().CreateCarModel(ctx, model); err != nil {
			return fmt.Errorf("create car model: %w", err)
		}
		if _, err := tx.Inventory().Set(ctx, model.ID, in.Stock); err != nil {
			return fmt.Errorf("set initial stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CarModel{}, s.failure(OpCreateCarModel, err)
	}

	s.logger.WithFields(log.Fields{
		"car_model_id": model.ID,
		"price":        model.Price.String(),
		"stock":        in.Stock,
	}).Info("Car model created")
	return model, nil
}

// GetCarModel возвращает модель.
func (s *Service) GetCarModel(ctx context.Context, id string) (domain.CarModel, error) {
	model, err := s.store.Catalog().GetCarModel(ctx, id)
	if err != nil {
		return domain.CarModel{}, s.failure(OpGetCarModel, err)
	}
	return model, nil
}

// ListCarModels возвращает модели каталога.
func (s *Service) ListCarModels(ctx context.Context) ([]domain.CarModel, error) {
	models, err := s.store.Catalog().ListCarModels(ctx)
	if err != nil {
		return nil, s.failure(OpListCarModels, err)
	}
	return models, nil
}

// UpdatePrice меняет текущую цену модели. Цены в существующих позициях заказов
// остаются прежними.
func (s *Service) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (domain.CarModel, error) {
	if price.IsNegative() {
		return domain.CarModel{}, domain.Failures{domain.Invalid(OpUpdatePrice, "price", domain.ErrPriceNegative)}
	}

	model, err := s.store.Catalog().UpdateCarModelPrice(ctx, id, price, s.now())
	if err != nil {
		return domain.CarModel{}, s.failure(OpUpdatePrice, err)
	}
	s.logger.WithFields(log.Fields{
		"car_model_id": id,
		"price":        price.String(),
	}).Info("Car model price updated")
	return model, nil
}

// SetStock выставляет остаток модели после поступления или инвентаризации.
func (s *Service) SetStock(ctx context.Context, id string, quantity int32) (domain.InventoryRecord, error) {
	if quantity < 0 {
		return domain.InventoryRecord{}, domain.Failures{domain.Invalid(OpSetStock, "quantity", domain.ErrStockNegative)}
	}

	var record domain.InventoryRecord
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := tx.Catalog().GetCarModel(ctx, id); err != nil {
			return err
		}
		var err error
		record, err = tx.Inventory().Set(ctx, id, quantity)
		return err
	})
	if err != nil {
		return domain.InventoryRecord{}, s.failure(OpSetStock, err)
	}

	s.logger.WithFields(log.Fields{
		"car_model_id": id,
		"quantity":     quantity,
	}).Info("Stock updated")
	return record, nil
}

// GetStock возвращает остаток модели; модель без складской записи имеет остаток 0.
func (s *Service) GetStock(ctx context.Context, id string) (domain.InventoryRecord, error) {
	if _, err := s.store.Catalog().GetCarModel(ctx, id); err != nil {
		return domain.InventoryRecord{}, s.failure(OpGetStock, err)
	}
	record, err := s.store.Inventory().Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrInventoryNotFound):
		return domain.InventoryRecord{CarModelID: id}, nil
	case err != nil:
		return domain.InventoryRecord{}, s.failure(OpGetStock, err)
	}
	return record, nil
}

// failure переводит ошибку хранилища в Failures.
func (s *Service) failure(op string, err error) error {
	var f *domain.Failure
	switch {
	case domain.IsNotFound(err):
		f = domain.NotFound(op, "id", err)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrStockNegative), errors.Is(err, domain.ErrPriceNegative):
		f = &domain.Failure{Code: domain.FailureValidation, Op: op, Message: err.Error(), Err: err}
	default:
		s.logger.WithError(err).WithField("operation", op).Error("Catalog operation failed")
		return domain.Failures{domain.Internal(op, err)}
	}
	s.logger.WithError(err).WithField("operation", op).Warn("Catalog operation rejected")
	return domain.Failures{f}
}
