package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation: общая метка ошибок валидации входных данных.
	ErrValidation = errors.New("validation failed")
	// ErrBuyerRequired: не передан идентификатор покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// ErrEmployeeRequired: не передан идентификатор сотрудника.
	ErrEmployeeRequired = errors.New("employee_id is required")
	// ErrCarModelRequired: не передан идентификатор модели автомобиля.
	ErrCarModelRequired = errors.New("car_model_id is required")
	// ErrAddressInvalid: адрес доставки заполнен не полностью.
	ErrAddressInvalid = errors.New("address must contain country, city and street")
	// ErrItemQtyInvalid: количество в позиции должно быть больше нуля.
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// ErrItemQtyTooLarge: количество в позиции больше MaxItemQuantity.
	ErrItemQtyTooLarge = fmt.Errorf("item quantity must not exceed %d", MaxItemQuantity)
	// ErrQuantityOverflow: суммарное количество единиц модели не помещается в int32.
	ErrQuantityOverflow = errors.New("quantity total is out of range")
	// ErrItemPriceInvalid: цена позиции не может быть отрицательной.
	ErrItemPriceInvalid = errors.New("item unit price must be non-negative")
	// ErrPriceNegative: цена модели автомобиля не может быть отрицательной.
	ErrPriceNegative = errors.New("price must be non-negative")
	// ErrStockNegative: остаток на складе не может быть отрицательным.
	ErrStockNegative = errors.New("stock quantity must be non-negative")
	// ErrAmountMismatch: сумма заказа не совпадает с суммой позиций.
	ErrAmountMismatch = errors.New("order price does not match items sum")
	// ErrCompletedBeforeCreated: дата завершения раньше даты создания заказа.
	ErrCompletedBeforeCreated = errors.New("completed_at must not be before created_at")
	// ErrItemsRequired: пустой список позиций там, где он обязателен.
	ErrItemsRequired = errors.New("at least one item is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderItemNotFound: позиция не принадлежит заказу или не существует.
	ErrOrderItemNotFound = errors.New("order item not found")
	// ErrBuyerNotFound: покупатель не найден.
	ErrBuyerNotFound = errors.New("buyer not found")
	// ErrEmployeeNotFound: сотрудник не найден.
	ErrEmployeeNotFound = errors.New("employee not found")
	// ErrCarModelNotFound: модель автомобиля не найдена.
	ErrCarModelNotFound = errors.New("car model not found")
	// ErrInventoryNotFound: для модели нет складской записи.
	ErrInventoryNotFound = errors.New("inventory record not found")

	// ErrInsufficientStock: на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")

	// ErrIdempotencyKeyRequired: мутирующий запрос пришёл без ключа идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: не вычислен хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound: ключ идемпотентности не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists: ключ уже занят предыдущим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: тот же ключ пришёл с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ошибка связана с повторным использованием ключа.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsNotFound возвращает true для любой ошибки "сущность не найдена".
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrOrderNotFound,
		ErrOrderItemNotFound,
		ErrBuyerNotFound,
		ErrEmployeeNotFound,
		ErrCarModelNotFound,
		ErrInventoryNotFound,
		ErrIdempotencyKeyNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StockError детализирует нехватку остатка по конкретной модели.
type StockError struct {
	CarModelID string
	Requested  int32
	Available  int32
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for car model %s: requested %d, available %d",
		e.CarModelID, e.Requested, e.Available)
}

// Is позволяет сравнивать StockError с ErrInsufficientStock через errors.Is.
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// FailureCode: машинно-читаемая категория ошибки бизнес-операции.
type FailureCode string

const (
	FailureNotFound          FailureCode = "not_found"
	FailureValidation        FailureCode = "validation_error"
	FailureInsufficientStock FailureCode = "insufficient_stock"
	FailureConflict          FailureCode = "conflict"
	FailureInternal          FailureCode = "internal"
)

// Failure: типизированная ошибка, которую операции возвращают вызывающей стороне.
type Failure struct {
	Code FailureCode
	// Op: имя операции, в которой произошла ошибка (CreateOrder, EditItem, ...).
	Op string
	// Field указывает на поле запроса, к которому относится ошибка.
	Field   string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	var b strings.Builder
	if f.Op != "" {
		b.WriteString(f.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(f.Code))
	if f.Field != "" {
		b.WriteString(" [")
		b.WriteString(f.Field)
		b.WriteString("]")
	}
	switch {
	case f.Message != "":
		b.WriteString(": ")
		b.WriteString(f.Message)
	case f.Err != nil:
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// Failures: список ошибок одной операции (например, несколько невалидных позиций).
type Failures []*Failure

func (fs Failures) Error() string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, f.Error())
	}
	return strings.Join(parts, "; ")
}

// Unwrap даёт errors.Is/As доступ к каждой ошибке списка.
func (fs Failures) Unwrap() []error {
	errs := make([]error, 0, len(fs))
	for _, f := range fs {
		errs = append(errs, f)
	}
	return errs
}

// OrNil возвращает nil для пустого списка, чтобы не получить typed-nil error.
func (fs Failures) OrNil() error {
	if len(fs) == 0 {
		return nil
	}
	return fs
}

// NotFound создаёт ошибку отсутствующей сущности.
func NotFound(op, field string, err error) *Failure {
	return &Failure{Code: FailureNotFound, Op: op, Field: field, Message: err.Error(), Err: err}
}

// Invalid создаёт ошибку валидации поля.
func Invalid(op, field string, err error) *Failure {
	return &Failure{Code: FailureValidation, Op: op, Field: field, Message: err.Error(), Err: errors.Join(ErrValidation, err)}
}

// Conflict создаёт ошибку конфликта (повтор ключа, гонка версий).
func Conflict(op, field string, err error) *Failure {
	return &Failure{Code: FailureConflict, Op: op, Field: field, Message: err.Error(), Err: err}
}

// InsufficientStock создаёт ошибку нехватки остатка; сообщение содержит доступное количество.
func InsufficientStock(op, field string, err error) *Failure {
	return &Failure{Code: FailureInsufficientStock, Op: op, Field: field, Message: err.Error(), Err: err}
}

// Internal оборачивает непредвиденную ошибку инфраструктуры.
func Internal(op string, err error) *Failure {
	return &Failure{Code: FailureInternal, Op: op, Message: "internal error", Err: err}
}

// AsFailures приводит любую ошибку к списку Failure; неизвестные ошибки становятся internal.
func AsFailures(op string, err error) Failures {
	if err == nil {
		return nil
	}
	var list Failures
	if errors.As(err, &list) {
		return list
	}
	var single *Failure
	if errors.As(err, &single) {
		return Failures{single}
	}
	return Failures{Internal(op, err)}
}

// CodeOf возвращает код первой Failure в цепочке или internal.
func CodeOf(err error) FailureCode {
	fs := AsFailures("", err)
	if len(fs) == 0 {
		return ""
	}
	return fs[0].Code
}
