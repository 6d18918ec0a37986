package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL применяется, когда вызывающий не задал срок хранения ключа.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: ключ занят транзакцией, результат ещё не записан.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: операция зафиксирована вместе с ключом.
	IdempotencyStatusDone IdempotencyStatus = "done"
)

// ResourceType помечает, к какому ресурсу относится сохранённый ответ.
type ResourceType string

const (
	ResourceOrder     ResourceType = "order"
	ResourceOrderItem ResourceType = "order_item"
)

// IdempotencyRecord связывает ключ клиента с отпечатком запроса и сохранённым ответом.
// Неуспешные операции записей не оставляют: ключ откатывается вместе с транзакцией.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResourceType ResourceType
	ResourceID   string
	ResponseBody []byte
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone
}

// IdempotencyKey обрезает пробелы и отвергает пустой ключ.
func IdempotencyKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", ErrIdempotencyKeyRequired
	}
	return key, nil
}

// NewClaim готовит запись к захвату ключа: проверяет ключ и отпечаток,
// выставляет статус processing и срок хранения по умолчанию.
func NewClaim(record IdempotencyRecord, now time.Time) (IdempotencyRecord, error) {
	key, err := IdempotencyKey(record.Key)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	hash := strings.TrimSpace(record.RequestHash)
	if hash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}

	ttl := record.TTLAt
	if ttl.IsZero() {
		ttl = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:          key,
		RequestHash:  hash,
		ResourceType: record.ResourceType,
		Status:       IdempotencyStatusProcessing,
		TTLAt:        ttl,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ExpiredAt сообщает, может ли уборка удалить запись к моменту at.
func (r IdempotencyRecord) ExpiredAt(at time.Time) bool {
	return !r.TTLAt.After(at)
}

// ConflictWith возвращает ошибку повторного захвата ключа: другой отпечаток
// означает другой запрос под тем же ключом.
func (r IdempotencyRecord) ConflictWith(requestHash string) error {
	if r.RequestHash != requestHash {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}
