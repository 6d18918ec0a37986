package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/app"
)

type envLookup func(key string) (string, bool)

// envReader накладывает переменные окружения на конфигурацию. Ошибочные
// значения не прерывают запуск: остаётся значение по умолчанию, а в warnings
// попадает причина.
type envReader struct {
	lookup   envLookup
	warnings []string
}

func (r *envReader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) warn(key string, err error) {
	r.warnings = append(r.warnings, fmt.Sprintf("%s: %v", key, err))
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.raw(key); ok {
		*dst = v
	}
}

// name читает имя драйвера без учёта регистра.
func (r *envReader) name(key string, dst *string) {
	if v, ok := r.raw(key); ok {
		*dst = strings.ToLower(v)
	}
}

func (r *envReader) flag(key string, dst *bool) {
	v, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := parseBool(v)
	if err != nil {
		r.warn(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) count(key string, dst *int) {
	if v, ok := r.raw(key); ok {
		assign(r, key, dst, v, parseInt, func(n int) bool { return n > 0 }, "must be > 0")
	}
}

func (r *envReader) period(key string, dst *time.Duration, allowZero bool) {
	v, ok := r.raw(key)
	if !ok {
		return
	}
	if allowZero {
		assign(r, key, dst, v, parseDuration, func(d time.Duration) bool { return d >= 0 }, "must be >= 0")
		return
	}
	assign(r, key, dst, v, parseDuration, func(d time.Duration) bool { return d > 0 }, "must be > 0")
}

func assign[T any](r *envReader, key string, dst *T, raw string, parse func(string) (T, error), valid func(T) bool, rule string) {
	v, err := parse(raw)
	if err == nil && !valid(v) {
		err = fmt.Errorf("value %q %s", raw, rule)
	}
	if err != nil {
		r.warn(key, err)
		return
	}
	*dst = v
}

// readConfigFromEnv возвращает конфигурацию по умолчанию с учётом окружения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	r := &envReader{lookup: lookup}

	r.str(envHTTPAddr, &cfg.HTTPAddr)
	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.str(envMetricsAddr, &cfg.MetricsAddr)

	r.name(envStorageDriver, &cfg.StorageDriver)
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.flag(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	r.count(envTxMaxAttempts, &cfg.TxMaxAttempts)

	r.name(envCacheDriver, &cfg.CacheDriver)
	r.str(envRedisAddr, &cfg.RedisAddr)
	r.period(envCacheTTL, &cfg.CacheTTL, false)

	r.name(envBroker, &cfg.Broker)
	r.str(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envKafkaTopic, &cfg.KafkaTopic)
	r.str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)
	r.str(envRabbitMQURL, &cfg.RabbitMQURL)
	r.str(envRabbitExchange, &cfg.RabbitExchange)

	r.period(envOutboxPollInterval, &cfg.OutboxPollInterval, false)
	r.count(envOutboxBatchSize, &cfg.OutboxBatchSize)
	r.count(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	r.period(envOutboxRetryDelay, &cfg.OutboxRetryDelay, true)
	r.count(envBreakerMaxFailures, &cfg.BreakerMaxFailures)
	r.period(envBreakerResetTimeout, &cfg.BreakerResetTimeout, false)

	r.period(envIdempotencyTTL, &cfg.IdempotencyTTL, false)
	r.period(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, false)
	r.count(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	r.period(envShutdownTimeout, &cfg.ShutdownTimeout, false)

	return cfg, r.warnings
}

// setupLogger выбирает формат (text или json) и уровень логов.
func setupLogger(lookup envLookup) []string {
	r := &envReader{lookup: lookup}

	format, _ := r.raw(envLogFormat)
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	if raw, ok := r.raw(envLogLevel); ok {
		level, err := log.ParseLevel(raw)
		if err != nil {
			r.warn(envLogLevel, err)
		} else {
			log.SetLevel(level)
		}
	}
	return r.warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", raw)
}

func parseInt(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	return n, nil
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%q is not a duration", raw)
	}
	return d, nil
}
