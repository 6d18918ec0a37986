package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const idempotencyHeader = "Idempotency-Key"

// apiClient: JSON-клиент REST API, каждый вызов попадает в collector.
type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	col     *collector
}

// request описывает один вызов API. name группирует вызовы в отчёте.
type request struct {
	name   string
	method string
	path   string
	key    string
	body   any
}

// call выполняет запрос и декодирует ответ в out. Статус вне 2xx возвращается ошибкой.
func (c *apiClient) call(req request, out any) error {
	started := time.Now()
	status, err := c.roundTrip(req, out)
	c.col.record(req.name, time.Since(started), status)
	return err
}

func (c *apiClient) roundTrip(r request, out any) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.key != "" {
		req.Header.Set(idempotencyHeader, r.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%s %s -> %d: %s", r.method, r.path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%s %s: decode: %w", r.method, r.path, err)
	}
	return resp.StatusCode, nil
}

type created struct {
	ID string `json:"id"`
}

// ensureFixtures создаёт покупателя, сотрудника и модель, если их id не заданы флагами.
func ensureFixtures(client *apiClient, cfg *config, runID string) error {
	fixtures := []struct {
		dst *string
		req request
	}{
		{&cfg.buyerID, request{name: "CreateBuyer", path: "/buyers",
			body: map[string]any{"full_name": "Load Buyer " + runID}}},
		{&cfg.employeeID, request{name: "CreateEmployee", path: "/employees",
			body: map[string]any{"full_name": "Load Manager " + runID}}},
		{&cfg.modelID, request{name: "CreateCarModel", path: "/car-models", body: map[string]any{
			"brand": "Load", "model": "Runner " + runID, "year": time.Now().Year(),
			"price": "1500000.00", "stock": cfg.stock,
		}}},
	}
	for _, f := range fixtures {
		if *f.dst != "" {
			continue
		}
		f.req.method = http.MethodPost
		var out created
		if err := client.call(f.req, &out); err != nil {
			return fmt.Errorf("fixture %s: %w", f.req.name, err)
		}
		*f.dst = out.ID
	}
	return nil
}

// runScenario прогоняет один сценарий выбранного режима. Ключи идемпотентности
// уникальны в пределах запуска.
func runScenario(client *apiClient, cfg config, index int, runID string) (err error) {
	started := time.Now()
	defer func() {
		status := http.StatusOK
		if err != nil {
			status = http.StatusInternalServerError
		}
		client.col.record(scenarioMethod, time.Since(started), status)
	}()

	key := func(step string) string { return fmt.Sprintf("lt-%s-%s-%d", step, runID, index) }
	line := map[string]any{"car_model_id": cfg.modelID, "quantity": cfg.quantity}
	order := map[string]any{
		"buyer_id":    cfg.buyerID,
		"employee_id": cfg.employeeID,
		"address":     map[string]string{"country": "RU", "city": "Moscow", "street": fmt.Sprintf("Load %d", index)},
	}
	// create-edit добавляет позицию отдельным вызовом.
	if cfg.mode != modeCreateEdit {
		order["items"] = []any{line}
	}

	var ord created
	if err := client.call(request{name: "CreateOrder", method: http.MethodPost, path: "/orders", key: key("create"), body: order}, &ord); err != nil {
		return err
	}
	if ord.ID == "" {
		return errors.New("order id is empty")
	}
	orderPath := "/orders/" + ord.ID

	switch cfg.mode {
	case modeCreateEdit:
		var added struct {
			Item *created `json:"item"`
		}
		if err := client.call(request{name: "AddItem", method: http.MethodPost, path: orderPath + "/items", key: key("add"), body: line}, &added); err != nil {
			return err
		}
		if added.Item == nil || added.Item.ID == "" {
			return errors.New("added item id is empty")
		}
		return client.call(request{name: "EditItem", method: http.MethodPatch, path: orderPath + "/items/" + added.Item.ID,
			key: key("edit"), body: map[string]any{"comment": "load edit"}}, nil)
	case modeCreateDelete:
		return client.call(request{name: "DeleteOrder", method: http.MethodDelete, path: orderPath, key: key("delete")}, nil)
	}
	return nil
}
