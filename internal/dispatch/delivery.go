package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"procurement/internal/model"
)

// DocumentDeliverer sends an approved document to its counterparty.
// The caller only identifies the document by reference; the receiving
// service owns rendering and transport to the vendor.
type DocumentDeliverer interface {
	Deliver(ctx context.Context, referenceID, referenceCode string) error
}

// HTTPDeliverer posts delivery requests to the document service.
type HTTPDeliverer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDeliverer(baseURL string) *HTTPDeliverer {
	return &HTTPDeliverer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, referenceID, referenceCode string) error {
	payload, err := json.Marshal(map[string]string{
		"reference_id":   referenceID,
		"reference_code": referenceCode,
	})
	if err != nil {
		return fmt.Errorf("failed to encode delivery payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/documents/%s/deliver", d.baseURL, referenceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("document service returned status %d", resp.StatusCode)
	}
	return nil
}

// DocumentDispatchHook sends completed purchase orders to the counterparty.
type DocumentDispatchHook struct {
	deliverer DocumentDeliverer
}

func NewDocumentDispatchHook(deliverer DocumentDeliverer) *DocumentDispatchHook {
	return &DocumentDispatchHook{deliverer: deliverer}
}

func (h *DocumentDispatchHook) Name() string { return "document_delivery" }

func (h *DocumentDispatchHook) OnCompleted(ctx context.Context, wf *model.Workflow) error {
	return h.deliverer.Deliver(ctx, wf.ReferenceID.String(), wf.ReferenceCode)
}

// BroadcastFunc pushes a serialized event to connected clients.
type BroadcastFunc func(message []byte)

// NotifyHook broadcasts workflow completion events over the websocket hub.
type NotifyHook struct {
	broadcast BroadcastFunc
}

func NewNotifyHook(broadcast BroadcastFunc) *NotifyHook {
	return &NotifyHook{broadcast: broadcast}
}

func (h *NotifyHook) Name() string { return "workflow_notify" }

func (h *NotifyHook) OnCompleted(_ context.Context, wf *model.Workflow) error {
	msg, err := json.Marshal(map[string]interface{}{
		"event":          "workflow_completed",
		"workflow_id":    wf.ID.String(),
		"reference_code": wf.ReferenceCode,
		"category":       wf.Category,
		"status":         wf.Status,
	})
	if err != nil {
		return err
	}
	h.broadcast(msg)
	return nil
}
