package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"procurement/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHook struct {
	name  string
	err   error
	calls chan *model.Workflow
}

func newStubHook(name string, err error) *stubHook {
	return &stubHook{name: name, err: err, calls: make(chan *model.Workflow, 8)}
}

func (h *stubHook) Name() string { return h.name }

func (h *stubHook) OnCompleted(_ context.Context, wf *model.Workflow) error {
	h.calls <- wf
	return h.err
}

func testWorkflow(category string) *model.Workflow {
	return &model.Workflow{
		ID:            uuid.New(),
		ReferenceID:   uuid.New(),
		ReferenceCode: "PO-2024-001",
		Category:      category,
		Status:        model.StatusApproved,
	}
}

func receive(t *testing.T, ch chan *model.Workflow) *model.Workflow {
	t.Helper()
	select {
	case wf := <-ch:
		return wf
	case <-time.After(2 * time.Second):
		t.Fatal("hook was not invoked")
		return nil
	}
}

func TestFireRunsCategoryAndGlobalHooks(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	global := newStubHook("global", nil)
	poOnly := newStubHook("po_only", nil)
	registry.RegisterAll(global)
	registry.Register(model.CategoryPurchaseOrder, poOnly)

	wf := testWorkflow(model.CategoryPurchaseOrder)
	registry.Fire(wf)

	assert.Equal(t, wf.ID, receive(t, global.calls).ID)
	assert.Equal(t, wf.ID, receive(t, poOnly.calls).ID)
}

func TestFireSkipsOtherCategories(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	poOnly := newStubHook("po_only", nil)
	registry.Register(model.CategoryPurchaseOrder, poOnly)

	registry.FireSync(context.Background(), testWorkflow(model.CategoryPayments))

	select {
	case <-poOnly.calls:
		t.Fatal("hook fired for a category it is not registered on")
	default:
	}
}

func TestHookFailureReachesCallbackAndNextHookStillRuns(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	failing := newStubHook("failing", errors.New("downstream unavailable"))
	healthy := newStubHook("healthy", nil)
	registry.RegisterAll(failing)
	registry.RegisterAll(healthy)

	type failure struct {
		hook string
		err  error
	}
	failures := make(chan failure, 1)
	registry.OnFailure(func(hookName string, _ *model.Workflow, err error) {
		failures <- failure{hook: hookName, err: err}
	})

	wf := testWorkflow(model.CategoryContracts)
	registry.FireSync(context.Background(), wf)

	got := <-failures
	assert.Equal(t, "failing", got.hook)
	assert.ErrorContains(t, got.err, "downstream unavailable")

	// The failure did not short-circuit the remaining hooks.
	assert.Equal(t, wf.ID, receive(t, healthy.calls).ID)
}

func TestNotifyHookBroadcastsCompletionEvent(t *testing.T) {
	messages := make(chan []byte, 1)
	hook := NewNotifyHook(func(msg []byte) { messages <- msg })

	wf := testWorkflow(model.CategoryCapex)
	require.NoError(t, hook.OnCompleted(context.Background(), wf))

	var event map[string]string
	require.NoError(t, json.Unmarshal(<-messages, &event))
	assert.Equal(t, "workflow_completed", event["event"])
	assert.Equal(t, wf.ID.String(), event["workflow_id"])
	assert.Equal(t, "PO-2024-001", event["reference_code"])
	assert.Equal(t, model.StatusApproved, event["status"])
}

func TestHTTPDelivererPostsToDocumentService(t *testing.T) {
	wf := testWorkflow(model.CategoryPurchaseOrder)

	var gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	hook := NewDocumentDispatchHook(NewHTTPDeliverer(server.URL))
	require.NoError(t, hook.OnCompleted(context.Background(), wf))

	assert.Equal(t, "/api/documents/"+wf.ReferenceID.String()+"/deliver", gotPath)
	assert.Equal(t, wf.ReferenceCode, gotBody["reference_code"])
}

func TestHTTPDelivererRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	deliverer := NewHTTPDeliverer(server.URL)
	err := deliverer.Deliver(context.Background(), uuid.NewString(), "PO-2024-002")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
