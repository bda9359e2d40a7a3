package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"leadsync_backend/platform/httpkit"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]APIKey
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{keys: map[string]APIKey{}}
}

func (m *memoryKeys) add(accountID uuid.UUID, plaintext string, providers ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[HashKey(plaintext)] = APIKey{ID: uuid.New(), AccountID: accountID, Providers: providers, IsActive: true}
}

func (m *memoryKeys) GetByHash(_ context.Context, keyHash string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[keyHash]
	if !ok || !key.IsActive {
		return APIKey{}, ErrAPIKeyNotFound
	}
	return key, nil
}

func (m *memoryKeys) Create(_ context.Context, accountID uuid.UUID, name, keyHash, keyPrefix string, providers []string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := APIKey{ID: uuid.New(), AccountID: accountID, Name: name, KeyHash: keyHash, KeyPrefix: keyPrefix,
		Providers: providers, IsActive: true, CreatedAt: time.Now()}
	m.keys[keyHash] = key
	return key, nil
}

func (m *memoryKeys) ListByAccount(_ context.Context, accountID uuid.UUID) ([]APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []APIKey
	for _, k := range m.keys {
		if k.AccountID == accountID && k.IsActive {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memoryKeys) Revoke(_ context.Context, keyID uuid.UUID, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, k := range m.keys {
		if k.ID == keyID && k.AccountID == accountID && k.IsActive {
			k.IsActive = false
			m.keys[hash] = k
			return nil
		}
	}
	return ErrAPIKeyNotFound
}

type recordingDispatcher struct {
	messages []MessageJob
	bookings []BookingJob
	err      error
}

func (d *recordingDispatcher) DispatchMessage(_ context.Context, job MessageJob) error {
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, job)
	return nil
}

func (d *recordingDispatcher) DispatchBooking(_ context.Context, job BookingJob) error {
	if d.err != nil {
		return d.err
	}
	d.bookings = append(d.bookings, job)
	return nil
}

type webhookHarness struct {
	router     *gin.Engine
	keys       *memoryKeys
	dispatcher *recordingDispatcher
	account    uuid.UUID
}

func newWebhookHarness() *webhookHarness {
	gin.SetMode(gin.TestMode)
	h := &webhookHarness{keys: newMemoryKeys(), dispatcher: &recordingDispatcher{}, account: uuid.New()}
	handler := NewHandler(DefaultAdapters(), h.dispatcher, h.keys, validator.New(), nil, logger.New("test"))

	r := gin.New()
	hooks := r.Group("/webhook", APIKeyAuthMiddleware(h.keys))
	hooks.POST("/messages/:provider", handler.HandleMessages)
	hooks.POST("/booking", handler.HandleBooking)

	admin := r.Group("/admin/webhook/keys", func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Set(httpkit.ContextAccountIDKey, h.account)
		c.Next()
	})
	admin.POST("", handler.HandleCreateAPIKey)
	admin.GET("", handler.HandleListAPIKeys)
	admin.DELETE("/:keyId", handler.HandleRevokeAPIKey)

	h.router = r
	return h
}

func (h *webhookHarness) post(path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func acceptedCount(t *testing.T, rec *httptest.ResponseRecorder) int {
	t.Helper()
	var resp AcceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp.Accepted
}

const genericBody = `[{"eventId":"e1","contactId":"87771234567","text":"hi"},{"eventId":"e2","contactId":"87771234568","text":"hello"}]`

func TestWebhookRequiresAPIKey(t *testing.T) {
	h := newWebhookHarness()
	h.keys.add(h.account, "lsk_valid")

	if rec := h.post("/webhook/messages/generic", "", genericBody); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if rec := h.post("/webhook/messages/generic", "lsk_wrong", genericBody); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", rec.Code)
	}
	if rec := h.post("/webhook/messages/generic?key=lsk_valid", "", genericBody); rec.Code != http.StatusAccepted {
		t.Fatalf("expected query key to authenticate, got %d", rec.Code)
	}
}

func TestWebhookProviderChecks(t *testing.T) {
	h := newWebhookHarness()
	h.keys.add(h.account, "lsk_cloud", ProviderCloudAPI)

	if rec := h.post("/webhook/messages/generic", "lsk_cloud", genericBody); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for restricted key, got %d", rec.Code)
	}
	if rec := h.post("/webhook/booking", "lsk_cloud", `{"kind":"record","recordId":"r-1"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on booking route, got %d", rec.Code)
	}
	if rec := h.post("/webhook/messages/telegram", "lsk_cloud", genericBody); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", rec.Code)
	}
}

func TestWebhookAcknowledgesAndDispatches(t *testing.T) {
	h := newWebhookHarness()
	h.keys.add(h.account, "lsk_all")

	rec := h.post("/webhook/messages/generic", "lsk_all", genericBody)
	if rec.Code != http.StatusAccepted || acceptedCount(t, rec) != 2 {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if len(h.dispatcher.messages) != 2 || h.dispatcher.messages[0].AccountID != h.account {
		t.Fatalf("messages not dispatched for the key's account: %+v", h.dispatcher.messages)
	}

	rec = h.post("/webhook/messages/generic", "lsk_all", `{not json`)
	if rec.Code != http.StatusAccepted || acceptedCount(t, rec) != 0 {
		t.Fatalf("malformed payload should be acknowledged, got %d %s", rec.Code, rec.Body.String())
	}

	h.dispatcher.err = ErrQueueFull
	rec = h.post("/webhook/messages/generic", "lsk_all", genericBody)
	if rec.Code != http.StatusAccepted || acceptedCount(t, rec) != 0 {
		t.Fatalf("dispatch failures should still be acknowledged, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestBookingWebhook(t *testing.T) {
	h := newWebhookHarness()
	h.keys.add(h.account, "lsk_booking", ProviderBooking)

	rec := h.post("/webhook/booking", "lsk_booking", `{"eventId":"b1","kind":"record","recordId":"r-1","clientPhone":"87771234567"}`)
	if rec.Code != http.StatusAccepted || acceptedCount(t, rec) != 1 {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if len(h.dispatcher.bookings) != 1 || h.dispatcher.bookings[0].Payload.RecordID != "r-1" {
		t.Fatalf("booking not dispatched: %+v", h.dispatcher.bookings)
	}

	rec = h.post("/webhook/booking", "lsk_booking", `{"kind":"transaction","recordId":"r-1"}`)
	if rec.Code != http.StatusAccepted || acceptedCount(t, rec) != 0 {
		t.Fatalf("invalid payload should be acknowledged and dropped, got %d %s", rec.Code, rec.Body.String())
	}
	if len(h.dispatcher.bookings) != 1 {
		t.Fatalf("invalid payload must not be dispatched")
	}
}

func TestAdminAPIKeyLifecycle(t *testing.T) {
	h := newWebhookHarness()

	rec := h.post("/admin/webhook/keys", "", `{"name":"clinic","providers":["evolution"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Key == "" || created.KeyPrefix == "" || len(created.Providers) != 1 {
		t.Fatalf("unexpected created key %+v", created)
	}

	if rec := h.post("/webhook/messages/evolution", created.Key, `{"event":"connection.update"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("new key should authenticate, got %d", rec.Code)
	}

	if rec := h.post("/admin/webhook/keys", "", `{"name":"x","providers":["telegram"]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown provider, got %d", rec.Code)
	}

	list := httptest.NewRecorder()
	h.router.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/admin/webhook/keys", nil))
	if list.Code != http.StatusOK {
		t.Fatalf("list: %d", list.Code)
	}

	revoke := httptest.NewRecorder()
	h.router.ServeHTTP(revoke, httptest.NewRequest(http.MethodDelete, "/admin/webhook/keys/"+created.ID.String(), nil))
	if revoke.Code != http.StatusNoContent {
		t.Fatalf("revoke: %d", revoke.Code)
	}
	again := httptest.NewRecorder()
	h.router.ServeHTTP(again, httptest.NewRequest(http.MethodDelete, "/admin/webhook/keys/"+created.ID.String(), nil))
	if again.Code != http.StatusNotFound {
		t.Fatalf("second revoke should be 404, got %d", again.Code)
	}

	if rec := h.post("/webhook/messages/evolution", created.Key, `{}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked key must not authenticate, got %d", rec.Code)
	}
}

func TestAdminAPIKeyRejectsUnknownProvider(t *testing.T) {
	h := newWebhookHarness()

	rec := h.post("/admin/webhook/keys", "", `{"name":"clinic","providers":["booking","telegram"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Details["providers[1]"] != "webhook_provider" {
		t.Fatalf("expected the second provider to be flagged, got %+v", body.Details)
	}
	if _, ok := body.Details["providers[0]"]; ok {
		t.Fatalf("booking is a valid key provider: %+v", body.Details)
	}
}

func TestAdminAPIKeyNameIsSanitized(t *testing.T) {
	h := newWebhookHarness()

	if rec := h.post("/admin/webhook/keys", "", `{"name":"<b></b>"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("markup-only name should be rejected, got %d", rec.Code)
	}
	rec := h.post("/admin/webhook/keys", "", `{"name":"<i>Clinic</i>  main"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Name != "Clinic main" {
		t.Fatalf("unexpected stored name %q", created.Name)
	}
}
