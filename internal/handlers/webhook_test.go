package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/SheetWithoutShit/sws-collector/internal/cache"
	"github.com/SheetWithoutShit/sws-collector/internal/limits"
	"github.com/SheetWithoutShit/sws-collector/internal/mcc"
	"github.com/SheetWithoutShit/sws-collector/internal/notify"
	"github.com/SheetWithoutShit/sws-collector/internal/queue"
	"github.com/SheetWithoutShit/sws-collector/internal/storage"
	"github.com/SheetWithoutShit/sws-collector/models"
)

var webhookSecret = []byte("webhook-test-secret")

// recordingHub stands in for the realtime hub on both of its contracts.
type recordingHub struct {
	mu     sync.Mutex
	events []models.Statement
}

func (h *recordingHub) PublishTransaction(_ int64, stmt models.Statement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, stmt)
}

func (h *recordingHub) HandleConn(*websocket.Conn) {}

func (h *recordingHub) published() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// countingEvaluator wraps the real evaluator so tests can observe that limit
// evaluation ran.
type countingEvaluator struct {
	inner *limits.Evaluator
	mu    sync.Mutex
	calls int
}

func (e *countingEvaluator) Evaluate(ctx context.Context, userID int64, code int) *limits.Exceeded {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.inner.Evaluate(ctx, userID, code)
}

func (e *countingEvaluator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type testEnv struct {
	router     *gin.Engine
	db         *gorm.DB
	dispatcher *notify.Dispatcher
	hub        *recordingHub
	queue      *queue.Memory
	evaluator  *countingEvaluator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.MCCCategory{},
		&models.MCC{},
		&models.Limit{},
		&models.Transaction{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Create(&models.MCCCategory{ID: 1, Name: "Groceries"}).Error; err != nil {
		t.Fatalf("seed category: %v", err)
	}
	if err := db.Create(&models.MCC{Code: 5411, CategoryID: 1}).Error; err != nil {
		t.Fatalf("seed mcc: %v", err)
	}

	log := zerolog.Nop()
	store := storage.New(db)
	validator := mcc.NewValidator(cache.NewMemory(), store, log)
	evaluator := &countingEvaluator{inner: limits.NewEvaluator(store, log)}
	hub := &recordingHub{}
	memoryQueue := queue.NewMemory(16)
	dispatcher := notify.NewDispatcher(store, validator, evaluator, hub, memoryQueue, 1, 8, log)
	collector := NewCollector(webhookSecret, store, validator, dispatcher, hub, log)

	router := gin.New()
	router.POST("/monobank/:token", collector.Webhook)
	router.GET("/ws/transactions", collector.Subscribe)

	return &testEnv{
		router:     router,
		db:         db,
		dispatcher: dispatcher,
		hub:        hub,
		queue:      memoryQueue,
		evaluator:  evaluator,
	}
}

func (env *testEnv) seedUser(t *testing.T, telegramID *int64, notificationsEnabled bool) {
	t.Helper()
	user := models.User{ID: 1, TelegramID: telegramID, NotificationsEnabled: notificationsEnabled}
	if err := env.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// drain waits for background dispatch to finish and returns the queued events.
func (env *testEnv) drain() []queue.Event {
	env.dispatcher.Close()
	var events []queue.Event
	for {
		select {
		case event, ok := <-env.queue.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

func signTestToken(t *testing.T, userID int64, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     time.Now().Add(-time.Minute).Unix(),
		"exp":     expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(webhookSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func statementBody(t *testing.T, id string, amount int64, mccCode int) []byte {
	t.Helper()
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"statementItem": map[string]interface{}{
				"id":             id,
				"amount":         amount,
				"balance":        100000,
				"cashbackAmount": 50,
				"description":    "grocery store",
				"mcc":            mccCode,
				"time":           time.Now().Unix(),
			},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return data
}

func (env *testEnv) post(t *testing.T, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/monobank/"+token, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("unmarshal response %q: %v", recorder.Body.String(), err)
	}
	return response
}

func (env *testEnv) transactionCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := env.db.Model(&models.Transaction{}).Count(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return count
}

func TestWebhookAcceptedWithNotificationsDisabled(t *testing.T) {
	env := newTestEnv(t)
	telegramID := int64(777)
	env.seedUser(t, &telegramID, false)
	token := signTestToken(t, 1, time.Now().Add(time.Hour))

	recorder := env.post(t, token, statementBody(t, "tx-1", -2550, 5411))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	response := decodeResponse(t, recorder)
	if response["success"] != true {
		t.Fatalf("response = %v, want success", response)
	}
	data, ok := response["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("data = %v, want an object", response["data"])
	}
	if data["user_id"] != float64(1) {
		t.Fatalf("data.user_id = %v, want 1", data["user_id"])
	}
	tx, ok := data["transaction"].(map[string]interface{})
	if !ok || tx["amount"] != -25.5 {
		t.Fatalf("data.transaction = %v, want amount -25.5", data["transaction"])
	}

	events := env.drain()
	if env.transactionCount(t) != 1 {
		t.Fatal("expected exactly one stored transaction")
	}
	if env.hub.published() != 1 {
		t.Fatalf("realtime publishes = %d, want 1", env.hub.published())
	}
	if len(events) != 0 {
		t.Fatalf("queued events = %d, want 0 with notifications disabled", len(events))
	}
	if env.evaluator.callCount() != 1 {
		t.Fatal("limit evaluation must run even with notifications disabled")
	}
}

func TestWebhookRejectsExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	token := signTestToken(t, 1, time.Now().Add(-time.Hour))

	recorder := env.post(t, token, statementBody(t, "tx-1", -2550, 5411))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
	if response := decodeResponse(t, recorder); response["success"] != false {
		t.Fatalf("response = %v, want success false", response)
	}

	env.drain()
	if env.transactionCount(t) != 0 {
		t.Fatal("no transaction may be stored on auth failure")
	}
	if env.hub.published() != 0 {
		t.Fatal("nothing may be dispatched on auth failure")
	}
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	telegramID := int64(777)
	env.seedUser(t, &telegramID, true)
	token := signTestToken(t, 1, time.Now().Add(time.Hour))
	body := statementBody(t, "tx-1", -2550, 5411)

	first := env.post(t, token, body)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}
	if response := decodeResponse(t, first); response["success"] != true {
		t.Fatalf("first response = %v, want success", response)
	}

	second := env.post(t, token, body)
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d, want 200 so the provider never retries", second.Code)
	}
	response := decodeResponse(t, second)
	if response["success"] != false {
		t.Fatalf("second response = %v, want success false", response)
	}
	if message, _ := response["message"].(string); !strings.Contains(message, "already exists") {
		t.Fatalf("second message = %q, want the already-exists notice", message)
	}

	env.drain()
	if env.transactionCount(t) != 1 {
		t.Fatal("redelivery must not create a second row")
	}
	if env.hub.published() != 1 {
		t.Fatalf("realtime publishes = %d, want 1 (no dispatch on redelivery)", env.hub.published())
	}
}

func TestWebhookStoresSentinelForUnknownMCC(t *testing.T) {
	env := newTestEnv(t)
	telegramID := int64(777)
	env.seedUser(t, &telegramID, true)
	token := signTestToken(t, 1, time.Now().Add(time.Hour))

	recorder := env.post(t, token, statementBody(t, "tx-1", -2550, 9999))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if response := decodeResponse(t, recorder); response["success"] != true {
		t.Fatalf("response = %v, want success", response)
	}

	var stored models.Transaction
	if err := env.db.First(&stored, "id = ?", "tx-1").Error; err != nil {
		t.Fatalf("fetch stored transaction: %v", err)
	}
	if stored.MCC != mcc.UnknownCode {
		t.Fatalf("stored mcc = %d, want sentinel %d", stored.MCC, mcc.UnknownCode)
	}

	events := env.drain()
	if len(events) != 1 {
		t.Fatalf("queued events = %d, want the transaction alert", len(events))
	}
	if !strings.Contains(events[0].Text, fmt.Sprintf("Category: *%s*", mcc.OtherCategory)) {
		t.Fatalf("alert text = %q, want the %q category", events[0].Text, mcc.OtherCategory)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	token := signTestToken(t, 1, time.Now().Add(time.Hour))

	recorder := env.post(t, token, []byte("{not json"))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", recorder.Code)
	}

	recorder = env.post(t, token, []byte(`{"data":{"statementItem":{"amount":-100}}}`))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("missing id status = %d, want 400", recorder.Code)
	}

	env.drain()
	if env.transactionCount(t) != 0 {
		t.Fatal("malformed payloads must never reach the store")
	}
}
