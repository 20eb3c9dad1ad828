package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/reply"
)

type fakeLedger struct {
	pending []domain.PendingApproval
	entries []domain.LedgerEntry

	lastLimit    int
	lastPlatform domain.Platform
}

func (f *fakeLedger) Record(ctx context.Context, entry domain.LedgerEntry) error { return nil }
func (f *fakeLedger) UpdateStatus(ctx context.Context, id string, status domain.ReplyStatus) error {
	return nil
}

func (f *fakeLedger) ListEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	f.lastLimit = limit
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	return f.entries[:limit], nil
}

func (f *fakeLedger) HoldForApproval(ctx context.Context, pa domain.PendingApproval) error {
	return nil
}

func (f *fakeLedger) ListPending(ctx context.Context, platform domain.Platform) ([]domain.PendingApproval, error) {
	f.lastPlatform = platform
	return f.pending, nil
}

func (f *fakeLedger) Resolve(ctx context.Context, id string, decision domain.Decision) (*domain.PendingApproval, bool, error) {
	return nil, false, domain.ErrNotFound
}

type fakeResolver struct {
	err      error
	lastID   string
	decision domain.Decision
}

func (f *fakeResolver) Resolve(ctx context.Context, id string, decision domain.Decision) (*domain.PendingApproval, error) {
	f.lastID = id
	f.decision = decision
	if f.err != nil {
		return nil, f.err
	}
	return &domain.PendingApproval{ID: id}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) Healthy(ctx context.Context) error { return f.err }

func testAdmin(token string, ledger *fakeLedger, resolver *fakeResolver, health map[string]domain.HealthReporter) *Admin {
	return NewAdmin(
		config.AdminConfig{Enabled: true, Token: token},
		ledger, resolver, health,
		testWebhookLogger(),
	)
}

func TestAdmin_AuthRequired(t *testing.T) {
	a := testAdmin("secret", &fakeLedger{}, &fakeResolver{}, nil)
	h := a.Handler()

	req := httptest.NewRequest("GET", "/api/approvals", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/api/approvals", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rr.Code)
	}

	// Query fallback for WebSocket clients.
	req = httptest.NewRequest("GET", "/api/approvals?token=secret", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with query token, got %d", rr.Code)
	}
}

func TestAdmin_ListApprovals(t *testing.T) {
	ledger := &fakeLedger{pending: []domain.PendingApproval{
		{ID: "a1", SuggestedReply: "sure, Tuesday works"},
		{ID: "a2", SuggestedReply: "let me check"},
	}}
	a := testAdmin("", ledger, &fakeResolver{}, nil)

	req := httptest.NewRequest("GET", "/api/approvals?platform=slack", nil)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ledger.lastPlatform != domain.PlatformSlack {
		t.Errorf("platform filter not passed through: %q", ledger.lastPlatform)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("expected count 2, got %d", resp.Count)
	}
}

func TestAdmin_ResolveDecisions(t *testing.T) {
	resolver := &fakeResolver{}
	a := testAdmin("", &fakeLedger{}, resolver, nil)
	h := a.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/approvals/abc-123/approve", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resolver.lastID != "abc-123" || resolver.decision != domain.DecisionApproved {
		t.Errorf("resolver called with %q/%q", resolver.lastID, resolver.decision)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/approvals/abc-123/reject", nil))
	if rr.Code != http.StatusOK || resolver.decision != domain.DecisionRejected {
		t.Errorf("reject: %d decision=%q", rr.Code, resolver.decision)
	}
}

func TestAdmin_ResolveErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrAlreadyResolved, http.StatusConflict},
	}
	for _, tc := range cases {
		a := testAdmin("", &fakeLedger{}, &fakeResolver{err: tc.err}, nil)
		rr := httptest.NewRecorder()
		a.Handler().ServeHTTP(rr, httptest.NewRequest("POST", "/api/approvals/x/approve", nil))
		if rr.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
	}
}

func TestAdmin_LedgerLimit(t *testing.T) {
	ledger := &fakeLedger{entries: []domain.LedgerEntry{{ID: "1"}, {ID: "2"}, {ID: "3"}}}
	a := testAdmin("", ledger, &fakeResolver{}, nil)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/ledger?limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ledger.lastLimit != 2 {
		t.Errorf("limit not passed through: %d", ledger.lastLimit)
	}

	// Bad limit falls back to the default.
	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/ledger?limit=bogus", nil))
	if ledger.lastLimit != 50 {
		t.Errorf("expected default limit 50, got %d", ledger.lastLimit)
	}
}

func TestAdmin_Health(t *testing.T) {
	a := testAdmin("", &fakeLedger{}, &fakeResolver{}, map[string]domain.HealthReporter{
		"telegram": fakeHealth{},
		"slack":    fakeHealth{},
	})
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("all healthy: expected 200, got %d", rr.Code)
	}

	a = testAdmin("", &fakeLedger{}, &fakeResolver{}, map[string]domain.HealthReporter{
		"telegram": fakeHealth{},
		"email":    fakeHealth{err: context.DeadlineExceeded},
	})
	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded: expected 503, got %d", rr.Code)
	}
	var resp struct {
		Healthy bool `json:"healthy"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Healthy {
		t.Error("degraded health should report healthy=false")
	}
}

func TestAdmin_Metrics(t *testing.T) {
	a := testAdmin("", &fakeLedger{}, &fakeResolver{}, nil)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "standin_uptime_seconds") {
		t.Error("metrics output missing uptime gauge")
	}
}

func TestAdmin_EventStream(t *testing.T) {
	a := testAdmin("", &fakeLedger{}, &fakeResolver{}, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	defer a.closeClients()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a beat to register the client before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		a.mu.RLock()
		n := len(a.clients)
		a.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	a.HandleEvent(reply.EventReplySent, map[string]string{"id": "e1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev adminEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != reply.EventReplySent {
		t.Errorf("expected %q event, got %q", reply.EventReplySent, ev.Type)
	}
}
