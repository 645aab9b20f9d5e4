package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-attendance/internal/auth"
	"github.com/Shivanand-hulikatti/event-attendance/internal/eligibility"
	"github.com/Shivanand-hulikatti/event-attendance/internal/export/sheets"
	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
	"github.com/Shivanand-hulikatti/event-attendance/internal/raffle"
	"github.com/Shivanand-hulikatti/event-attendance/internal/repository/memory"
	"github.com/Shivanand-hulikatti/event-attendance/internal/service"
)

const testSecret = "handler-test-secret-0123"

type fakeRecorder struct {
	mu      sync.Mutex
	winners []sheets.Winner
}

func (f *fakeRecorder) RecordWinner(_ context.Context, w sheets.Winner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.winners = append(f.winners, w)
	return nil
}

type testAPI struct {
	handler  http.Handler
	verifier *auth.Verifier
	recorder *fakeRecorder
}

func newTestAPI(t *testing.T, store service.Gateway) *testAPI {
	t.Helper()
	verifier, err := auth.NewVerifier(testSecret, nil)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	svc := service.NewEventService(store)
	rec := &fakeRecorder{}
	h := NewRouter(RouterConfig{
		Events:      NewEventHandler(svc),
		Raffle:      NewRaffleHandler(svc, raffle.NewRegistry(time.Minute, nil, raffle.WithSpins(3)), rec, nil),
		Verifier:    verifier,
		CORSOrigins: []string{"https://app.example"},
		AccessLog:   log.New(io.Discard, "", 0),
	})
	return &testAPI{handler: h, verifier: verifier, recorder: rec}
}

func (a *testAPI) token(t *testing.T, userID, role string) string {
	t.Helper()
	raw, err := a.verifier.Issue(userID, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return raw
}

func (a *testAPI) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if code != "" {
		if got := decode[model.ErrorResponse](t, rec).Code; got != code {
			t.Fatalf("expected code %q, got %q", code, got)
		}
	}
}

func (a *testAPI) createEvent(t *testing.T, admin string, capacity *int) eventView {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/events", admin, model.CreateEventRequest{
		Name:          "Go meetup",
		Capacity:      capacity,
		StartsAt:      time.Now().Add(24 * time.Hour),
		WorkloadHours: 2,
	})
	expectStatus(t, rec, http.StatusCreated, "")
	return decode[eventView](t, rec)
}

func TestHealthAndNotFound(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, memory.New())

	rec := api.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, rec, http.StatusOK, "")
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health body %s", rec.Body.String())
	}

	expectStatus(t, api.do(t, http.MethodGet, "/nope", "", nil), http.StatusNotFound, codeNotFound)
	expectStatus(t, api.do(t, http.MethodGet, "/events/missing", "", nil), http.StatusNotFound, codeEventNotFound)
}

func TestCreateEventAccess(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, memory.New())
	admin := api.token(t, "admin-1", auth.RoleAdmin)
	user := api.token(t, "user-1", auth.RoleUser)

	body := model.CreateEventRequest{Name: "x", StartsAt: time.Now()}
	expectStatus(t, api.do(t, http.MethodPost, "/events", "", body), http.StatusUnauthorized, codeUnauthorized)
	expectStatus(t, api.do(t, http.MethodPost, "/events", "garbage", body), http.StatusUnauthorized, codeUnauthorized)
	expectStatus(t, api.do(t, http.MethodPost, "/events", user, body), http.StatusForbidden, codeForbidden)
	expectStatus(t, api.do(t, http.MethodPost, "/events", admin, model.CreateEventRequest{StartsAt: time.Now()}), http.StatusBadRequest, codeInvalidInput)
	expectStatus(t, api.do(t, http.MethodPost, "/events", admin, map[string]any{"bogus": 1}), http.StatusBadRequest, codeInvalidRequestBody)

	capacity := 10
	event := api.createEvent(t, admin, &capacity)
	if event.Status != model.EventStatusActive || event.Remaining == nil || *event.Remaining != 10 {
		t.Fatalf("unexpected event %+v", event)
	}

	list := decode[[]eventView](t, api.do(t, http.MethodGet, "/events", "", nil))
	if len(list) != 1 || list[0].ID != event.ID {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestRegistrationFlow(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, memory.New())
	admin := api.token(t, "admin-1", auth.RoleAdmin)
	alice := api.token(t, "alice", auth.RoleUser)
	bob := api.token(t, "bob", auth.RoleUser)

	capacity := 1
	event := api.createEvent(t, admin, &capacity)
	path := "/events/" + event.ID + "/register"

	rec := api.do(t, http.MethodPost, path, alice, nil)
	expectStatus(t, rec, http.StatusCreated, "")
	if reg := decode[model.Registration](t, rec); reg.UserID != "alice" || reg.Attended {
		t.Fatalf("unexpected registration %+v", reg)
	}

	expectStatus(t, api.do(t, http.MethodPost, path, alice, nil), http.StatusConflict, codeAlreadyRegistered)
	expectStatus(t, api.do(t, http.MethodPost, path, bob, nil), http.StatusConflict, codeCapacityExceeded)
	expectStatus(t, api.do(t, http.MethodGet, "/events/"+event.ID+"/registrations", alice, nil), http.StatusForbidden, codeForbidden)

	regs := decode[[]model.Registration](t, api.do(t, http.MethodGet, "/events/"+event.ID+"/registrations", admin, nil))
	if len(regs) != 1 {
		t.Fatalf("expected one registration, got %d", len(regs))
	}

	expectStatus(t, api.do(t, http.MethodDelete, path, alice, nil), http.StatusNoContent, "")
	expectStatus(t, api.do(t, http.MethodDelete, path, alice, nil), http.StatusNotFound, codeNotRegistered)
	expectStatus(t, api.do(t, http.MethodPost, path, bob, nil), http.StatusCreated, "")

	expectStatus(t, api.do(t, http.MethodPost, "/events/"+event.ID+"/cancel", admin, nil), http.StatusOK, "")
	expectStatus(t, api.do(t, http.MethodPost, path, alice, nil), http.StatusConflict, codeEventNotActive)
	expectStatus(t, api.do(t, http.MethodPost, "/events/"+event.ID+"/finish", admin, nil), http.StatusConflict, codeInvalidTransition)
}

func TestCheckInAndCertificates(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, memory.New())
	admin := api.token(t, "admin-1", auth.RoleAdmin)
	alice := api.token(t, "alice", auth.RoleUser)
	carol := api.token(t, "carol", auth.RoleUser)

	event := api.createEvent(t, admin, nil)
	expectStatus(t, api.do(t, http.MethodPost, "/events/"+event.ID+"/register", alice, nil), http.StatusCreated, "")

	expectStatus(t, api.do(t, http.MethodGet, "/events/"+event.ID+"/attendance-token", alice, nil), http.StatusForbidden, codeForbidden)
	tok := decode[map[string]string](t, api.do(t, http.MethodGet, "/events/"+event.ID+"/attendance-token", admin, nil))["token"]
	if tok != "EVENT_ATTENDANCE:"+event.ID {
		t.Fatalf("unexpected token %q", tok)
	}

	checkIn := "/events/" + event.ID + "/check-in"
	expectStatus(t, api.do(t, http.MethodPost, checkIn, alice, model.CheckInRequest{Token: "EVENT_ATTENDANCE:other"}), http.StatusUnprocessableEntity, codeInvalidToken)
	expectStatus(t, api.do(t, http.MethodPost, checkIn, carol, model.CheckInRequest{Token: tok}), http.StatusNotFound, codeNotRegistered)

	first := decode[model.CheckInResult](t, api.do(t, http.MethodPost, checkIn, alice, model.CheckInRequest{Token: tok}))
	if first.Outcome != model.CheckInMarked || !first.Registration.Attended {
		t.Fatalf("unexpected first check-in %+v", first)
	}
	second := decode[model.CheckInResult](t, api.do(t, http.MethodPost, checkIn, alice, model.CheckInRequest{Token: tok}))
	if second.Outcome != model.CheckInAlreadyMarked {
		t.Fatalf("expected already_marked, got %s", second.Outcome)
	}

	before := decode[eligibility.Buckets](t, api.do(t, http.MethodGet, "/me/certificates", alice, nil))
	if len(before.NotApplicable) != 1 || len(before.Eligible) != 0 {
		t.Fatalf("unexpected buckets before finish %+v", before)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/events/"+event.ID+"/finish", admin, nil), http.StatusOK, "")
	after := decode[eligibility.Buckets](t, api.do(t, http.MethodGet, "/me/certificates", alice, nil))
	if len(after.Eligible) != 1 || after.Eligible[0].Event.ID != event.ID {
		t.Fatalf("unexpected buckets after finish %+v", after)
	}
	expectStatus(t, api.do(t, http.MethodGet, "/me/certificates", "", nil), http.StatusUnauthorized, codeUnauthorized)
}

func TestRaffleFlow(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, memory.New())
	admin := api.token(t, "admin-1", auth.RoleAdmin)
	otherAdmin := api.token(t, "admin-2", auth.RoleAdmin)

	event := api.createEvent(t, admin, nil)
	for _, u := range []string{"alice", "bob"} {
		expectStatus(t, api.do(t, http.MethodPost, "/events/"+event.ID+"/register", api.token(t, u, auth.RoleUser), nil), http.StatusCreated, "")
	}

	expectStatus(t, api.do(t, http.MethodPost, "/events/missing/raffle", admin, nil), http.StatusNotFound, codeEventNotFound)
	rec := api.do(t, http.MethodPost, "/events/"+event.ID+"/raffle", admin, nil)
	expectStatus(t, rec, http.StatusCreated, "")
	session := decode[openRaffleResponse](t, rec).SessionID
	base := "/raffle/" + session

	winners := map[string]bool{}
	for range 2 {
		res := decode[drawResponse](t, api.do(t, http.MethodPost, base+"/draw", admin, nil))
		if winners[res.Winner.UserID] {
			t.Fatalf("winner %s drawn twice", res.Winner.UserID)
		}
		winners[res.Winner.UserID] = true
		if len(res.Spins) != 3 || !res.Recorded {
			t.Fatalf("unexpected draw %+v", res)
		}
	}
	expectStatus(t, api.do(t, http.MethodPost, base+"/draw", admin, nil), http.StatusConflict, codeNoEligibleParticipants)
	if len(api.recorder.winners) != 2 || api.recorder.winners[0].EventName != "Go meetup" {
		t.Fatalf("unexpected recorded winners %+v", api.recorder.winners)
	}

	status := decode[raffleStatusResponse](t, api.do(t, http.MethodGet, base, admin, nil))
	if len(status.Drawn) != 2 || !winners[status.Candidate] || status.EventID != event.ID {
		t.Fatalf("unexpected raffle status %+v", status)
	}

	expectStatus(t, api.do(t, http.MethodPost, base+"/draw", otherAdmin, nil), http.StatusNotFound, codeSessionNotFound)
	expectStatus(t, api.do(t, http.MethodPost, base+"/reset", admin, nil), http.StatusNoContent, "")
	expectStatus(t, api.do(t, http.MethodPost, base+"/draw", admin, nil), http.StatusOK, "")
	expectStatus(t, api.do(t, http.MethodDelete, base, admin, nil), http.StatusNoContent, "")
	expectStatus(t, api.do(t, http.MethodPost, base+"/draw", admin, nil), http.StatusNotFound, codeSessionNotFound)
}

type unavailableStore struct {
	*memory.Store
}

func (unavailableStore) ListEvents(context.Context) ([]model.Event, error) {
	return nil, model.Transient("list events", context.DeadlineExceeded)
}

// flakyEventStore fails event lookups while down is set.
type flakyEventStore struct {
	*memory.Store
	down atomic.Bool
}

func (s *flakyEventStore) GetEvent(ctx context.Context, id string) (model.Event, error) {
	if s.down.Load() {
		return model.Event{}, model.Transient("get event", context.DeadlineExceeded)
	}
	return s.Store.GetEvent(ctx, id)
}

func TestRaffleDrawCommitsNothingWhenEventLookupFails(t *testing.T) {
	t.Parallel()
	store := &flakyEventStore{Store: memory.New()}
	api := newTestAPI(t, store)
	admin := api.token(t, "admin-1", auth.RoleAdmin)

	event := api.createEvent(t, admin, nil)
	expectStatus(t, api.do(t, http.MethodPost, "/events/"+event.ID+"/register", api.token(t, "alice", auth.RoleUser), nil), http.StatusCreated, "")
	base := "/raffle/" + decode[openRaffleResponse](t, api.do(t, http.MethodPost, "/events/"+event.ID+"/raffle", admin, nil)).SessionID

	store.down.Store(true)
	expectStatus(t, api.do(t, http.MethodPost, base+"/draw", admin, nil), http.StatusServiceUnavailable, codeTemporarilyUnavailable)
	if status := decode[raffleStatusResponse](t, api.do(t, http.MethodGet, base, admin, nil)); len(status.Drawn) != 0 {
		t.Fatalf("expected no winner committed, got %v", status.Drawn)
	}
	if len(api.recorder.winners) != 0 {
		t.Fatalf("expected nothing recorded, got %+v", api.recorder.winners)
	}

	store.down.Store(false)
	res := decode[drawResponse](t, api.do(t, http.MethodPost, base+"/draw", admin, nil))
	if res.Winner.UserID != "alice" || !res.Recorded {
		t.Fatalf("unexpected draw %+v", res)
	}
	if got := api.recorder.winners[0].EventName; got != "Go meetup" {
		t.Fatalf("expected event name in audit row, got %q", got)
	}
}

func TestTransientFailureIs503(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, unavailableStore{Store: memory.New()})

	rec := api.do(t, http.MethodGet, "/events", "", nil)
	expectStatus(t, rec, http.StatusServiceUnavailable, codeTemporarilyUnavailable)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, memory.New())

	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("unexpected preflight response %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusForbidden, codeForbidden)
}

func TestLoggerWritesAccessLine(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger := log.New(buf, "", 0)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	Logger(logger)(next).ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"method=POST", "path=/events", "status=201", "id=-"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log, got %q", want, out)
		}
	}
}
