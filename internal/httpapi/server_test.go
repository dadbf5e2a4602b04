package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/BrandonDHaskell/Rollcall/server/internal/httpapi"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/capture"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/scanner"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store/memory"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

var fixedNow = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

// fakeScanner lets tests choose what Start returns.
type fakeScanner struct {
	mu       sync.Mutex
	startErr error
	status   types.ScannerStatus
	stops    int
}

func (f *fakeScanner) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.status = types.ScannerStatus{Running: true, SessionID: "sess-1", Kind: types.StatusSuccess}
	return nil
}

func (f *fakeScanner) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.status.Running = false
	f.status.Message = "Scanner stopped."
	return nil
}

func (f *fakeScanner) Status() types.ScannerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type testEnv struct {
	ts       *httptest.Server
	book     *service.Book
	persist  *memory.Store
	scanner  *fakeScanner
	sessions *memory.SessionStore
}

// newTestServer wires up the full dependency graph using in-memory stores
// and returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persist := memory.New()
	book, err := service.LoadBook(context.Background(), persist,
		service.WithLocation(time.UTC),
		service.WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("LoadBook: %v", err)
	}

	env := &testEnv{
		book:     book,
		persist:  persist,
		scanner:  &fakeScanner{},
		sessions: memory.NewSessionStore(),
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        ":0",
		Book:        book,
		ScanService: service.NewScanService(book, logger),
		Exporter:    service.NewExporter(book, afero.NewMemMapFs(), logger),
		Scanner:     env.scanner,
		Sessions:    env.sessions,
	})

	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func postScan(t *testing.T, ts *httptest.Server, raw string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(types.ScanRequest{Payload: raw})
	resp, err := http.Post(ts.URL+"/v1/scan", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

// ── Scan ─────────────────────────────────────────────────────────────────────

func TestScan_Valid_Created(t *testing.T) {
	env := newTestServer(t)

	resp := postScan(t, env.ts, "S1:Ada Lovelace")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var sr types.ScanResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !sr.OK || sr.Outcome != types.OutcomeRecorded {
		t.Errorf("unexpected response: %+v", sr)
	}
	if sr.Message != "Attendance marked for Ada Lovelace (S1)" {
		t.Errorf("unexpected message %q", sr.Message)
	}
	if sr.Record == nil || !sr.Record.Timestamp.Equal(fixedNow) {
		t.Errorf("unexpected record: %+v", sr.Record)
	}
	if env.book.Len() != 1 {
		t.Errorf("expected 1 record, got %d", env.book.Len())
	}
}

func TestScan_SameDay_Conflict(t *testing.T) {
	env := newTestServer(t)
	postScan(t, env.ts, "S1:Ada").Body.Close()

	resp := postScan(t, env.ts, "S1:Ada")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var sr types.ScanResponse
	_ = json.NewDecoder(resp.Body).Decode(&sr)
	if sr.OK || sr.Outcome != types.OutcomeDuplicate {
		t.Errorf("unexpected response: %+v", sr)
	}
	if env.book.Len() != 1 {
		t.Errorf("duplicate must not be stored, got %d records", env.book.Len())
	}
}

func TestScan_Malformed_BadRequest(t *testing.T) {
	env := newTestServer(t)

	for _, raw := range []string{"S1Ada", "a:b:c", ":Ada", "S1:"} {
		resp := postScan(t, env.ts, raw)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", raw, resp.StatusCode)
		}
		resp.Body.Close()
	}
	if env.book.Len() != 0 {
		t.Errorf("expected empty book, got %d", env.book.Len())
	}
}

func TestScan_BadJSON(t *testing.T) {
	env := newTestServer(t)

	resp, err := http.Post(env.ts.URL+"/v1/scan", "application/json", strings.NewReader(`{"payload":1,"extra":true}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "bad_json" {
		t.Errorf("expected bad_json, got %q", code)
	}
}

func TestScan_Protobuf(t *testing.T) {
	env := newTestServer(t)

	body, err := proto.Marshal(wrapperspb.String("S7:Grace Hopper"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(env.ts.URL+"/v1/scan", "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("unexpected content type %q", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal struct: %v", err)
	}
	m := out.AsMap()
	if m["outcome"] != "recorded" || m["ok"] != true {
		t.Errorf("unexpected struct: %v", m)
	}
	rec, _ := m["record"].(map[string]any)
	if rec["studentName"] != "Grace Hopper" {
		t.Errorf("unexpected record: %v", rec)
	}
}

// ── Attendance ───────────────────────────────────────────────────────────────

func TestList_ReturnsRecordsInOrder(t *testing.T) {
	env := newTestServer(t)
	postScan(t, env.ts, "S1:Ada").Body.Close()
	postScan(t, env.ts, "S2:Alan").Body.Close()

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/attendance")
	defer resp.Body.Close()

	var records []types.AttendanceRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 || records[0].StudentID != "S1" || records[1].StudentID != "S2" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestList_Today(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()
	_, _ = env.book.Add(ctx, types.AttendanceRecord{StudentID: "OLD", StudentName: "Yesterday", Timestamp: fixedNow.Add(-24 * time.Hour)})
	_, _ = env.book.Add(ctx, types.AttendanceRecord{StudentID: "NEW", StudentName: "Today"})

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/attendance?today=true")
	defer resp.Body.Close()

	var records []types.AttendanceRecord
	_ = json.NewDecoder(resp.Body).Decode(&records)
	if len(records) != 1 || records[0].StudentID != "NEW" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestList_Empty_IsArray(t *testing.T) {
	env := newTestServer(t)

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/attendance")
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(b)) != "[]" {
		t.Errorf("expected [], got %q", b)
	}
}

func TestClear_RequiresConfirm(t *testing.T) {
	env := newTestServer(t)
	postScan(t, env.ts, "S1:Ada").Body.Close()

	resp := doRequest(t, http.MethodDelete, env.ts.URL+"/v1/attendance")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "confirmation_required" {
		t.Errorf("expected confirmation_required, got %q", code)
	}
	if env.book.Len() != 1 {
		t.Error("unconfirmed clear must not remove records")
	}
}

func TestClear_Confirmed(t *testing.T) {
	env := newTestServer(t)
	postScan(t, env.ts, "S1:Ada").Body.Close()
	postScan(t, env.ts, "S2:Alan").Body.Close()

	resp := doRequest(t, http.MethodDelete, env.ts.URL+"/v1/attendance?confirm=true")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		OK      bool `json:"ok"`
		Removed int  `json:"removed"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if !body.OK || body.Removed != 2 {
		t.Errorf("unexpected body: %+v", body)
	}
	if string(env.persist.Raw()) != "[]" {
		t.Errorf("expected persisted [], got %q", env.persist.Raw())
	}
}

// ── Export ───────────────────────────────────────────────────────────────────

func TestExport_Empty_NotFound(t *testing.T) {
	env := newTestServer(t)

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/attendance/export")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "no_records" {
		t.Errorf("expected no_records, got %q", code)
	}
}

func TestExport_Workbook(t *testing.T) {
	env := newTestServer(t)
	postScan(t, env.ts, "S1:Ada").Body.Close()

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/attendance/export")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	want := "attachment; filename=attendance_2026-03-02.xlsx"
	if cd := resp.Header.Get("Content-Disposition"); cd != want {
		t.Errorf("Content-Disposition = %q, want %q", cd, want)
	}

	f, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(service.SheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}
	if rows[1][0] != "S1" || rows[1][1] != "Ada" || rows[1][2] != "3/2/2026, 8:30:00 AM" {
		t.Errorf("unexpected row: %v", rows[1])
	}
}

// ── Scanner ──────────────────────────────────────────────────────────────────

func TestScannerStart_OK(t *testing.T) {
	env := newTestServer(t)

	resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/scanner/start")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var st types.ScannerStatus
	_ = json.NewDecoder(resp.Body).Decode(&st)
	if !st.Running || st.SessionID != "sess-1" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestScannerStart_Errors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{scanner.ErrAlreadyRunning, http.StatusConflict, "already_running"},
		{fmt.Errorf("%w: no device", capture.ErrDeviceUnavailable), http.StatusServiceUnavailable, "device_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		env := newTestServer(t)
		env.scanner.startErr = tc.err

		resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/scanner/start")
		if resp.StatusCode != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.status, resp.StatusCode)
		}
		if code := decodeError(t, resp); code != tc.code {
			t.Errorf("%v: expected %q, got %q", tc.err, tc.code, code)
		}
		resp.Body.Close()
	}
}

func TestScannerStop_ThenStatus(t *testing.T) {
	env := newTestServer(t)
	doRequest(t, http.MethodPost, env.ts.URL+"/v1/scanner/start").Body.Close()

	resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/scanner/stop")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/scanner/status")
	defer resp.Body.Close()
	var st types.ScannerStatus
	_ = json.NewDecoder(resp.Body).Decode(&st)
	if st.Running || st.Message != "Scanner stopped." {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestScannerSessions(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = env.sessions.BeginSession(ctx, store.SessionRecord{
			SessionID: fmt.Sprintf("s%d", i),
			StartedAt: fixedNow.Add(time.Duration(i) * time.Minute),
		})
	}

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/scanner/sessions?limit=2")
	defer resp.Body.Close()

	var sessions []store.SessionRecord
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 2 || sessions[0].SessionID != "s2" {
		t.Errorf("unexpected sessions: %+v", sessions)
	}

	bad := doRequest(t, http.MethodGet, env.ts.URL+"/v1/scanner/sessions?limit=zero")
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", bad.StatusCode)
	}
}

// ── Plumbing ─────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	env := newTestServer(t)

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/healthz")
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "ok" {
		t.Errorf("unexpected healthz: %d %q", resp.StatusCode, b)
	}
}

func TestRequestID_GeneratedAndPropagated(t *testing.T) {
	env := newTestServer(t)

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/healthz")
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected generated X-Request-ID")
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/nope", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected propagated id, got %q", got)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRequestID_UnusableReplaced(t *testing.T) {
	env := newTestServer(t)

	for name, id := range map[string]string{
		"too long":   strings.Repeat("a", 129),
		"bad chars":  "abc def",
		"log inject": "x\" level=ERROR msg=\"forged",
	} {
		t.Run(name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/healthz", nil)
			req.Header.Set("X-Request-ID", id)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			got := resp.Header.Get("X-Request-ID")
			if got == id {
				t.Fatalf("expected %q to be replaced", id)
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("expected a generated uuid, got %q", got)
			}
		})
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("a", 128))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != strings.Repeat("a", 128) {
		t.Errorf("expected 128-char id to be kept, got %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestServer(t)

	resp := doRequest(t, http.MethodPut, env.ts.URL+"/v1/attendance")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "method_not_allowed" {
		t.Errorf("expected method_not_allowed, got %q", code)
	}
}

func TestUnknownV1Route_JSONNotFound(t *testing.T) {
	env := newTestServer(t)

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/roster")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "not_found" {
		t.Errorf("expected not_found, got %q", code)
	}
}
