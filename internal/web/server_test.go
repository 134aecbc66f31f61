package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JonMunkholm/campa/internal/auth"
	"github.com/JonMunkholm/campa/internal/config"
	"github.com/JonMunkholm/campa/internal/core"
	"github.com/JonMunkholm/campa/internal/live"
	"github.com/JonMunkholm/campa/internal/store"
	"github.com/JonMunkholm/campa/internal/web/middleware"
)

const (
	adminEmail    = "admin@campa.test"
	adminPassword = "admin-password"
)

type testEnv struct {
	srv        *Server
	svc        *core.Service
	hub        *live.Hub
	adminToken string
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
		App:    config.AppConfig{Timezone: "Europe/Madrid"},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)

	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	hub := live.NewHub()
	t.Cleanup(hub.Close)

	svc := core.NewService(st, core.ServiceOptions{Location: loc, Publisher: hub})
	authSvc, err := auth.NewService(st, svc, auth.Config{Secret: []byte(strings.Repeat("k", 32))})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	if _, err := authSvc.Bootstrap(ctx, adminEmail, adminPassword, "Admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)

	env := &testEnv{
		srv: NewServer(srvCtx, Options{
			Service: svc,
			Auth:    authSvc,
			Hub:     hub,
			Store:   st,
			Config:  testConfig(),
		}),
		svc: svc,
		hub: hub,
	}
	env.adminToken = env.login(t, adminEmail, adminPassword)
	return env
}

func (e *testEnv) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(method, path, token string, v any) *httptest.ResponseRecorder {
	var body io.Reader
	if v != nil {
		b, _ := json.Marshal(v)
		body = bytes.NewReader(b)
	}
	return e.do(method, path, token, body, "application/json")
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := e.doJSON(http.MethodPost, "/api/auth/login", "", loginRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", email, rec.Code, rec.Body.String())
	}
	var resp loginResponse
	decode(t, rec, &resp)
	return resp.Token
}

func (e *testEnv) createUser(t *testing.T, email, password string) string {
	t.Helper()
	rec := e.doJSON(http.MethodPost, "/api/users", e.adminToken, auth.NewUser{
		Email: email, Password: password, FullName: "Usuario", Role: core.RoleUser,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status %d: %s", rec.Code, rec.Body.String())
	}
	return e.login(t, email, password)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func multipartCSV(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return &body, mw.FormDataContentType()
}

const importCSV = "ID;MATRICULA;MARCA;MODELO;UBICACION;DETALLE;ENTRADA;REGISTRADO POR;SALIDA;SALIDA POR\n" +
	";1234ABC;SEAT;Ibiza;A1;-;01/06/2024 10:00;Ana;-;-\n" +
	";5678DEF;FORD;Focus;B2;;02/06/2024 09:30;;03/06/2024 12:00;Luis\n"

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/healthz", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestStatusPage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Europe/Madrid") {
		t.Errorf("page does not show the time zone: %s", rec.Body.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/healthz", "", nil, "")
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

func TestLoginAndSession(t *testing.T) {
	env := newTestEnv(t)

	t.Run("wrong password", func(t *testing.T) {
		rec := env.doJSON(http.MethodPost, "/api/auth/login", "", loginRequest{Email: adminEmail, Password: "nope-nope"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("sets session cookie", func(t *testing.T) {
		rec := env.doJSON(http.MethodPost, "/api/auth/login", "", loginRequest{Email: adminEmail, Password: adminPassword})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var found bool
		for _, c := range rec.Result().Cookies() {
			if c.Name == middleware.SessionCookie && c.Value != "" && c.HttpOnly {
				found = true
			}
		}
		if !found {
			t.Error("no HttpOnly session cookie")
		}
	})

	t.Run("me", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/auth/me", env.adminToken, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var u auth.User
		decode(t, rec, &u)
		if u.Email != adminEmail || u.Role != core.RoleAdmin {
			t.Errorf("me = %+v", u)
		}
	})

	t.Run("logout revokes token", func(t *testing.T) {
		token := env.login(t, adminEmail, adminPassword)
		if rec := env.do(http.MethodPost, "/api/auth/logout", token, nil, ""); rec.Code != http.StatusNoContent {
			t.Fatalf("logout status = %d", rec.Code)
		}
		if rec := env.do(http.MethodGet, "/api/auth/me", token, nil, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("me after logout status = %d, want 401", rec.Code)
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		if rec := env.do(http.MethodGet, "/api/vehicles", "", nil, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestAdminOnlyRoutes(t *testing.T) {
	env := newTestEnv(t)
	userToken := env.createUser(t, "user@campa.test", "user-password")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "list users", method: http.MethodGet, path: "/api/users"},
		{name: "delete vehicle", method: http.MethodDelete, path: "/api/vehicles/abc"},
		{name: "delete batch", method: http.MethodPost, path: "/api/vehicles/delete", body: deleteVehiclesRequest{IDs: []string{"abc"}}},
		{name: "purge", method: http.MethodPost, path: "/api/vehicles/purge", body: periodRequest{From: "01/01/2024", To: "31/01/2024"}},
		{name: "audit log", method: http.MethodGet, path: "/api/audit-log"},
		{name: "delete brand", method: http.MethodDelete, path: "/api/brands/b1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(tt.method, tt.path, userToken, tt.body)
			if rec.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403: %s", rec.Code, rec.Body.String())
			}
		})
	}

	if rec := env.do(http.MethodGet, "/api/vehicles", userToken, nil, ""); rec.Code != http.StatusOK {
		t.Errorf("user list vehicles status = %d", rec.Code)
	}
}

func TestUpdateOwnProfile(t *testing.T) {
	env := newTestEnv(t)
	userToken := env.createUser(t, "user@campa.test", "user-password")

	var me auth.User
	decode(t, env.do(http.MethodGet, "/api/auth/me", userToken, nil, ""), &me)

	name := "Nombre Nuevo"
	rec := env.doJSON(http.MethodPut, "/api/users/"+me.ID, userToken, auth.ProfileUpdate{FullName: &name})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	role := core.RoleAdmin
	rec = env.doJSON(http.MethodPut, "/api/users/"+me.ID, userToken, auth.ProfileUpdate{Role: &role})
	if rec.Code != http.StatusForbidden {
		t.Errorf("self promotion status = %d, want 403", rec.Code)
	}
}

func TestVehicleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	entry := map[string]string{"plate": " 1234abc ", "brand": "seat", "model": "ibiza", "location": "A1"}

	rec := env.doJSON(http.MethodPost, "/api/vehicles", env.adminToken, entry)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body.String())
	}
	var created core.VehicleRecord
	decode(t, rec, &created)
	if created.Plate != "1234ABC" || created.Status != core.StatusActive || created.Brand != "SEAT" {
		t.Errorf("created = %+v", created)
	}

	if rec := env.doJSON(http.MethodPost, "/api/vehicles", env.adminToken, entry); rec.Code != http.StatusConflict {
		t.Errorf("duplicate active plate status = %d, want 409", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/vehicles/active/count", env.adminToken, nil, "")
	var count map[string]int
	decode(t, rec, &count)
	if count["count"] != 1 {
		t.Errorf("active count = %d, want 1", count["count"])
	}

	rec = env.do(http.MethodGet, "/api/vehicles/search?q=234a", env.adminToken, nil, "")
	var found []core.VehicleRecord
	decode(t, rec, &found)
	if len(found) != 1 {
		t.Errorf("search found %d records, want 1", len(found))
	}

	rec = env.do(http.MethodPost, "/api/vehicles/"+created.ID+"/depart", env.adminToken, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("depart status = %d: %s", rec.Code, rec.Body.String())
	}
	var departed core.VehicleRecord
	decode(t, rec, &departed)
	if departed.Status != core.StatusDeparted || departed.DepartedAt == nil {
		t.Errorf("departed = %+v", departed)
	}

	if rec := env.do(http.MethodPost, "/api/vehicles/"+created.ID+"/depart", env.adminToken, nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("second depart status = %d, want 409", rec.Code)
	}

	if rec := env.do(http.MethodDelete, "/api/vehicles/"+created.ID, env.adminToken, nil, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := env.do(http.MethodDelete, "/api/vehicles/"+created.ID, env.adminToken, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(http.MethodPost, "/api/brands", env.adminToken, nameRequest{Name: " renault "})
	if rec.Code != http.StatusOK {
		t.Fatalf("create brand status = %d", rec.Code)
	}
	var brand core.Brand
	decode(t, rec, &brand)
	if brand.Name != "RENAULT" {
		t.Errorf("brand name = %q", brand.Name)
	}

	rec = env.doJSON(http.MethodPost, "/api/brands/"+brand.ID+"/models", env.adminToken, nameRequest{Name: "clio"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create model status = %d: %s", rec.Code, rec.Body.String())
	}

	var models []core.Model
	decode(t, env.do(http.MethodGet, "/api/brands/"+brand.ID+"/models", env.adminToken, nil, ""), &models)
	if len(models) != 1 || models[0].Name != "Clio" {
		t.Errorf("models = %+v", models)
	}

	if rec := env.doJSON(http.MethodPost, "/api/brands", env.adminToken, nameRequest{Name: "  "}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank brand status = %d, want 400", rec.Code)
	}
}

func TestImport(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartCSV(t, "vehiculos.csv", importCSV)
	rec := env.do(http.MethodPost, "/api/import", env.adminToken, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		State   string             `json:"state"`
		Summary core.ImportSummary `json:"summary"`
	}
	decode(t, rec, &resp)
	if resp.State != "success" || resp.Summary.Created != 2 {
		t.Errorf("response = %+v", resp)
	}

	// Same file again: everything is a duplicate
	body, ct = multipartCSV(t, "vehiculos.csv", importCSV)
	decode(t, env.do(http.MethodPost, "/api/import", env.adminToken, body, ct), &resp)
	if resp.Summary.Created != 0 || resp.Summary.Skipped != 2 {
		t.Errorf("reimport summary = %+v", resp.Summary)
	}

	var history []core.ImportHistoryEntry
	decode(t, env.do(http.MethodGet, "/api/import/history", env.adminToken, nil, ""), &history)
	if len(history) != 2 {
		t.Errorf("history has %d entries, want 2", len(history))
	}
}

func TestImport_Rejections(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no file", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.WriteField("other", "x")
		mw.Close()
		rec := env.do(http.MethodPost, "/api/import", env.adminToken, &body, mw.FormDataContentType())
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("too large", func(t *testing.T) {
		body, ct := multipartCSV(t, "big.csv", strings.Repeat("x", 2<<20))
		rec := env.do(http.MethodPost, "/api/import", env.adminToken, body, ct)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", rec.Code)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		body, ct := multipartCSV(t, "empty.csv", "")
		rec := env.do(http.MethodPost, "/api/import", env.adminToken, body, ct)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})
}

func TestAsyncImportProgress(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	body, ct := multipartCSV(t, "vehiculos.csv", importCSV)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/import/async", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+env.adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	var started map[string]string
	json.NewDecoder(resp.Body).Decode(&started)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || started["importId"] == "" {
		t.Fatalf("start import: status %d, body %v", resp.StatusCode, started)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/import/"+started["importId"]+"/progress", nil)
	req.Header.Set("Authorization", "Bearer "+env.adminToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	stream, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(stream), "event: complete") || !strings.Contains(string(stream), `"state":"success"`) {
		t.Errorf("stream did not complete successfully:\n%s", stream)
	}

	rec := env.do(http.MethodGet, "/api/import/"+started["importId"]+"/result", env.adminToken, nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("result status = %d", rec.Code)
	}

	if rec := env.do(http.MethodGet, "/api/import/unknown/result", env.adminToken, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown import status = %d, want 404", rec.Code)
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	env.doJSON(http.MethodPost, "/api/vehicles", env.adminToken, map[string]string{"plate": "9999ZZZ"})

	t.Run("csv download", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/export?from=01/01/2000&to=31/12/2099", env.adminToken, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
			t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
		}
		if !strings.Contains(rec.Body.String(), "9999ZZZ") {
			t.Errorf("export does not contain the plate:\n%s", rec.Body.String())
		}
	})

	t.Run("empty period", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/export?from=01/01/2000&to=02/01/2000", env.adminToken, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var res map[string]string
		decode(t, rec, &res)
		if res["state"] != "success" || !strings.Contains(res["message"], "No se encontraron") {
			t.Errorf("result = %v", res)
		}
	})

	t.Run("bad date", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/export?from=yesterday&to=31/12/2099", env.adminToken, nil, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("archive not configured", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/export?from=01/01/2000&to=31/12/2099&archive=true", env.adminToken, nil, "")
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("status = %d, want 501", rec.Code)
		}
	})
}

type memorySink struct {
	keys []string
}

func (m *memorySink) Put(_ context.Context, key string, body io.Reader) error {
	if _, err := io.ReadAll(body); err != nil {
		return err
	}
	m.keys = append(m.keys, key)
	return nil
}

func TestArchiveExport(t *testing.T) {
	env := newTestEnv(t)
	sink := &memorySink{}
	env.srv.archive = sink
	env.doJSON(http.MethodPost, "/api/vehicles", env.adminToken, map[string]string{"plate": "1111AAA"})

	rec := env.doJSON(http.MethodPost, "/api/export", env.adminToken, periodRequest{From: "01/01/2000", To: "31/12/2099"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(sink.keys) != 1 || !strings.HasPrefix(sink.keys[0], "export/") {
		t.Errorf("archived keys = %v", sink.keys)
	}
}

func TestDeleteByPeriod(t *testing.T) {
	env := newTestEnv(t)
	env.doJSON(http.MethodPost, "/api/vehicles", env.adminToken, map[string]string{"plate": "2222BBB"})

	rec := env.doJSON(http.MethodPost, "/api/vehicles/purge", env.adminToken, periodRequest{From: "01/01/2000", To: "31/12/2099"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var all []core.VehicleRecord
	decode(t, env.do(http.MethodGet, "/api/vehicles", env.adminToken, nil, ""), &all)
	if len(all) != 0 {
		t.Errorf("%d records left after purge", len(all))
	}

	rec = env.doJSON(http.MethodPost, "/api/vehicles/purge", env.adminToken, periodRequest{From: "31/12/2099", To: "01/01/2000"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted period status = %d, want 400", rec.Code)
	}
}

func TestParseAPIDate(t *testing.T) {
	env := newTestEnv(t)
	loc := env.svc.Location()

	tests := []struct {
		name     string
		text     string
		endOfDay bool
		want     time.Time
		wantErr  bool
	}{
		{name: "date", text: "15/10/2026", want: time.Date(2026, 10, 15, 0, 0, 0, 0, loc)},
		{name: "date end of day", text: "15/10/2026", endOfDay: true, want: time.Date(2026, 10, 15, 23, 59, 59, int(999*time.Millisecond), loc)},
		{name: "end of day padded", text: " 15/10/2026 ", endOfDay: true, want: time.Date(2026, 10, 15, 23, 59, 59, int(999*time.Millisecond), loc)},
		{name: "end of 25 hour day", text: "27/10/2024", endOfDay: true, want: time.Date(2024, 10, 27, 23, 59, 59, int(999*time.Millisecond), loc)},
		{name: "end of 23 hour day", text: "31/03/2024", endOfDay: true, want: time.Date(2024, 3, 31, 23, 59, 59, int(999*time.Millisecond), loc)},
		{name: "date and time", text: "15/10/2026 08:30", endOfDay: true, want: time.Date(2026, 10, 15, 8, 30, 0, 0, loc)},
		{name: "rfc3339", text: "2026-10-15T06:30:00Z", want: time.Date(2026, 10, 15, 6, 30, 0, 0, time.UTC)},
		{name: "garbage", text: "mañana", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.srv.parseAPIDate(tt.text, tt.endOfDay)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrPlateActive, http.StatusConflict},
		{core.ErrForbidden, http.StatusForbidden},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{core.ErrTooManyImports, http.StatusTooManyRequests},
		{errFileTooLarge, http.StatusRequestEntityTooLarge},
		{core.ErrInvalidPeriod, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestLive(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	header := http.Header{"Authorization": {"Bearer " + env.adminToken}}
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live?topic=" + live.TopicActiveCount

	t.Run("unknown topic", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/live?topic=nope", nil)
		req.Header = header
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("snapshot then change", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()

		read := func() int {
			t.Helper()
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var snap struct {
				Topic   string `json:"topic"`
				Payload int    `json:"payload"`
			}
			if err := conn.ReadJSON(&snap); err != nil {
				t.Fatalf("read: %v", err)
			}
			if snap.Topic != live.TopicActiveCount {
				t.Errorf("topic = %q", snap.Topic)
			}
			return snap.Payload
		}

		if n := read(); n != 0 {
			t.Errorf("initial count = %d, want 0", n)
		}

		rec := env.doJSON(http.MethodPost, "/api/vehicles", env.adminToken, map[string]string{"plate": "3333CCC"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("register status = %d", rec.Code)
		}
		if n := read(); n != 1 {
			t.Errorf("count after entry = %d, want 1", n)
		}
	})
}
