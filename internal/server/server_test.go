package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scriptoscuola/internal/app"
	"scriptoscuola/pkg/auth"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	issuer, err := auth.NewTokenIssuer("test-secret", "scriptoscuola-test", 15*time.Minute)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	appCore, err := app.New(app.Config{DB: db, Tokens: issuer, RefreshTTL: time.Hour})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	srv := httptest.NewServer(New(Config{App: appCore}).Router())
	t.Cleanup(srv.Close)
	return srv, appCore
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Fatalf("decode body %q: %v", data, err)
		}
	}
	return resp.StatusCode, payload
}

func setupAndLogin(t *testing.T, srv *httptest.Server, codice, email string) (accessToken, refreshToken string) {
	t.Helper()
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/auth/setup-scuola", "", map[string]any{
		"istituto": map[string]any{"nome": "Istituto " + codice, "codiceIstituto": codice},
		"utente":   map[string]any{"email": email, "password": "password123"},
	})
	if status != http.StatusCreated {
		t.Fatalf("setup-scuola expected 201, got %d", status)
	}
	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]any{
		"identifier": email,
		"password":   "password123",
	})
	if status != http.StatusOK {
		t.Fatalf("login expected 200, got %d", status)
	}
	access, _ := body["token"].(string)
	refresh, _ := body["refreshToken"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("login response missing tokens: %v", body)
	}
	return access, refresh
}

func TestSetupScuolaEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/setup-scuola", "", map[string]any{
		"istituto": map[string]any{"nome": "Liceo Fermi", "codiceIstituto": "RMPS12345X"},
		"utente":   map[string]any{"email": "admin@fermi.it", "password": "password123"},
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", status, body)
	}
	istituto, _ := body["istituto"].(map[string]any)
	if istituto["codiceIstituto"] != "RMPS12345X" {
		t.Fatalf("unexpected istituto payload: %v", body)
	}
	admin, _ := body["admin"].(map[string]any)
	if admin["ruolo"] != "admin" || admin["email"] != "admin@fermi.it" {
		t.Fatalf("unexpected admin payload: %v", body)
	}

	// Duplicate institute code.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/auth/setup-scuola", "", map[string]any{
		"istituto": map[string]any{"nome": "Altro", "codiceIstituto": "rmps12345x"},
		"utente":   map[string]any{"email": "other@altro.it", "password": "password123"},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("duplicate codice expected 400, got %d", status)
	}

	// Validation failure reports field details.
	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/auth/setup-scuola", "", map[string]any{
		"istituto": map[string]any{"nome": "Senza Codice", "codiceIstituto": "short"},
		"utente":   map[string]any{"email": "not-an-email", "password": "pw"},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("invalid payload expected 400, got %d", status)
	}
	if _, ok := body["details"]; !ok {
		t.Fatalf("expected validation details, got %v", body)
	}
}

func TestLoginFailures(t *testing.T) {
	srv, _ := newTestServer(t)
	setupAndLogin(t, srv, "RMPS12345X", "admin@fermi.it")

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]any{
		"identifier": "admin@fermi.it",
		"password":   "wrongpassword",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong password expected 401, got %d", status)
	}
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]any{
		"identifier": "ghost@fermi.it",
		"password":   "password123",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("unknown account expected 401, got %d", status)
	}
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]any{
		"identifier": "admin@fermi.it",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("missing password expected 400, got %d", status)
	}
}

func TestRefreshAndLogoutEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	_, refresh := setupAndLogin(t, srv, "RMPS12345X", "admin@fermi.it")

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/refresh", "", map[string]any{
		"refreshToken": refresh,
	})
	if status != http.StatusOK {
		t.Fatalf("refresh expected 200, got %d", status)
	}
	next, _ := body["refreshToken"].(string)
	if next == "" || next == refresh {
		t.Fatalf("expected a rotated refresh token")
	}

	// The spent token is rejected.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/auth/refresh", "", map[string]any{
		"refreshToken": refresh,
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("spent refresh token expected 401, got %d", status)
	}

	// Logout is idempotent: 200 both times.
	for i := 0; i < 2; i++ {
		status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/auth/logout", "", map[string]any{
			"refreshToken": next,
		})
		if status != http.StatusOK {
			t.Fatalf("logout expected 200, got %d", status)
		}
	}
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/auth/refresh", "", map[string]any{
		"refreshToken": next,
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("revoked refresh token expected 401, got %d", status)
	}
}

func TestDocentiEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	admin, _ := setupAndLogin(t, srv, "RMPS12345X", "admin@fermi.it")

	status, _ := doJSON(t, http.MethodGet, srv.URL+"/api/docenti", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("missing token expected 401, got %d", status)
	}

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/docenti/new-docente", admin, map[string]any{
		"nome":        "Anna",
		"cognome":     "Bianchi",
		"limiteCopie": 100,
	})
	if status != http.StatusCreated {
		t.Fatalf("create docente expected 201, got %d: %v", status, created)
	}
	id := int(created["id"].(float64))

	status, list := doJSON(t, http.MethodGet, srv.URL+"/api/docenti?cognome=bian", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("list docenti expected 200, got %d", status)
	}
	items, _ := list["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one docente, got %v", list)
	}
	item := items[0].(map[string]any)
	if item["copieEffettuate"] != float64(0) || item["copieRimanenti"] != float64(100) {
		t.Fatalf("unexpected derived fields: %v", item)
	}
	if list["totalPages"] != float64(1) || list["hasNextPage"] != false {
		t.Fatalf("unexpected pagination envelope: %v", list)
	}

	status, updated := doJSON(t, http.MethodPut, srv.URL+"/api/docenti/update-docente/"+itoa(id), admin, map[string]any{
		"limiteCopie": 150,
	})
	if status != http.StatusOK || updated["limiteCopie"] != float64(150) {
		t.Fatalf("update docente failed: %d %v", status, updated)
	}

	status, _ = doJSON(t, http.MethodPut, srv.URL+"/api/docenti/update-docente/abc", admin, map[string]any{})
	if status != http.StatusBadRequest {
		t.Fatalf("bad id expected 400, got %d", status)
	}
	status, _ = doJSON(t, http.MethodPut, srv.URL+"/api/docenti/update-docente/9999", admin, map[string]any{})
	if status != http.StatusNotFound {
		t.Fatalf("unknown id expected 404, got %d", status)
	}

	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/docenti/delete-docente/"+itoa(id), admin, nil)
	if status != http.StatusOK {
		t.Fatalf("delete docente expected 200, got %d", status)
	}
	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/docenti/delete-docente/"+itoa(id), admin, nil)
	if status != http.StatusNotFound {
		t.Fatalf("second delete expected 404, got %d", status)
	}
}

func TestCollaboratoreRoleRestrictions(t *testing.T) {
	srv, _ := newTestServer(t)
	admin, _ := setupAndLogin(t, srv, "RMPS12345X", "admin@fermi.it")

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/utenti/new-utente", admin, map[string]any{
		"ruolo":    "collaboratore",
		"username": "marco",
		"password": "password123",
	})
	if status != http.StatusCreated {
		t.Fatalf("create collaboratore expected 201, got %d", status)
	}
	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]any{
		"identifier": "marco",
		"password":   "password123",
	})
	if status != http.StatusOK {
		t.Fatalf("collaboratore login expected 200, got %d", status)
	}
	collab, _ := body["token"].(string)

	// Collaborators can read teachers and register copies, nothing else.
	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/docenti", collab, nil)
	if status != http.StatusOK {
		t.Fatalf("collaboratore list docenti expected 200, got %d", status)
	}
	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/docenti/new-docente"},
		{http.MethodGet, "/api/utenti"},
		{http.MethodGet, "/api/utenti/export"},
		{http.MethodGet, "/api/registrazioni-copie"},
		{http.MethodDelete, "/api/registrazioni-copie/delete-registrazione/1"},
	} {
		status, _ = doJSON(t, tc.method, srv.URL+tc.path, collab, map[string]any{})
		if status != http.StatusForbidden {
			t.Fatalf("%s %s expected 403 for collaboratore, got %d", tc.method, tc.path, status)
		}
	}
}

func TestRegistrazioniEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	admin, _ := setupAndLogin(t, srv, "RMPS12345X", "admin@fermi.it")

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/docenti/new-docente", admin, map[string]any{
		"nome": "Anna", "cognome": "Bianchi", "limiteCopie": 100,
	})
	if status != http.StatusCreated {
		t.Fatalf("create docente expected 201, got %d", status)
	}
	docenteID := int(created["id"].(float64))

	status, reg := doJSON(t, http.MethodPost, srv.URL+"/api/registrazioni-copie/new-registrazione", admin, map[string]any{
		"docenteId":       docenteID,
		"copieEffettuate": 60,
		"note":            "verifiche",
	})
	if status != http.StatusCreated {
		t.Fatalf("create registrazione expected 201, got %d: %v", status, reg)
	}
	if reg["utenteId"] == nil || reg["utenteId"] == "" {
		t.Fatalf("registrazione must be attributed to the caller: %v", reg)
	}

	// Over the limit.
	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/registrazioni-copie/new-registrazione", admin, map[string]any{
		"docenteId":       docenteID,
		"copieEffettuate": 41,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("over-limit expected 400, got %d: %v", status, body)
	}

	// Unknown teacher.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/registrazioni-copie/new-registrazione", admin, map[string]any{
		"docenteId":       9999,
		"copieEffettuate": 1,
	})
	if status != http.StatusNotFound {
		t.Fatalf("unknown docente expected 404, got %d", status)
	}

	// Zero copies fails validation.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/registrazioni-copie/new-registrazione", admin, map[string]any{
		"docenteId":       docenteID,
		"copieEffettuate": 0,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("zero copies expected 400, got %d", status)
	}

	status, list := doJSON(t, http.MethodGet, srv.URL+"/api/registrazioni-copie?docenteId="+itoa(docenteID), admin, nil)
	if status != http.StatusOK {
		t.Fatalf("list registrazioni expected 200, got %d", status)
	}
	items, _ := list["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one registrazione, got %v", list)
	}

	regID := int(items[0].(map[string]any)["id"].(float64))
	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/registrazioni-copie/delete-registrazione/"+itoa(regID), admin, nil)
	if status != http.StatusOK {
		t.Fatalf("delete registrazione expected 200, got %d", status)
	}
}

func TestUtentiEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	admin, _ := setupAndLogin(t, srv, "RMPS12345X", "admin@fermi.it")

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/utenti/new-utente", admin, map[string]any{
		"ruolo":    "collaboratore",
		"username": "marco",
		"password": "password123",
	})
	if status != http.StatusCreated {
		t.Fatalf("create utente expected 201, got %d: %v", status, created)
	}
	collabID, _ := created["id"].(string)
	if created["passwordHash"] != nil {
		t.Fatalf("password hash must never appear in responses: %v", created)
	}

	// Duplicate username.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/utenti/new-utente", admin, map[string]any{
		"ruolo":    "collaboratore",
		"username": "marco",
		"password": "password123",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("duplicate username expected 400, got %d", status)
	}

	status, list := doJSON(t, http.MethodGet, srv.URL+"/api/utenti?ruolo=collaboratore", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("list utenti expected 200, got %d", status)
	}
	if items, _ := list["items"].([]any); len(items) != 1 {
		t.Fatalf("expected one collaboratore, got %v", list)
	}

	status, updated := doJSON(t, http.MethodPut, srv.URL+"/api/utenti/update-utente/"+collabID, admin, map[string]any{
		"ruolo": "admin",
		"email": "marco@fermi.it",
	})
	if status != http.StatusOK || updated["ruolo"] != "admin" {
		t.Fatalf("promote utente failed: %d %v", status, updated)
	}
	if updated["username"] != nil {
		t.Fatalf("promoted admin should have no username: %v", updated)
	}

	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/utenti/delete-utente/"+collabID, admin, nil)
	if status != http.StatusOK {
		t.Fatalf("delete utente expected 200, got %d", status)
	}

	// The remaining admin cannot delete itself.
	status, me := doJSON(t, http.MethodGet, srv.URL+"/api/utenti", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("list utenti expected 200, got %d", status)
	}
	items, _ := me["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected a single remaining admin, got %v", me)
	}
	adminID, _ := items[0].(map[string]any)["id"].(string)
	status, body := doJSON(t, http.MethodDelete, srv.URL+"/api/utenti/delete-utente/"+adminID, admin, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("deleting the last admin expected 400, got %d: %v", status, body)
	}
}

func TestExportUtentiEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	admin, _ := setupAndLogin(t, srv, "RMPS12345X", "admin@fermi.it")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/utenti/export", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(data), "id,ruolo,email,username,createdAt") {
		t.Fatalf("unexpected CSV header: %q", data)
	}
	if !strings.Contains(string(data), "admin@fermi.it") {
		t.Fatalf("CSV missing admin row: %q", data)
	}
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	admin1, _ := setupAndLogin(t, srv, "RMPS12345X", "a@fermi.it")
	admin2, _ := setupAndLogin(t, srv, "MIPS98765Z", "b@volta.it")

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/docenti/new-docente", admin1, map[string]any{
		"nome": "Anna", "cognome": "Bianchi", "limiteCopie": 100,
	})
	if status != http.StatusCreated {
		t.Fatalf("create docente expected 201, got %d", status)
	}
	id := int(created["id"].(float64))

	status, list := doJSON(t, http.MethodGet, srv.URL+"/api/docenti", admin2, nil)
	if status != http.StatusOK {
		t.Fatalf("list expected 200, got %d", status)
	}
	if items, _ := list["items"].([]any); len(items) != 0 {
		t.Fatalf("institute two must not see institute one's teachers: %v", list)
	}

	// Cross-tenant ids read as missing, not forbidden.
	status, _ = doJSON(t, http.MethodPut, srv.URL+"/api/docenti/update-docente/"+itoa(id), admin2, map[string]any{
		"nome": "Hacked",
	})
	if status != http.StatusNotFound {
		t.Fatalf("cross-tenant update expected 404, got %d", status)
	}
	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/docenti/delete-docente/"+itoa(id), admin2, nil)
	if status != http.StatusNotFound {
		t.Fatalf("cross-tenant delete expected 404, got %d", status)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz failed: %d %v", status, body)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
