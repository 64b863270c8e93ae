package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"leonadmin/api/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	fx := newFixture(t)
	fx.fake.getAdminByUsernameFn = func(_ context.Context, username string) (store.Admin, error) {
		switch username {
		case "karim":
			return store.Admin{ID: "adm_prod", Username: "karim", PasswordHash: "prod-pass", Role: "ADMIN", Department: "Production", Location: "Mateur", Active: true}, nil
		case "root":
			return store.Admin{ID: "adm_super", Username: "root", PasswordHash: "root-pass", Role: "SUPERADMIN", Active: true}, nil
		default:
			return store.Admin{}, sql.ErrNoRows
		}
	}
	server := httptest.NewServer(NewHTTPServer(fx.svc, "*").Handler())
	t.Cleanup(server.Close)
	return server, fx
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status: %d", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	if payload["ok"] != true {
		t.Errorf("unexpected health payload: %+v", payload)
	}
}

func TestLoginFlow(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/auth/login", map[string]string{"username": "karim", "password": "prod-pass"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	admin := payload["admin"].(map[string]any)
	if admin["department"] != "Production" || admin["location"] != "Mateur" {
		t.Errorf("unexpected admin payload: %+v", admin)
	}

	// The token works on a protected route.
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if listResp.StatusCode != http.StatusOK {
		t.Errorf("list status with token: %d", listResp.StatusCode)
	}
	listResp.Body.Close()

	// Logout revokes it.
	logoutReq, _ := http.NewRequest(http.MethodPost, server.URL+"/api/auth/logout", nil)
	logoutReq.Header.Set("Authorization", "Bearer "+token)
	logoutResp, err := http.DefaultClient.Do(logoutReq)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	logoutResp.Body.Close()

	req2, _ := http.NewRequest(http.MethodGet, server.URL+"/api/conversations", nil)
	req2.Header.Set("Authorization", "Bearer "+token)
	afterResp, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("list after logout: %v", err)
	}
	if afterResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", afterResp.StatusCode)
	}
	afterResp.Body.Close()
}

func TestLoginBadCredentials(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/auth/login", map[string]string{"username": "karim", "password": "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	if payload["code"] != "UNAUTHORIZED" {
		t.Errorf("unexpected error payload: %+v", payload)
	}
}

func TestProtectedRouteWithoutToken(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/statistics")
	if err != nil {
		t.Fatalf("GET statistics: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTokenQueryFallback(t *testing.T) {
	server, fx := newTestServer(t)
	token := fx.prodToken(t)

	resp, err := http.Get(server.URL + "/api/conversations?token=" + token)
	if err != nil {
		t.Fatalf("GET with token param: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 via token query fallback, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/nope")
	if err != nil {
		t.Fatalf("GET unknown route: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestValidateAndRefresh(t *testing.T) {
	server, fx := newTestServer(t)
	token := fx.prodToken(t)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/auth/validate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	payload := decodeResponse(t, resp)
	if payload["valid"] != true || payload["department"] != "Production" {
		t.Errorf("unexpected validate payload: %+v", payload)
	}

	refreshReq, _ := http.NewRequest(http.MethodPost, server.URL+"/api/auth/refresh", nil)
	refreshReq.Header.Set("Authorization", "Bearer "+token)
	refreshResp, err := http.DefaultClient.Do(refreshReq)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	refreshPayload := decodeResponse(t, refreshResp)
	newToken, _ := refreshPayload["token"].(string)
	if newToken == "" || newToken == token {
		t.Fatalf("expected fresh token, got %q", newToken)
	}

	// Old token is gone.
	req2, _ := http.NewRequest(http.MethodGet, server.URL+"/api/auth/validate", nil)
	req2.Header.Set("Authorization", "Bearer "+token)
	oldResp, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("validate old token: %v", err)
	}
	if oldResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for replaced token, got %d", oldResp.StatusCode)
	}
	oldResp.Body.Close()
}
