package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kataras/iris/v12"
)

// Google returning a userinfo body without an email (revoked/opaque token)
// must produce an unauthorized response, not an empty 200.
func TestGoogleLoginWithoutEmailIsUnauthorized(t *testing.T) {
	userinfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer userinfo.Close()

	oldEndpoint := googleUserInfoEndpoint
	googleUserInfoEndpoint = userinfo.URL
	defer func() { googleUserInfoEndpoint = oldEndpoint }()

	app := iris.New()
	app.Post("/api/user/google", GoogleLoginOrSignUp)
	if err := app.Build(); err != nil {
		t.Fatalf("failed to build app: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/user/google", strings.NewReader(`{"accessToken":"opaque"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	app.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for email-less userinfo, got %d (body %q)", resp.Code, resp.Body.String())
	}
	if resp.Body.Len() == 0 {
		t.Fatal("expected an error body, got empty response")
	}
}
