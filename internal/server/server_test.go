package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	"guestbook/internal/ratelimit"
	"guestbook/internal/servicetoken"
	"guestbook/internal/usertoken"
	"guestbook/pkg/broker"
	"guestbook/pkg/domain"
	"guestbook/pkg/feed"
	"guestbook/pkg/store"
)

type fixture struct {
	store  *store.MemoryStore
	broker *broker.MemoryBroker
	server *httptest.Server
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	br := broker.NewMemoryBroker()
	svc, err := feed.New(feed.Config{Store: st, Broker: br})
	if err != nil {
		t.Fatalf("new feed service: %v", err)
	}
	cfg := Config{Feed: svc}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(cfg)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{store: st, broker: br, server: ts}
}

func (f *fixture) postJSON(t *testing.T, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeMessage(t *testing.T, resp *http.Response) domain.Message {
	t.Helper()
	defer resp.Body.Close()
	var msg domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSubmitAnonymous(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.postJSON(t, "/api/messages", map[string]string{"body": "hello"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	msg := decodeMessage(t, resp)
	if msg.AuthorDisplayName != "Anonymous" {
		t.Fatalf("display name = %q, want Anonymous", msg.AuthorDisplayName)
	}
	if msg.AuthorUserID != "" {
		t.Fatalf("anonymous message carries user id %q", msg.AuthorUserID)
	}
	if msg.ID == "" {
		t.Fatal("message id not assigned")
	}
}

func TestSubmitWithClientDisplayName(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.postJSON(t, "/api/messages",
		map[string]string{"body": "hi", "displayName": "Drive-by"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	msg := decodeMessage(t, resp)
	if msg.AuthorDisplayName != "Drive-by" {
		t.Fatalf("display name = %q, want Drive-by", msg.AuthorDisplayName)
	}
}

func TestSubmitRejectsEmptyAndOversizedBody(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.postJSON(t, "/api/messages", map[string]string{"body": "   "}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty body status = %d, want 400", resp.StatusCode)
	}

	resp = f.postJSON(t, "/api/messages",
		map[string]string{"body": strings.Repeat("x", 501)}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized body status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitRejectsInvalidJSON(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Post(f.server.URL+"/api/messages", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{"first", "second", "third"} {
		resp := f.postJSON(t, "/api/messages", map[string]string{"body": body}, nil)
		resp.Body.Close()
	}

	resp, err := http.Get(f.server.URL + "/api/messages?limit=2")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(payload.Messages) != 2 {
		t.Fatalf("len = %d, want 2", len(payload.Messages))
	}
	if payload.Messages[0].Body != "third" || payload.Messages[1].Body != "second" {
		t.Fatalf("order = %q, %q", payload.Messages[0].Body, payload.Messages[1].Body)
	}
}

func TestListRejectsBadLimit(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.server.URL + "/api/messages?limit=abc")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteAnonymousForbidden(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.postJSON(t, "/api/messages", map[string]string{"body": "mine"}, nil)
	msg := decodeMessage(t, resp)

	req, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/api/messages/"+msg.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", delResp.StatusCode)
	}
}

func TestBearerTokenWithoutVerifierUnauthorized(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.postJSON(t, "/api/messages", map[string]string{"body": "hi"},
		map[string]string{"Authorization": "Bearer bogus"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	req, _ := http.NewRequest(http.MethodPut, f.server.URL+"/api/messages", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestVisibilityWithoutModerationConfigured(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.postJSON(t, "/api/messages/abc/visibility", map[string]bool{"visible": false}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	f := newFixture(t, func(cfg *Config) { cfg.Limiter = limiter })

	resp := f.postJSON(t, "/api/messages", map[string]string{"body": "one"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", resp.StatusCode)
	}
	resp = f.postJSON(t, "/api/messages", map[string]string{"body": "two"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", resp.StatusCode)
	}
}

// moderationFixture sets up a signer/verifier pair backed by a temp key file.
func moderationFixture(t *testing.T) (*servicetoken.Signer, *servicetoken.Verifier) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()

	privPath := filepath.Join(dir, "priv.pem")
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPath := filepath.Join(dir, "pub.pem")
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(pubPath, pubPEM, 0o600); err != nil {
		t.Fatalf("write public key: %v", err)
	}

	signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{
		PrivateKeyPath: privPath,
		Issuer:         "moderation-worker",
	})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
		PublicKeyPath:  pubPath,
		AllowedIssuers: []string{"moderation-worker"},
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return signer, verifier
}

func TestVisibilityHideAndUnhide(t *testing.T) {
	signer, verifier := moderationFixture(t)
	f := newFixture(t, func(cfg *Config) { cfg.ServiceTokens = verifier })

	resp := f.postJSON(t, "/api/messages", map[string]string{"body": "spam maybe"}, nil)
	msg := decodeMessage(t, resp)

	token, err := signer.Sign(servicetoken.DefaultAudience)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + token}

	hide := f.postJSON(t, "/api/messages/"+msg.ID+"/visibility",
		map[string]bool{"visible": false}, auth)
	hide.Body.Close()
	if hide.StatusCode != http.StatusNoContent {
		t.Fatalf("hide status = %d, want 204", hide.StatusCode)
	}

	listResp, err := http.Get(f.server.URL + "/api/messages")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	defer listResp.Body.Close()
	var payload struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(payload.Messages) != 0 {
		t.Fatalf("hidden message still listed: %v", payload.Messages)
	}

	unhide := f.postJSON(t, "/api/messages/"+msg.ID+"/visibility",
		map[string]bool{"visible": true}, auth)
	unhide.Body.Close()
	if unhide.StatusCode != http.StatusNoContent {
		t.Fatalf("unhide status = %d, want 204", unhide.StatusCode)
	}
}

func TestVisibilityRejectsMissingToken(t *testing.T) {
	_, verifier := moderationFixture(t)
	f := newFixture(t, func(cfg *Config) { cfg.ServiceTokens = verifier })

	resp := f.postJSON(t, "/api/messages/abc/visibility", map[string]bool{"visible": false}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

// userTokenFixture spins up a JWKS endpoint and returns a verifier plus a
// token minting function.
func userTokenFixture(t *testing.T) (*usertoken.Verifier, func(sub, name string, roles []string) string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pub := key.Public().(*rsa.PublicKey)
		payload := map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(jwks.Close)

	verifier, err := usertoken.NewVerifier(usertoken.Config{JWKSURL: jwks.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	mint := func(sub, name string, roles []string) string {
		now := time.Now()
		claims := usertoken.Claims{
			Name:  name,
			Roles: roles,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   sub,
				Issuer:    "guestbook-auth",
				Audience:  jwt.ClaimStrings{"guestbook-api"},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "test-key"
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return signed
	}
	return verifier, mint
}

func TestAuthenticatedSubmitAndOwnerDelete(t *testing.T) {
	verifier, mint := userTokenFixture(t)
	f := newFixture(t, func(cfg *Config) { cfg.UserTokens = verifier })

	auth := map[string]string{"Authorization": "Bearer " + mint("user-42", "Ada", nil)}
	resp := f.postJSON(t, "/api/messages", map[string]string{"body": "signed hello"}, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", resp.StatusCode)
	}
	msg := decodeMessage(t, resp)
	if msg.AuthorUserID != "user-42" || msg.AuthorDisplayName != "Ada" {
		t.Fatalf("author = %q/%q, want user-42/Ada", msg.AuthorUserID, msg.AuthorDisplayName)
	}

	// A different signed-in user may not delete it.
	req, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/api/messages/"+msg.ID, nil)
	req.Header.Set("Authorization", "Bearer "+mint("user-99", "Noor", nil))
	otherResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	otherResp.Body.Close()
	if otherResp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger delete status = %d, want 403", otherResp.StatusCode)
	}

	// The author may.
	req, _ = http.NewRequest(http.MethodDelete, f.server.URL+"/api/messages/"+msg.ID, nil)
	req.Header.Set("Authorization", "Bearer "+mint("user-42", "Ada", nil))
	ownResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	ownResp.Body.Close()
	if ownResp.StatusCode != http.StatusNoContent {
		t.Fatalf("owner delete status = %d, want 204", ownResp.StatusCode)
	}
}

func TestModeratorDelete(t *testing.T) {
	verifier, mint := userTokenFixture(t)
	f := newFixture(t, func(cfg *Config) { cfg.UserTokens = verifier })

	resp := f.postJSON(t, "/api/messages", map[string]string{"body": "anon note"}, nil)
	msg := decodeMessage(t, resp)

	req, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/api/messages/"+msg.ID, nil)
	req.Header.Set("Authorization", "Bearer "+mint("mod-1", "Mod", []string{"moderator"}))
	modResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	modResp.Body.Close()
	if modResp.StatusCode != http.StatusNoContent {
		t.Fatalf("moderator delete status = %d, want 204", modResp.StatusCode)
	}
}
