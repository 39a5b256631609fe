package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/voicerelay/internal/api"
	"github.com/eldtechnologies/voicerelay/internal/crypto"
	"github.com/eldtechnologies/voicerelay/internal/store"
)

const testCredential = "github|user42|tok_abc"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	router := api.NewRouter(logger, store.NewMemoryStore(), nil, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, credential string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func testPublicKeyPEM(t *testing.T) string {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pemStr, err := crypto.PublicKeyPEM(kp.Public)
	if err != nil {
		t.Fatal(err)
	}
	return pemStr
}

func TestAuthRejectedBeforeProcessing(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name       string
		credential string
	}{
		{"missing", ""},
		{"no scheme", "|user|tok"},
		{"no owner", "github||tok"},
		{"two parts", "github|user"},
		{"four parts", "github|user|tok|extra"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, srv, http.MethodPost, "/auth/get-public-key", tc.credential, map[string]string{})
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
			if body["error"] == "" {
				t.Fatal("expected error body")
			}
		})
	}
}

func TestGetPublicKeyNotRegistered(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/auth/get-public-key", testCredential, map[string]string{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRegisterThenGetPublicKey(t *testing.T) {
	srv := newTestServer(t)
	pemStr := testPublicKeyPEM(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/auth/register-public-key", testCredential, map[string]string{"public_key": pemStr})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: expected 200, got %d", resp.StatusCode)
	}

	// Registration is idempotent
	resp, _ = doJSON(t, srv, http.MethodPost, "/auth/register-public-key", testCredential, map[string]string{"public_key": pemStr})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-register: expected 200, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, srv, http.MethodPost, "/auth/get-public-key", testCredential, map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	if body["public_key"] != pemStr {
		t.Fatal("returned key does not match registered key")
	}

	// Another owner still has no key
	resp, _ = doJSON(t, srv, http.MethodPost, "/auth/get-public-key", "github|other|tok", map[string]string{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("other owner: expected 404, got %d", resp.StatusCode)
	}
}

func TestRegisterRejectsMalformedKey(t *testing.T) {
	srv := newTestServer(t)

	for _, key := range []string{"", "not a key", "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----"} {
		resp, _ := doJSON(t, srv, http.MethodPost, "/auth/register-public-key", testCredential, map[string]string{"public_key": key})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("key %q: expected 400, got %d", key, resp.StatusCode)
		}
	}
}

func TestAskBlobBounds(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		size       int
		wantStatus int
	}{
		{99, http.StatusBadRequest},
		{100, http.StatusOK},
		{1 << 20, http.StatusOK},
		{1<<20 + 1, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d bytes", tc.size), func(t *testing.T) {
			blob := strings.Repeat("A", tc.size)
			resp, body := doJSON(t, srv, http.MethodPost, "/agent/ask", testCredential, map[string]interface{}{"encrypted_blob": blob})
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d (%v)", tc.wantStatus, resp.StatusCode, body["error"])
			}
			if tc.wantStatus == http.StatusOK {
				if body["status"] != "accepted" {
					t.Fatalf("expected accepted, got %v", body["status"])
				}
				id, _ := body["message_id"].(string)
				if !strings.HasPrefix(id, "msg_") {
					t.Fatalf("message id %q does not match msg_*", id)
				}
			}
		})
	}
}

func TestFetchAndAck(t *testing.T) {
	srv := newTestServer(t)
	blob := strings.Repeat("B", 200)

	_, askBody := doJSON(t, srv, http.MethodPost, "/agent/ask", testCredential, map[string]interface{}{"encrypted_blob": blob})
	msgID, _ := askBody["message_id"].(string)
	if msgID == "" {
		t.Fatal("no message id returned")
	}

	resp, fetchBody := doJSON(t, srv, http.MethodGet, "/app/messages", testCredential, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch: expected 200, got %d", resp.StatusCode)
	}
	msgs, _ := fetchBody["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	first, _ := msgs[0].(map[string]interface{})
	if first["encrypted_blob"] != blob {
		t.Fatal("stored blob does not match submitted blob")
	}
	if first["status"] != "queued" {
		t.Fatalf("expected queued, got %v", first["status"])
	}

	resp, _ = doJSON(t, srv, http.MethodPost, "/app/messages/"+msgID+"/ack", testCredential, map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ack: expected 200, got %d", resp.StatusCode)
	}

	_, fetchBody = doJSON(t, srv, http.MethodGet, "/app/messages", testCredential, nil)
	msgs, _ = fetchBody["messages"].([]interface{})
	first, _ = msgs[0].(map[string]interface{})
	if first["status"] != "delivered" {
		t.Fatalf("expected delivered after ack, got %v", first["status"])
	}

	resp, _ = doJSON(t, srv, http.MethodPost, "/app/messages/msg_unknown/ack", testCredential, map[string]string{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown ack: expected 404, got %d", resp.StatusCode)
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	srv := newTestServer(t)
	blob := strings.Repeat("C", 150)

	doJSON(t, srv, http.MethodPost, "/agent/ask", "github|alice|tok", map[string]interface{}{"encrypted_blob": blob})

	_, body := doJSON(t, srv, http.MethodGet, "/app/messages", "github|bob|tok", nil)
	msgs, _ := body["messages"].([]interface{})
	if len(msgs) != 0 {
		t.Fatalf("bob should not see alice's messages, got %d", len(msgs))
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected healthy, got %v", body["status"])
	}
}
