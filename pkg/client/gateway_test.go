package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

func newTestGateway(t *testing.T, handler http.Handler, opts ...GatewayOption) (*Gateway, *SessionStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sessions := newTestStore(t)
	return NewGateway(srv.URL, sessions, opts...), sessions
}

func TestSignupSuccessStoresSession(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/signup" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req SignupParams
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode signup body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":      "User created successfully",
			"user":         domain.User{ID: "u1", Username: req.Username, Email: req.Email},
			"access_token": "tok-signup",
		})
	})
	gw, sessions := newTestGateway(t, handler)

	user, err := gw.Signup(context.Background(), SignupParams{
		Username: "ada", Email: "ada@example.com",
		FirstName: "Ada", LastName: "Lovelace",
		Password: "Passw0rdX", ConfirmPassword: "Passw0rdX",
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("user ID = %q, want u1", user.ID)
	}
	if !sessions.IsAuthenticated() || sessions.Token() != "tok-signup" {
		t.Fatal("successful signup must store the session")
	}
}

func TestSignupConflictLeavesSessionUntouched(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Username already exists"})
	})
	gw, sessions := newTestGateway(t, handler)

	_, err := gw.Signup(context.Background(), SignupParams{Username: "ada"})
	var apiErr *APIError
	if !asAPIError(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", apiErr.Status)
	}
	if apiErr.Message != "Username already exists" {
		t.Fatalf("message = %q", apiErr.Message)
	}
	if sessions.IsAuthenticated() {
		t.Fatal("failed signup must not mutate the session")
	}
}

func TestUnauthorizedClearsSessionAndFiresHook(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid or expired token"})
	})
	hookCalls := 0
	gw, sessions := newTestGateway(t, handler, WithUnauthorizedHook(func() { hookCalls++ }))
	if err := sessions.SetSession(domain.User{ID: "u1"}, "stale-token"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}

	_, err := gw.ListChats(context.Background())
	var apiErr *APIError
	if !asAPIError(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("want 401 APIError, got %v", err)
	}
	if sessions.IsAuthenticated() {
		t.Fatal("401 must clear the in-memory session")
	}
	if _, err := os.Stat(sessions.sessionPath()); !os.IsNotExist(err) {
		t.Fatal("401 must remove the persisted session snapshot")
	}
	if hookCalls != 1 {
		t.Fatalf("unauthorized hook calls = %d, want 1", hookCalls)
	}
}

func TestGatewayAttachesBearerToken(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"chats": []domain.Chat{}})
	})
	gw, sessions := newTestGateway(t, handler)
	if err := sessions.SetSession(domain.User{ID: "u1"}, "tok-abc"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if _, err := gw.ListChats(context.Background()); err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestDeleteAccountClearsSession(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("method = %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Account deleted successfully"})
	})
	gw, sessions := newTestGateway(t, handler)
	if err := sessions.SetSession(domain.User{ID: "u1"}, "tok"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if err := gw.DeleteAccount(context.Background(), "Passw0rdX"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if sessions.IsAuthenticated() {
		t.Fatal("account deletion must clear the session")
	}
}

func TestUploadFileMultipart(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/c1/files" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer file.Close()
		if header.Filename != "notes.txt" {
			t.Fatalf("filename = %q", header.Filename)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"file": domain.File{ID: "f1", ChatID: "c1", Filename: header.Filename},
		})
	})
	gw, _ := newTestGateway(t, handler)

	record, err := gw.UploadFile(context.Background(), "c1", "notes.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if record.ID != "f1" {
		t.Fatalf("file ID = %q, want f1", record.ID)
	}
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}
