package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mrlongruoi/echo-desk/internal/agent"
	"github.com/mrlongruoi/echo-desk/internal/conversation"
	"github.com/mrlongruoi/echo-desk/internal/identity"
	"github.com/mrlongruoi/echo-desk/internal/ingest"
	"github.com/mrlongruoi/echo-desk/internal/orgdir"
	"github.com/mrlongruoi/echo-desk/internal/store"
)

type fakeResolver struct {
	orgs   map[string]string // org id -> name
	tokens map[string]*orgdir.Identity
}

func (f *fakeResolver) VerifyToken(ctx context.Context, token string) (*orgdir.Identity, error) {
	return f.tokens[token], nil
}

func (f *fakeResolver) GetOrganization(ctx context.Context, orgID string) (*orgdir.Organization, error) {
	name, ok := f.orgs[orgID]
	if !ok {
		return nil, nil
	}
	return &orgdir.Organization{ID: orgID, Name: name}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *conversation.Service) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	blobs, err := ingest.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlobStore: %v", err)
	}
	files := ingest.NewService(repo, blobs, nil)

	resolver := &fakeResolver{
		orgs: map[string]string{"org-1": "Acme", "org-2": "Globex"},
		tokens: map[string]*orgdir.Identity{
			"token-1": {UserID: "user-1", OrgID: "org-1", Name: "Grace"},
			"token-2": {UserID: "user-2", OrgID: "org-2", Name: "Mallory"},
			"no-org":  {UserID: "user-3", Name: "Drifter"},
		},
	}

	// No replier: inference is optional and these tests exercise the HTTP
	// surface, not the agent.
	convs := conversation.NewService(conversation.Config{
		Repo:       repo,
		Gateway:    agent.NewGateway(repo),
		Resolver:   resolver,
		SessionTTL: time.Hour,
	})

	handler := NewHandler(convs, files, 20)

	r := chi.NewRouter()
	r.Route("/api/widget", func(r chi.Router) {
		r.Use(identity.VisitorMiddleware())
		handler.RegisterWidgetRoutes(r)
	})
	r.Route("/api/dashboard", func(r chi.Router) {
		r.Use(identity.OperatorMiddleware(resolver, WriteAppError))
		handler.RegisterDashboardRoutes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, convs
}

func doJSON(t *testing.T, method, url string, headers map[string]string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func visitorHeaders(sessionID string) map[string]string {
	return map[string]string{identity.ContactSessionHeader: sessionID}
}

func operatorHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func newWidgetSession(t *testing.T, srv *httptest.Server, orgID string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/widget/sessions", nil, map[string]string{
		"organization_id": orgID, "name": "Ada", "email": "ada@example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d, body %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("session response missing id: %v", body)
	}
	return id
}

func newWidgetConversation(t *testing.T, srv *httptest.Server, sessionID string) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/widget/conversations", visitorHeaders(sessionID), map[string]any{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create conversation status = %d, body %v", resp.StatusCode, body)
	}
	return body
}

func TestWidgetOrganizationValidate(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/widget/organizations/validate", nil, map[string]string{"organization_id": "org-1"})
	if resp.StatusCode != http.StatusOK || body["valid"] != true {
		t.Errorf("valid org: status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/widget/organizations/validate", nil, map[string]string{"organization_id": "nope"})
	if resp.StatusCode != http.StatusOK || body["valid"] != false {
		t.Errorf("invalid org: status=%d body=%v", resp.StatusCode, body)
	}
	if body["reason"] != "organization is invalid" {
		t.Errorf("reason = %v", body["reason"])
	}
}

func TestWidgetSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := newWidgetSession(t, srv, "org-1")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/widget/sessions/validate", visitorHeaders(sessionID), map[string]any{})
	if resp.StatusCode != http.StatusOK || body["valid"] != true {
		t.Errorf("validate session: status=%d body=%v", resp.StatusCode, body)
	}

	// Unknown session validates false, not an error.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/widget/sessions/validate", visitorHeaders("bogus"), map[string]any{})
	if resp.StatusCode != http.StatusOK || body["valid"] != false {
		t.Errorf("validate bogus session: status=%d body=%v", resp.StatusCode, body)
	}

	// A session for an unknown organization is rejected.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/widget/sessions", nil, map[string]string{"organization_id": "nope"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad org session: status=%d body=%v", resp.StatusCode, body)
	}
}

func TestWidgetConversationFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := newWidgetSession(t, srv, "org-1")
	conv := newWidgetConversation(t, srv, sessionID)
	convID := conv["id"].(string)

	if conv["status"] != "unresolved" {
		t.Errorf("new conversation status = %v", conv["status"])
	}

	resp, view := doJSON(t, http.MethodGet, srv.URL+"/api/widget/conversations/"+convID, visitorHeaders(sessionID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get conversation status = %d", resp.StatusCode)
	}
	if view["thread_id"] != conv["thread_id"] {
		t.Errorf("view thread mismatch: %v vs %v", view["thread_id"], conv["thread_id"])
	}

	resp, msg := doJSON(t, http.MethodPost, srv.URL+"/api/widget/conversations/"+convID+"/messages", visitorHeaders(sessionID), map[string]string{"prompt": "hello there"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create message status = %d body=%v", resp.StatusCode, msg)
	}

	resp, page := doJSON(t, http.MethodGet, srv.URL+"/api/widget/conversations/"+convID+"/messages", visitorHeaders(sessionID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list messages status = %d", resp.StatusCode)
	}
	msgs := page["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want greeting and prompt", len(msgs))
	}
	if page["load_state"] != "Exhausted" {
		t.Errorf("load_state = %v, want Exhausted", page["load_state"])
	}

	resp, listing := doJSON(t, http.MethodGet, srv.URL+"/api/widget/conversations", visitorHeaders(sessionID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list conversations status = %d", resp.StatusCode)
	}
	if convs := listing["conversations"].([]any); len(convs) != 1 {
		t.Errorf("got %d conversations, want 1", len(convs))
	}
}

func TestWidgetErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := newWidgetSession(t, srv, "org-1")
	conv := newWidgetConversation(t, srv, sessionID)
	convID := conv["id"].(string)

	// No session header at all.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/widget/conversations", nil, map[string]any{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing session: status=%d body=%v", resp.StatusCode, body)
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %v, want UNAUTHORIZED", body["code"])
	}

	// Someone else's session.
	otherSession := newWidgetSession(t, srv, "org-1")
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/widget/conversations/"+convID, visitorHeaders(otherSession), nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
		t.Errorf("foreign session: status=%d body=%v", resp.StatusCode, body)
	}

	// Unknown conversation.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/widget/conversations/missing", visitorHeaders(sessionID), nil)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Errorf("missing conversation: status=%d body=%v", resp.StatusCode, body)
	}

	// Empty prompt.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/widget/conversations/"+convID+"/messages", visitorHeaders(sessionID), map[string]string{"prompt": ""})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "BAD_REQUEST" {
		t.Errorf("empty prompt: status=%d body=%v", resp.StatusCode, body)
	}

	// Malformed body.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/widget/conversations/"+convID+"/messages", strings.NewReader("{broken"))
	req.Header.Set(identity.ContactSessionHeader, sessionID)
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("malformed body request: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: status=%d", raw.StatusCode)
	}
}

func TestDashboardAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/conversations", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status=%d body=%v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/conversations", operatorHeaders("wrong"), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: status=%d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/conversations", operatorHeaders("no-org"), nil)
	if resp.StatusCode != http.StatusUnauthorized || body["message"] != "organization not found" {
		t.Errorf("token without org: status=%d body=%v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/conversations", operatorHeaders("token-1"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token: status=%d", resp.StatusCode)
	}
}

func TestDashboardConversationFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := newWidgetSession(t, srv, "org-1")
	conv := newWidgetConversation(t, srv, sessionID)
	convID := conv["id"].(string)
	threadID := conv["thread_id"].(string)

	// The conversation shows up in the org listing, not in another org's.
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/conversations", operatorHeaders("token-1"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if convs := body["conversations"].([]any); len(convs) != 1 {
		t.Errorf("org-1 sees %d conversations, want 1", len(convs))
	}
	_, other := doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/conversations", operatorHeaders("token-2"), nil)
	if convs, ok := other["conversations"].([]any); ok && len(convs) != 0 {
		t.Errorf("org-2 sees %d conversations, want 0", len(convs))
	}

	// Operator reply escalates an unresolved conversation.
	resp, msg := doJSON(t, http.MethodPost, srv.URL+"/api/dashboard/conversations/"+convID+"/messages", operatorHeaders("token-1"), map[string]string{"prompt": "An operator here."})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("operator message status = %d body=%v", resp.StatusCode, msg)
	}
	if msg["author_name"] != "Grace" {
		t.Errorf("author = %v, want operator name", msg["author_name"])
	}
	_, got := doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/conversations/"+convID, operatorHeaders("token-1"), nil)
	if got["status"] != "escalated" {
		t.Errorf("status after operator reply = %v, want escalated", got["status"])
	}

	// Thread messages are reachable by thread id.
	resp, page := doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/threads/"+threadID+"/messages", operatorHeaders("token-1"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("thread messages status = %d", resp.StatusCode)
	}
	if msgs := page["messages"].([]any); len(msgs) != 2 {
		t.Errorf("got %d thread messages, want 2", len(msgs))
	}
	// But not across organizations.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/threads/"+threadID+"/messages", operatorHeaders("token-2"), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("cross-org thread read status = %d, want 401", resp.StatusCode)
	}

	// Resolve, then an illegal transition.
	resp, _ = doJSON(t, http.MethodPatch, srv.URL+"/api/dashboard/conversations/"+convID+"/status", operatorHeaders("token-1"), map[string]string{"status": "resolved"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodPatch, srv.URL+"/api/dashboard/conversations/"+convID+"/status", operatorHeaders("token-1"), map[string]string{"status": "escalated"})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "BAD_REQUEST" {
		t.Errorf("resolved->escalated: status=%d body=%v", resp.StatusCode, body)
	}

	// Cross-org status patch is denied.
	resp, _ = doJSON(t, http.MethodPatch, srv.URL+"/api/dashboard/conversations/"+convID+"/status", operatorHeaders("token-2"), map[string]string{"status": "unresolved"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("cross-org patch status = %d, want 401", resp.StatusCode)
	}
}

func uploadFile(t *testing.T, srv *httptest.Server, token, filename, content string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(part, content)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/dashboard/files", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestDashboardFiles(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := uploadFile(t, srv, "token-1", "faq.txt", "How to get a refund.")
	if resp.StatusCode != http.StatusCreated || body["created"] != true {
		t.Fatalf("first upload: status=%d body=%v", resp.StatusCode, body)
	}
	entry := body["entry"].(map[string]any)
	entryID := entry["id"].(string)

	// The same bytes dedup to 200.
	resp, body = uploadFile(t, srv, "token-1", "copy.txt", "How to get a refund.")
	if resp.StatusCode != http.StatusOK || body["created"] != false {
		t.Errorf("duplicate upload: status=%d body=%v", resp.StatusCode, body)
	}

	resp, listing := doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/files", operatorHeaders("token-1"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list files status = %d", resp.StatusCode)
	}
	if entries := listing["entries"].([]any); len(entries) != 1 {
		t.Errorf("got %d entries, want 1", len(entries))
	}

	// Another organization cannot delete the entry.
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/dashboard/files/"+entryID, operatorHeaders("token-2"), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("cross-org delete status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/dashboard/files/"+entryID, nil)
	req.Header.Set("Authorization", "Bearer token-1")
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", raw.StatusCode)
	}

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/dashboard/files/"+entryID, operatorHeaders("token-1"), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d body=%v", resp.StatusCode, body)
	}
}
