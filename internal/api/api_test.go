package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/erazemk/lostfound/internal/central"
	"github.com/erazemk/lostfound/internal/db"
	"github.com/erazemk/lostfound/internal/model"
	"github.com/erazemk/lostfound/internal/store"
)

const testJWTSecret = "test-secret"

type stubHealth struct {
	report central.HealthReport
}

func (s *stubHealth) Health(context.Context) central.HealthReport {
	return s.report
}

func setupTestServer(t *testing.T) (*httptest.Server, *sql.DB) {
	t.Helper()
	return setupTestServerWith(t, nil)
}

// setupTestServerWith lets a test adjust the router dependencies.
func setupTestServerWith(t *testing.T, adjust func(*Deps)) (*httptest.Server, *sql.DB) {
	t.Helper()
	database := db.NewTestDB(t)
	deps := Deps{
		DB:         database,
		JWTSecret:  testJWTSecret,
		Revoker:    &store.Revocations{DB: database},
		Health:     &stubHealth{report: central.HealthReport{Server: "test", Status: central.StatusHealthy}},
		ServerName: "test",
	}
	if adjust != nil {
		adjust(&deps)
	}
	server := httptest.NewServer(NewRouter(deps))
	t.Cleanup(server.Close)
	return server, database
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends a JSON request and decodes the response into out (if non-nil).
func do(t *testing.T, method, url, token string, body, out any) *http.Response {
	t.Helper()
	req, err := authRequest(method, url, token, body)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, url, err)
		}
	}
	return resp
}

func register(t *testing.T, server *httptest.Server, username string) *model.User {
	t.Helper()
	var user model.User
	resp := do(t, "POST", server.URL+"/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@uni.example.edu",
		"password": "password123",
	}, &user)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d", username, resp.StatusCode)
	}
	return &user
}

func login(t *testing.T, server *httptest.Server, username string) string {
	t.Helper()
	var out loginResponse
	resp := do(t, "POST", server.URL+"/api/auth/login", "", map[string]string{
		"login":    username,
		"password": "password123",
	}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d", username, resp.StatusCode)
	}
	if out.Token == "" {
		t.Fatal("empty token from login")
	}
	return out.Token
}

func createItem(t *testing.T, server *httptest.Server, token, title, typ string) *model.Item {
	t.Helper()
	var item model.Item
	resp := do(t, "POST", server.URL+"/api/items", token, map[string]string{
		"title":    title,
		"type":     typ,
		"location": "Library",
	}, &item)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create item: expected 201, got %d", resp.StatusCode)
	}
	return &item
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "photo.png")
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		fw.Write(image)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestRegisterAndLogin(t *testing.T) {
	server, _ := setupTestServer(t)

	first := register(t, server, "alice")
	if !first.IsAdmin {
		t.Error("expected first user to be admin")
	}
	second := register(t, server, "bob")
	if second.IsAdmin {
		t.Error("expected second user not to be admin")
	}

	// Login by email.
	var out loginResponse
	resp := do(t, "POST", server.URL+"/api/auth/login", "", map[string]string{
		"login":    "bob@uni.example.edu",
		"password": "password123",
	}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for email login, got %d", resp.StatusCode)
	}
	if out.User == nil || out.User.Username != "bob" {
		t.Errorf("expected user bob in login response, got %+v", out.User)
	}

	// Wrong password.
	var errBody errorBody
	resp = do(t, "POST", server.URL+"/api/auth/login", "", map[string]string{
		"username": "bob",
		"password": "wrong-password",
	}, &errBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	if errBody.Success || errBody.Error == "" {
		t.Errorf("expected error body, got %+v", errBody)
	}
}

func TestRegisterValidation(t *testing.T) {
	server, _ := setupTestServer(t)
	register(t, server, "alice")

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"duplicate username", map[string]string{"username": "alice", "email": "other@uni.example.edu", "password": "password123"}, http.StatusConflict},
		{"duplicate email", map[string]string{"username": "other", "email": "alice@uni.example.edu", "password": "password123"}, http.StatusConflict},
		{"short password", map[string]string{"username": "carol", "email": "carol@uni.example.edu", "password": "short"}, http.StatusBadRequest},
		{"bad email", map[string]string{"username": "carol", "email": "not-an-email", "password": "password123"}, http.StatusBadRequest},
		{"missing username", map[string]string{"email": "carol@uni.example.edu", "password": "password123"}, http.StatusBadRequest},
		{"password over 72 bytes", map[string]string{"username": "carol", "email": "carol@uni.example.edu", "password": strings.Repeat("é", 40)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errBody errorBody
			resp := do(t, "POST", server.URL+"/api/auth/register", "", tt.body, &errBody)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d (%s)", tt.status, resp.StatusCode, errBody.Error)
			}
			if errBody.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestConcurrentFirstRegistrations(t *testing.T) {
	server, database := setupTestServer(t)

	const n = 5
	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user%d", i)
			req, _ := authRequest("POST", server.URL+"/api/auth/register", "", map[string]string{
				"username": name,
				"email":    name + "@uni.example.edu",
				"password": "password123",
			})
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, status := range statuses {
		if status != http.StatusCreated {
			t.Errorf("registration %d: expected 201, got %d", i, status)
		}
	}

	admins, err := store.CountAdmins(context.Background(), database)
	if err != nil {
		t.Fatalf("counting admins: %v", err)
	}
	if admins != 1 {
		t.Errorf("expected exactly one admin, got %d", admins)
	}
}

func TestCookieAuthAndLogout(t *testing.T) {
	server, _ := setupTestServer(t)
	register(t, server, "alice")

	body, _ := json.Marshal(map[string]string{"login": "alice", "password": "password123"})
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	resp.Body.Close()

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == TokenCookie {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly token cookie, got %+v", cookie)
	}

	// Cookie alone authenticates.
	req, _ := http.NewRequest("GET", server.URL+"/api/auth/me", nil)
	req.AddCookie(cookie)
	resp, _ = http.DefaultClient.Do(req)
	var me model.User
	json.NewDecoder(resp.Body).Decode(&me)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || me.Username != "alice" {
		t.Fatalf("expected 200 for alice via cookie, got %d %q", resp.StatusCode, me.Username)
	}

	// Logout revokes the token.
	resp = do(t, "POST", server.URL+"/api/auth/logout", cookie.Value, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for logout, got %d", resp.StatusCode)
	}
	resp = do(t, "GET", server.URL+"/api/auth/me", cookie.Value, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestChangePassword(t *testing.T) {
	server, _ := setupTestServer(t)
	register(t, server, "alice")
	token := login(t, server, "alice")

	resp := do(t, "PUT", server.URL+"/api/auth/password", token, map[string]string{
		"current_password": "wrong-password",
		"new_password":     "newpassword456",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong current password, got %d", resp.StatusCode)
	}

	resp = do(t, "PUT", server.URL+"/api/auth/password", token, map[string]string{
		"current_password": "password123",
		"new_password":     "newpassword456",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = do(t, "POST", server.URL+"/api/auth/login", "", map[string]string{
		"login":    "alice",
		"password": "newpassword456",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected login with new password to succeed, got %d", resp.StatusCode)
	}
}

func TestItemsAPIFlow(t *testing.T) {
	server, _ := setupTestServer(t)
	register(t, server, "alice")
	register(t, server, "bob")
	alice := login(t, server, "alice")
	bob := login(t, server, "bob")

	umbrella := createItem(t, server, alice, "Black umbrella", model.ItemTypeLost)
	createItem(t, server, bob, "Student card", model.ItemTypeFound)
	createItem(t, server, bob, "Blue umbrella", model.ItemTypeFound)

	tests := []struct {
		query string
		total int
	}{
		{"", 3},
		{"?type=lost", 1},
		{"?type=found", 2},
		{"?q=umbrella", 2},
		{"?q=umbrella&type=found", 1},
		{"?user_id=me", 1},
		{"?limit=1", 3},
	}
	for _, tt := range tests {
		var list itemList
		resp := do(t, "GET", server.URL+"/api/items"+tt.query, alice, nil, &list)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list %q: expected 200, got %d", tt.query, resp.StatusCode)
		}
		if list.Total != tt.total {
			t.Errorf("list %q: expected total %d, got %d", tt.query, tt.total, list.Total)
		}
	}

	var page itemList
	do(t, "GET", server.URL+"/api/items?limit=1", "", nil, &page)
	if len(page.Items) != 1 || page.Items[0].Title != "Blue umbrella" {
		t.Errorf("expected newest item first, got %+v", page.Items)
	}

	// Public detail view.
	var got model.Item
	resp := do(t, "GET", fmt.Sprintf("%s/api/items/%d", server.URL, umbrella.ID), "", nil, &got)
	if resp.StatusCode != http.StatusOK || got.Title != "Black umbrella" || got.Username != "alice" {
		t.Errorf("unexpected detail: %d %+v", resp.StatusCode, got)
	}

	resp = do(t, "GET", server.URL+"/api/items/9999", "", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing item, got %d", resp.StatusCode)
	}

	// Bad filters.
	for _, q := range []string{"?type=stolen", "?limit=0", "?offset=-1", "?user_id=abc"} {
		resp := do(t, "GET", server.URL+"/api/items"+q, "", nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("list %q: expected 400, got %d", q, resp.StatusCode)
		}
	}

	// user_id=me needs a login.
	resp = do(t, "GET", server.URL+"/api/items?user_id=me", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for anonymous user_id=me, got %d", resp.StatusCode)
	}
}

func TestItemValidation(t *testing.T) {
	server, _ := setupTestServer(t)
	register(t, server, "alice")
	token := login(t, server, "alice")

	resp := do(t, "POST", server.URL+"/api/items", "", map[string]string{"title": "x", "type": "lost"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for anonymous create, got %d", resp.StatusCode)
	}

	var errBody errorBody
	resp = do(t, "POST", server.URL+"/api/items", token, map[string]string{"title": "Keys", "type": "stolen"}, &errBody)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad type, got %d", resp.StatusCode)
	}
	if errBody.Error != "type must be one of: lost found" {
		t.Errorf("unexpected error message %q", errBody.Error)
	}

	resp = do(t, "POST", server.URL+"/api/items", token, map[string]string{"type": "lost"}, &errBody)
	if resp.StatusCode != http.StatusBadRequest || errBody.Error != "title is required" {
		t.Errorf("expected 400 title is required, got %d %q", resp.StatusCode, errBody.Error)
	}
}

func TestItemOwnership(t *testing.T) {
	server, _ := setupTestServer(t)
	register(t, server, "admin")
	register(t, server, "alice")
	register(t, server, "bob")
	adminToken := login(t, server, "admin")
	alice := login(t, server, "alice")
	bob := login(t, server, "bob")

	item := createItem(t, server, alice, "Wallet", model.ItemTypeLost)
	itemURL := fmt.Sprintf("%s/api/items/%d", server.URL, item.ID)
	update := map[string]string{"title": "Brown wallet", "type": "lost"}

	resp := do(t, "PUT", itemURL, bob, update, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner update, got %d", resp.StatusCode)
	}
	resp = do(t, "DELETE", itemURL, bob, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner delete, got %d", resp.StatusCode)
	}

	var updated model.Item
	resp = do(t, "PUT", itemURL, alice, update, &updated)
	if resp.StatusCode != http.StatusOK || updated.Title != "Brown wallet" {
		t.Errorf("expected owner update to succeed, got %d %q", resp.StatusCode, updated.Title)
	}

	update["title"] = "Wallet (moderated)"
	resp = do(t, "PUT", itemURL, adminToken, update, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected admin update to succeed, got %d", resp.StatusCode)
	}

	resp = do(t, "DELETE", itemURL, adminToken, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected admin delete to succeed, got %d", resp.StatusCode)
	}
	resp = do(t, "GET", itemURL, "", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestItemImages(t *testing.T) {
	server, _ := setupTestServer(t)
	register(t, server, "alice")
	register(t, server, "bob")
	alice := login(t, server, "alice")
	bob := login(t, server, "bob")

	// Create with a photo in one multipart request.
	body, contentType := multipartBody(t, map[string]string{"title": "Scarf", "type": "found"}, pngBytes(t, 600, 300))
	req, _ := http.NewRequest("POST", server.URL+"/api/items", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("multipart create: %v", err)
	}
	var item model.Item
	json.NewDecoder(resp.Body).Decode(&item)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || !item.HasImage {
		t.Fatalf("expected 201 with image, got %d has_image=%v", resp.StatusCode, item.HasImage)
	}

	imageURL := fmt.Sprintf("%s/api/items/%d/image", server.URL, item.ID)
	for _, suffix := range []string{"", "?size=thumb"} {
		resp, err := http.Get(imageURL + suffix)
		if err != nil {
			t.Fatalf("get image: %v", err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
			t.Fatalf("image%s: expected 200 image/jpeg, got %d %s", suffix, resp.StatusCode, resp.Header.Get("Content-Type"))
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decoding served image: %v", err)
		}
		want := 600
		if suffix != "" {
			want = 256
		}
		if cfg.Width != want {
			t.Errorf("image%s: expected width %d, got %d", suffix, want, cfg.Width)
		}
	}

	upload := func(token string, data []byte) int {
		body, contentType := multipartBody(t, nil, data)
		req, _ := http.NewRequest("PUT", imageURL, body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if status := upload(bob, pngBytes(t, 10, 10)); status != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner upload, got %d", status)
	}
	if status := upload(alice, []byte("definitely not an image")); status != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid image, got %d", status)
	}
	if status := upload(alice, pngBytes(t, 10, 10)); status != http.StatusOK {
		t.Errorf("expected 200 for owner upload, got %d", status)
	}

	plain := createItem(t, server, alice, "Gloves", model.ItemTypeLost)
	resp, _ = http.Get(fmt.Sprintf("%s/api/items/%d/image", server.URL, plain.ID))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for item without image, got %d", resp.StatusCode)
	}
}

func TestCreateItemImageTooLarge(t *testing.T) {
	server, database := setupTestServerWith(t, func(d *Deps) { d.MaxUploadBytes = 4000 })
	register(t, server, "alice")
	alice := login(t, server, "alice")

	body, contentType := multipartBody(t, map[string]string{"title": "Scarf", "type": "found"}, bytes.Repeat([]byte{0xab}, 5000))
	req, _ := http.NewRequest("POST", server.URL+"/api/items", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("multipart create: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized image, got %d", resp.StatusCode)
	}

	n, _ := store.CountItems(context.Background(), database, store.ItemFilter{})
	if n != 0 {
		t.Errorf("expected no item to be created, got %d", n)
	}
}

func TestCreateItemImageStoreFailure(t *testing.T) {
	server, database := setupTestServer(t)
	register(t, server, "alice")
	alice := login(t, server, "alice")

	_, err := database.Exec(`CREATE TRIGGER fail_image BEFORE UPDATE OF image ON items
		BEGIN SELECT RAISE(ABORT, 'image storage unavailable'); END`)
	if err != nil {
		t.Fatalf("creating trigger: %v", err)
	}

	body, contentType := multipartBody(t, map[string]string{"title": "Scarf", "type": "found"}, pngBytes(t, 20, 20))
	req, _ := http.NewRequest("POST", server.URL+"/api/items", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("multipart create: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 when the image cannot be stored, got %d", resp.StatusCode)
	}

	n, _ := store.CountItems(context.Background(), database, store.ItemFilter{})
	if n != 0 {
		t.Errorf("expected the half-created item to be removed, got %d", n)
	}
}

func TestUnknownRoutes(t *testing.T) {
	server, _ := setupTestServer(t)

	var errBody errorBody
	resp := do(t, "GET", server.URL+"/api/nowhere", "", nil, &errBody)
	if resp.StatusCode != http.StatusNotFound || errBody.Error == "" {
		t.Errorf("expected JSON 404, got %d %+v", resp.StatusCode, errBody)
	}

	resp = do(t, "PATCH", server.URL+"/api/items/1", "", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for wrong method, got %d", resp.StatusCode)
	}
}

func TestDeletionRequestFlow(t *testing.T) {
	server, _ := setupTestServer(t)
	register(t, server, "admin")
	register(t, server, "alice")
	register(t, server, "bob")
	adminToken := login(t, server, "admin")
	alice := login(t, server, "alice")
	bob := login(t, server, "bob")

	item := createItem(t, server, alice, "Laptop charger", model.ItemTypeFound)
	requestURL := fmt.Sprintf("%s/api/items/%d/deletion-requests", server.URL, item.ID)
	reason := map[string]string{"reason": "returned to owner"}

	resp := do(t, "POST", requestURL, bob, reason, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner request, got %d", resp.StatusCode)
	}

	var dr model.DeletionRequest
	resp = do(t, "POST", requestURL, alice, reason, &dr)
	if resp.StatusCode != http.StatusCreated || dr.Status != model.RequestStatusPending {
		t.Fatalf("expected 201 pending, got %d %q", resp.StatusCode, dr.Status)
	}

	resp = do(t, "POST", requestURL, alice, reason, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for second pending request, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", server.URL+"/api/deletion-requests", alice, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin listing, got %d", resp.StatusCode)
	}

	var pending []model.DeletionRequest
	do(t, "GET", server.URL+"/api/deletion-requests?status=pending", adminToken, nil, &pending)
	if len(pending) != 1 || pending[0].ItemTitle != "Laptop charger" {
		t.Fatalf("expected one pending request, got %+v", pending)
	}

	approveURL := fmt.Sprintf("%s/api/deletion-requests/%d/approve", server.URL, dr.ID)
	resp = do(t, "POST", approveURL, alice, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin approve, got %d", resp.StatusCode)
	}

	var approved model.DeletionRequest
	resp = do(t, "POST", approveURL, adminToken, nil, &approved)
	if resp.StatusCode != http.StatusOK || approved.Status != model.RequestStatusApproved {
		t.Fatalf("expected 200 approved, got %d %q", resp.StatusCode, approved.Status)
	}

	resp = do(t, "GET", fmt.Sprintf("%s/api/items/%d", server.URL, item.ID), "", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected item to be deleted, got %d", resp.StatusCode)
	}
	resp = do(t, "POST", approveURL, adminToken, nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for second approval, got %d", resp.StatusCode)
	}

	var history []model.DeletionRequest
	do(t, "GET", server.URL+"/api/deletion-requests?status=approved", adminToken, nil, &history)
	if len(history) != 1 || history[0].ID != dr.ID {
		t.Fatalf("expected approved request in list, got %+v", history)
	}
	if history[0].ItemID != nil || history[0].ItemTitle != "Laptop charger" || history[0].ResolvedAt == nil {
		t.Errorf("expected resolved record with title snapshot, got %+v", history[0])
	}

	// Rejection keeps the item and can happen only once.
	other := createItem(t, server, alice, "Water bottle", model.ItemTypeFound)
	do(t, "POST", fmt.Sprintf("%s/api/items/%d/deletion-requests", server.URL, other.ID), alice, reason, &dr)
	rejectURL := fmt.Sprintf("%s/api/deletion-requests/%d/reject", server.URL, dr.ID)

	var rejected model.DeletionRequest
	resp = do(t, "POST", rejectURL, adminToken, nil, &rejected)
	if resp.StatusCode != http.StatusOK || rejected.Status != model.RequestStatusRejected {
		t.Fatalf("expected 200 rejected, got %d %q", resp.StatusCode, rejected.Status)
	}
	resp = do(t, "POST", rejectURL, adminToken, nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for second rejection, got %d", resp.StatusCode)
	}
	resp = do(t, "GET", fmt.Sprintf("%s/api/items/%d", server.URL, other.ID), "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected rejected item to remain, got %d", resp.StatusCode)
	}
}

func TestUserAdministration(t *testing.T) {
	server, _ := setupTestServer(t)
	admin := register(t, server, "admin")
	alice := register(t, server, "alice")
	adminToken := login(t, server, "admin")
	aliceToken := login(t, server, "alice")

	resp := do(t, "GET", server.URL+"/api/users", aliceToken, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for user accessing users, got %d", resp.StatusCode)
	}

	var users []model.User
	do(t, "GET", server.URL+"/api/users", adminToken, nil, &users)
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %d", len(users))
	}

	adminURL := func(id int64) string { return fmt.Sprintf("%s/api/users/%d/admin", server.URL, id) }

	resp = do(t, "PUT", adminURL(admin.ID), adminToken, map[string]bool{"is_admin": false}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 demoting last admin, got %d", resp.StatusCode)
	}

	resp = do(t, "PUT", adminURL(alice.ID), adminToken, map[string]any{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without is_admin, got %d", resp.StatusCode)
	}

	var promoted model.User
	resp = do(t, "PUT", adminURL(alice.ID), adminToken, map[string]bool{"is_admin": true}, &promoted)
	if resp.StatusCode != http.StatusOK || !promoted.IsAdmin {
		t.Fatalf("expected alice promoted, got %d %+v", resp.StatusCode, promoted)
	}

	// Alice's existing token picks up the new rights.
	resp = do(t, "GET", server.URL+"/api/users", aliceToken, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for promoted user, got %d", resp.StatusCode)
	}

	resp = do(t, "PUT", adminURL(admin.ID), aliceToken, map[string]bool{"is_admin": false}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected demotion to succeed with two admins, got %d", resp.StatusCode)
	}
	resp = do(t, "GET", server.URL+"/api/users", adminToken, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for demoted admin, got %d", resp.StatusCode)
	}

	resp = do(t, "PUT", fmt.Sprintf("%s/api/users/%d/password", server.URL, admin.ID), aliceToken,
		map[string]string{"password": "resetpass789"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for password reset, got %d", resp.StatusCode)
	}
	resp = do(t, "POST", server.URL+"/api/auth/login", "", map[string]string{
		"login": "admin", "password": "resetpass789",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected login with reset password, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", server.URL+"/api/users/9999", aliceToken, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing user, got %d", resp.StatusCode)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	server, database := setupTestServer(t)
	admin := register(t, server, "admin")
	alice := register(t, server, "alice")
	adminToken := login(t, server, "admin")
	aliceToken := login(t, server, "alice")

	createItem(t, server, aliceToken, "Phone", model.ItemTypeLost)
	createItem(t, server, aliceToken, "Headphones", model.ItemTypeLost)
	createItem(t, server, adminToken, "Bike lock", model.ItemTypeFound)

	resp := do(t, "DELETE", fmt.Sprintf("%s/api/users/%d", server.URL, admin.ID), adminToken, nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for self-deletion, got %d", resp.StatusCode)
	}

	resp = do(t, "DELETE", fmt.Sprintf("%s/api/users/%d", server.URL, alice.ID), adminToken, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d", resp.StatusCode)
	}

	n, err := store.CountItems(context.Background(), database, store.ItemFilter{UserID: alice.ID})
	if err != nil {
		t.Fatalf("counting items: %v", err)
	}
	if n != 0 {
		t.Errorf("expected alice's items to be deleted, %d remain", n)
	}

	var list itemList
	do(t, "GET", server.URL+"/api/items", "", nil, &list)
	if list.Total != 1 {
		t.Errorf("expected 1 remaining item, got %d", list.Total)
	}

	// The deleted user's token no longer works.
	resp = do(t, "GET", server.URL+"/api/auth/me", aliceToken, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for deleted user, got %d", resp.StatusCode)
	}

	resp = do(t, "DELETE", fmt.Sprintf("%s/api/users/%d", server.URL, alice.ID), adminToken, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for second delete, got %d", resp.StatusCode)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	server, _ := setupTestServer(t)

	resp := do(t, "GET", server.URL+"/api/items", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for public listing, got %d", resp.StatusCode)
	}

	for _, path := range []string{"/api/auth/me", "/api/users", "/api/deletion-requests"} {
		resp := do(t, "GET", server.URL+path, "", nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}

	resp = do(t, "GET", server.URL+"/api/auth/me", "garbage", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	database := db.NewTestDB(t)
	checker := &stubHealth{report: central.HealthReport{
		Server:   "server-a",
		Status:   central.StatusDegraded,
		Database: central.DatabaseConnected,
		Services: map[string]string{"server-b": central.ServiceDown},
	}}
	server := httptest.NewServer(NewRouter(Deps{DB: database, JWTSecret: testJWTSecret, Health: checker, ServerName: "server-a"}))
	t.Cleanup(server.Close)

	var report central.HealthReport
	resp := do(t, "GET", server.URL+"/api/health", "", nil, &report)
	if resp.StatusCode != http.StatusOK || report.Status != central.StatusDegraded {
		t.Errorf("expected 200 degraded, got %d %q", resp.StatusCode, report.Status)
	}
	if report.Services["server-b"] != central.ServiceDown {
		t.Errorf("expected server-b down, got %v", report.Services)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id response header")
	}

	checker.report.Status = central.StatusUnhealthy
	resp = do(t, "GET", server.URL+"/api/health", "", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when unhealthy, got %d", resp.StatusCode)
	}

	var ping map[string]string
	resp = do(t, "GET", server.URL+"/api/ping", "", nil, &ping)
	if resp.StatusCode != http.StatusOK || ping["server"] != "server-a" {
		t.Errorf("unexpected ping: %d %v", resp.StatusCode, ping)
	}

	var errBody errorBody
	resp = do(t, "GET", server.URL+"/api/nope", "", nil, &errBody)
	if resp.StatusCode != http.StatusNotFound || errBody.Error != "not found" {
		t.Errorf("expected JSON 404, got %d %+v", resp.StatusCode, errBody)
	}
}
