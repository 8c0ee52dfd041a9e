package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// DocumentPrefix is the route the fake backend serves document sockets on.
const DocumentPrefix = "/collab"

// FakeBackend is an in-process file service exposing the token endpoint,
// the notification socket, per-document sync sockets and the file API.
type FakeBackend struct {
	Server *httptest.Server

	upgrader websocket.Upgrader

	mu           sync.Mutex
	token        string
	tokenStatus  int
	tokenCalls   int
	tokenCookie  string
	notifyConns  []*websocket.Conn
	notifyTokens []string
	docConns     map[string][]*websocket.Conn
	docTokens    map[string][]string
	docFrames    map[string][][]byte
	files        map[string]string
	shares       map[string]string
	authHeaders  []string
	failNext     int
	requireAuth  string
	connected    chan struct{}
}

// NewFakeBackend starts a fake backend. It is closed with t.Cleanup.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()

	b := &FakeBackend{
		tokenStatus: http.StatusOK,
		docConns:    make(map[string][]*websocket.Conn),
		docTokens:   make(map[string][]string),
		docFrames:   make(map[string][][]byte),
		files:       make(map[string]string),
		shares:      make(map[string]string),
		connected:   make(chan struct{}, 64),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/ws-token", b.handleToken).Methods(http.MethodGet)
	r.HandleFunc("/notifications", b.handleNotifications)
	r.PathPrefix(DocumentPrefix + "/").HandlerFunc(b.handleDocument)

	api := r.PathPrefix("/api/files").Subrouter()
	api.Use(b.recordAuth)
	api.HandleFunc("/tree", b.handleTree).Methods(http.MethodGet)
	api.HandleFunc("/content", b.handleRead).Methods(http.MethodGet)
	api.HandleFunc("/content", b.handleWrite).Methods(http.MethodPut)
	api.HandleFunc("/content", b.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/directory", b.handleMkdir).Methods(http.MethodPost)
	api.HandleFunc("/rename", b.handleRename).Methods(http.MethodPost)
	api.HandleFunc("/share", b.handleShare).Methods(http.MethodPost)
	api.HandleFunc("/bulk/delete", b.handleBulkDelete).Methods(http.MethodPost)
	api.HandleFunc("/bulk/move", b.handleBulkMove).Methods(http.MethodPost)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

// Close drops every socket and stops the server.
func (b *FakeBackend) Close() {
	b.DropNotificationConns()
	b.mu.Lock()
	for _, conns := range b.docConns {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	b.docConns = make(map[string][]*websocket.Conn)
	b.mu.Unlock()
	b.Server.Close()
}

// URL returns the HTTP base URL.
func (b *FakeBackend) URL() string {
	return b.Server.URL
}

// WSURL returns the websocket base URL of the server root.
func (b *FakeBackend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http")
}

// DocumentWSURL returns the websocket base URL for document sockets.
func (b *FakeBackend) DocumentWSURL() string {
	return b.WSURL() + DocumentPrefix
}

// SetToken configures the token endpoint response.
func (b *FakeBackend) SetToken(token string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
	b.tokenStatus = status
}

// SetTokenCookie makes the token endpoint also set the issued token as a
// cookie named name. An empty name disables the cookie.
func (b *FakeBackend) SetTokenCookie(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenCookie = name
}

// TokenCalls returns how many times the token endpoint was hit.
func (b *FakeBackend) TokenCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokenCalls
}

// FailNext makes the next n file API requests return 503.
func (b *FakeBackend) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// RequireToken makes the file API reject requests not carrying token as a
// bearer credential. An empty token disables the check.
func (b *FakeBackend) RequireToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requireAuth = token
}

// AuthHeaders returns the Authorization headers seen by the file API.
func (b *FakeBackend) AuthHeaders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.authHeaders...)
}

// PutFile seeds the file store.
func (b *FakeBackend) PutFile(path, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[path] = content
}

// File returns a stored file.
func (b *FakeBackend) File(path string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.files[path]
	return content, ok
}

// WaitConnected blocks until a websocket (notification or document) is
// accepted or the timeout elapses.
func (b *FakeBackend) WaitConnected(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-b.connected:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for websocket connection")
	}
}

// --- notification socket ---

func (b *FakeBackend) handleNotifications(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.notifyConns = append(b.notifyConns, conn)
	b.notifyTokens = append(b.notifyTokens, r.URL.Query().Get("token"))
	b.mu.Unlock()
	b.signalConnected()

	go drain(conn)
}

// NotificationConnects returns the number of notification sockets accepted.
func (b *FakeBackend) NotificationConnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notifyTokens)
}

// NotificationTokens returns the token query parameter of every accepted
// notification socket.
func (b *FakeBackend) NotificationTokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.notifyTokens...)
}

// Broadcast writes a text frame to every open notification socket.
func (b *FakeBackend) Broadcast(frame string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.notifyConns {
		_ = c.WriteMessage(websocket.TextMessage, []byte(frame))
	}
}

// BroadcastJSON marshals {type, data} and broadcasts it.
func (b *FakeBackend) BroadcastJSON(eventType string, data any) {
	frame, _ := json.Marshal(map[string]any{"type": eventType, "data": data})
	b.Broadcast(string(frame))
}

// DropNotificationConns closes every notification socket without a close
// handshake, simulating a network drop.
func (b *FakeBackend) DropNotificationConns() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.notifyConns {
		_ = c.Close()
	}
	b.notifyConns = nil
}

// --- document sockets ---

func (b *FakeBackend) handleDocument(w http.ResponseWriter, r *http.Request) {
	docID := strings.TrimPrefix(r.URL.Path, DocumentPrefix+"/")
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.docConns[docID] = append(b.docConns[docID], conn)
	b.docTokens[docID] = append(b.docTokens[docID], r.URL.Query().Get("token"))
	b.mu.Unlock()
	b.signalConnected()

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.mu.Lock()
			b.docFrames[docID] = append(b.docFrames[docID], data)
			b.mu.Unlock()
		}
	}()
}

// DocumentConnects returns how many sockets were accepted for docID.
func (b *FakeBackend) DocumentConnects(docID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.docTokens[docID])
}

// DocumentTokens returns the token query parameter of every socket for docID.
func (b *FakeBackend) DocumentTokens(docID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.docTokens[docID]...)
}

// DocumentFrames returns the frames clients sent for docID.
func (b *FakeBackend) DocumentFrames(docID string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.docFrames[docID]...)
}

// SendDocument writes a binary sync frame to every socket for docID.
func (b *FakeBackend) SendDocument(docID string, frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.docConns[docID] {
		_ = c.WriteMessage(websocket.BinaryMessage, frame)
	}
}

// DropDocumentConns closes every socket for docID without a close handshake.
func (b *FakeBackend) DropDocumentConns(docID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.docConns[docID] {
		_ = c.Close()
	}
	b.docConns[docID] = nil
}

// DocumentIDs returns the document IDs that have had at least one socket.
func (b *FakeBackend) DocumentIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.docTokens))
	for id := range b.docTokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *FakeBackend) signalConnected() {
	select {
	case b.connected <- struct{}{}:
	default:
	}
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// --- token endpoint ---

func (b *FakeBackend) handleToken(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.tokenCalls++
	token, status, cookie := b.token, b.tokenStatus, b.tokenCookie
	b.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "token unavailable", status)
		return
	}
	if cookie != "" {
		http.SetCookie(w, &http.Cookie{Name: cookie, Value: token, Path: "/"})
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// --- file API ---

func (b *FakeBackend) recordAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.authHeaders = append(b.authHeaders, r.Header.Get("Authorization"))
		fail := b.failNext > 0
		if fail {
			b.failNext--
		}
		required := b.requireAuth
		b.mu.Unlock()

		if required != "" && r.Header.Get("Authorization") != "Bearer "+required {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED", "message": "bad token"})
			return
		}

		if fail {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"code": "UNAVAILABLE", "message": "try again"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) handleTree(w http.ResponseWriter, r *http.Request) {
	root := strings.TrimRight(r.URL.Query().Get("path"), "/")

	b.mu.Lock()
	defer b.mu.Unlock()

	type entry struct {
		Path string `json:"path"`
		Name string `json:"name"`
		Type string `json:"type"`
		Size int    `json:"size"`
	}
	entries := []entry{}
	paths := make([]string, 0, len(b.files))
	for p := range b.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if strings.HasPrefix(p, root+"/") {
			entries = append(entries, entry{Path: p, Name: p[strings.LastIndex(p, "/")+1:], Type: "file", Size: len(b.files[p])})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": r.URL.Query().Get("path"), "entries": entries})
}

func (b *FakeBackend) handleRead(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	content, ok := b.File(path)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "message": "file not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "content": content, "contentType": "text/plain"})
}

func (b *FakeBackend) handleWrite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "INVALID_INPUT", "message": err.Error()})
		return
	}
	path := r.URL.Query().Get("path")
	b.PutFile(path, body.Content)
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "size": len(body.Content)})
}

func (b *FakeBackend) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	b.mu.Lock()
	_, ok := b.files[path]
	delete(b.files, path)
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "message": "file not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *FakeBackend) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if strings.Trim(body.Path, "/") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "INVALID_INPUT", "message": "path is required"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"path": body.Path, "name": body.Path[strings.LastIndex(body.Path, "/")+1:], "type": "directory"})
}

func (b *FakeBackend) handleRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	if _, taken := b.files[body.To]; taken && body.To != body.From {
		b.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"code": "CONFLICT", "message": "destination exists"})
		return
	}
	content, ok := b.files[body.From]
	if ok {
		delete(b.files, body.From)
		b.files[body.To] = content
	}
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "message": "file not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": body.To, "name": body.To[strings.LastIndex(body.To, "/")+1:], "type": "file"})
}

func (b *FakeBackend) handleShare(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path       string `json:"path"`
		Permission string `json:"permission"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	b.shares[body.Path] = body.Permission
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"path":       body.Path,
		"url":        b.Server.URL + "/s/" + strings.Trim(body.Path, "/"),
		"permission": body.Permission,
	})
}

func (b *FakeBackend) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paths []string `json:"paths"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	type result struct {
		Path  string `json:"path"`
		Error string `json:"error,omitempty"`
	}
	results := make([]result, 0, len(body.Paths))
	b.mu.Lock()
	for _, p := range body.Paths {
		if _, ok := b.files[p]; !ok {
			results = append(results, result{Path: p, Error: "not found"})
			continue
		}
		delete(b.files, p)
		results = append(results, result{Path: p})
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (b *FakeBackend) handleBulkMove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paths       []string `json:"paths"`
		Destination string   `json:"destination"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	type result struct {
		Path  string `json:"path"`
		Error string `json:"error,omitempty"`
	}
	results := make([]result, 0, len(body.Paths))
	b.mu.Lock()
	for _, p := range body.Paths {
		content, ok := b.files[p]
		if !ok {
			results = append(results, result{Path: p, Error: "not found"})
			continue
		}
		delete(b.files, p)
		b.files[strings.TrimRight(body.Destination, "/")+p[strings.LastIndex(p, "/"):]] = content
		results = append(results, result{Path: p})
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
