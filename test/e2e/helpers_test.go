package e2e_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/replica-sync/internal/auth"
	"github.com/alexjbarnes/replica-sync/internal/mcpserver"
	"github.com/alexjbarnes/replica-sync/internal/models"
	"github.com/alexjbarnes/replica-sync/internal/remote"
	"github.com/alexjbarnes/replica-sync/internal/server"
	"github.com/alexjbarnes/replica-sync/internal/state"
	"github.com/alexjbarnes/replica-sync/internal/synchronizer"
	"github.com/alexjbarnes/replica-sync/internal/transfer"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAccount = "alice"
	testToken   = "remote-token"
	testAPIKey  = "rs_e2e-test-key"
	apiPrefix   = "/api/v1/accounts/" + testAccount + "/"
)

type remoteEntry struct {
	etag  string
	data  []byte
	mtime int64
}

// fileServer is an in-memory remote file tree speaking the HTTP API the
// client consumes. Folders exist implicitly above every file.
type fileServer struct {
	mu    sync.Mutex
	files map[string]remoteEntry
	seq   int
}

func newFileServer() *fileServer {
	return &fileServer{files: make(map[string]remoteEntry)}
}

func (s *fileServer) put(p, content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.putLocked(p, []byte(content))
}

func (s *fileServer) putLocked(p string, data []byte) string {
	s.seq++
	etag := fmt.Sprintf("v%d", s.seq)
	s.files[p] = remoteEntry{
		etag:  etag,
		data:  data,
		mtime: time.Date(2025, 6, 1, 12, 0, s.seq, 0, time.UTC).UnixMilli(),
	}

	return etag
}

func (s *fileServer) remove(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.files, p)
}

func (s *fileServer) content(p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.files[p]

	return string(e.data), ok
}

func (s *fileServer) etag(p string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.files[p].etag
}

// isFolderLocked reports whether any file lives below p.
func (s *fileServer) isFolderLocked(p string) bool {
	if p == "/" {
		return true
	}

	for fp := range s.files {
		if strings.HasPrefix(fp, p+"/") {
			return true
		}
	}

	return false
}

type fileObject struct {
	Path   string `json:"path"`
	Etag   string `json:"etag"`
	Folder bool   `json:"folder"`
	Size   int64  `json:"size"`
	Mtime  int64  `json:"mtime"`
}

func folderObject(p string) fileObject {
	return fileObject{Path: p, Etag: "dir:" + p, Folder: true}
}

func (s *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad token"})
		return
	}

	op, ok := strings.CutPrefix(r.URL.Path, apiPrefix)
	if !ok {
		http.NotFound(w, r)
		return
	}

	p := r.URL.Query().Get("path")

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case op == "meta" && r.Method == http.MethodGet:
		if e, ok := s.files[p]; ok {
			writeJSON(w, http.StatusOK, fileObject{Path: p, Etag: e.etag, Size: int64(len(e.data)), Mtime: e.mtime})
			return
		}

		if s.isFolderLocked(p) {
			writeJSON(w, http.StatusOK, folderObject(p))
			return
		}

		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})

	case op == "list" && r.Method == http.MethodGet:
		if !s.isFolderLocked(p) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"folder":   folderObject(p),
			"children": s.childrenLocked(p),
		})

	case op == "content" && r.Method == http.MethodGet:
		e, ok := s.files[p]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}

		w.Header().Set("ETag", `"`+e.etag+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(e.data)

	case op == "content" && r.Method == http.MethodPut:
		cur, exists := s.files[p]

		if m := r.Header.Get("If-Match"); m != "" && (!exists || strings.Trim(m, `"`) != cur.etag) {
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": "etag mismatch"})
			return
		}

		if r.Header.Get("If-None-Match") == "*" && exists {
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": "exists"})
			return
		}

		var buf strings.Builder
		if _, err := buf.ReadFrom(r.Body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		etag := s.putLocked(p, []byte(buf.String()))
		writeJSON(w, http.StatusOK, map[string]string{"etag": etag})

	default:
		http.NotFound(w, r)
	}
}

func (s *fileServer) childrenLocked(folder string) []fileObject {
	prefix := folder + "/"
	if folder == "/" {
		prefix = "/"
	}

	seen := make(map[string]bool)

	var out []fileObject

	for fp, e := range s.files {
		rest, ok := strings.CutPrefix(fp, prefix)
		if !ok || rest == "" {
			continue
		}

		name, _, nested := strings.Cut(rest, "/")
		child := prefix + name

		if seen[child] {
			continue
		}

		seen[child] = true

		if nested {
			out = append(out, folderObject(child))
		} else {
			out = append(out, fileObject{Path: child, Etag: e.etag, Size: int64(len(e.data)), Mtime: e.mtime})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// harness holds the full e2e stack: a fake remote, the real client,
// store, transfer queue and synchronizer, and the MCP endpoint behind
// API key auth on a real HTTP server.
type harness struct {
	Remote       *fileServer
	State        *state.State
	Queue        *transfer.Queue
	Reconciler   *synchronizer.Reconciler
	Orchestrator *synchronizer.Orchestrator
	MCPURL       string

	mu       sync.Mutex
	outcomes map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	fs := newFileServer()
	remoteSrv := httptest.NewServer(fs)
	t.Cleanup(remoteSrv.Close)

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	storage, err := transfer.NewStorage(t.TempDir())
	require.NoError(t, err)

	client := remote.NewClient(remoteSrv.URL, testToken, nil)
	queue := transfer.NewQueue(client, st, storage, transfer.Config{Workers: 2, MaxAttempts: 1}, logger)
	reconciler := synchronizer.NewReconciler(client, st, queue, queue, logger)
	orchestrator := synchronizer.NewOrchestrator(remote.NewRefresher(client, st, logger), reconciler, logger)

	h := &harness{
		Remote:       fs,
		State:        st,
		Queue:        queue,
		Reconciler:   reconciler,
		Orchestrator: orchestrator,
		outcomes:     make(map[string]string),
	}

	orchestrator.OnOutcome(func(f models.File, o synchronizer.Outcome) {
		h.mu.Lock()
		h.outcomes[f.RemotePath] = o.String()
		h.mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = queue.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	require.NoError(t, err)

	verifier, err := auth.NewKeyVerifier(string(hash))
	require.NoError(t, err)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "replica-sync-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, &mcpserver.Deps{
		Store:      st,
		Syncer:     orchestrator,
		Reconciler: reconciler,
		Downloads:  queue,
		Uploads:    queue,
		Jobs:       queue,
		Remote:     client,
		Account:    testAccount,
		Logger:     logger,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mcpSrv := httptest.NewServer(server.NewMux(server.MuxConfig{
		Verifier:   verifier,
		MCPHandler: mcpHandler,
		Logger:     logger,
	}))
	t.Cleanup(mcpSrv.Close)

	h.MCPURL = mcpSrv.URL

	return h
}

// sync runs one orchestration pass over the root and waits for every
// transfer it started.
func (h *harness) sync(t *testing.T, mode synchronizer.Mode) {
	t.Helper()

	h.mu.Lock()
	clear(h.outcomes)
	h.mu.Unlock()

	require.NoError(t, h.Orchestrator.SynchronizeFolder(t.Context(), "/", testAccount, "", mode))
	h.drain(t)
}

func (h *harness) outcome(p string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.outcomes[p]
}

// drain waits until no transfer is pending or running.
func (h *harness) drain(t *testing.T) {
	t.Helper()

	waitFor(t, 5*time.Second, func() bool {
		for _, j := range h.Queue.Jobs() {
			if j.Status == transfer.StatusPending || j.Status == transfer.StatusRunning {
				return false
			}
		}

		return true
	})
}

func (h *harness) file(t *testing.T, p string) *models.File {
	t.Helper()

	f, err := h.State.GetFileByPath(testAccount, "", p)
	require.NoError(t, err)

	return f
}

// localContent reads the stored bytes of p.
func (h *harness) localContent(t *testing.T, p string) string {
	t.Helper()

	f := h.file(t, p)
	require.NotNil(t, f, "no row for %s", p)
	require.True(t, f.IsAvailableLocally, "%s not available locally", p)

	data, err := os.ReadFile(f.StoragePath)
	require.NoError(t, err)

	return string(data)
}

// editLocal rewrites the stored bytes of p and stamps the change the way
// the watcher does.
func (h *harness) editLocal(t *testing.T, p, content string) {
	t.Helper()

	f := h.file(t, p)
	require.NotNil(t, f)
	require.NoError(t, os.WriteFile(f.StoragePath, []byte(content), 0o644))
	require.NoError(t, h.State.MarkLocallyModified(f.ID))
}

// mcpSession creates an MCP client session authenticated with the given
// API key. Uses the MCP SDK's StreamableClientTransport with a custom
// HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, key string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.MCPURL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: key,
				base:  http.DefaultTransport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// callTool calls a tool and decodes its JSON text result into dest.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, dest any) {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)

	text := extractTextContent(t, result)
	require.False(t, result.IsError, "tool %s failed: %s", name, text)

	if dest != nil {
		require.NoError(t, json.Unmarshal([]byte(text), dest))
	}
}

func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")

	return tc.Text
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

// waitFor polls until cond returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("timed out waiting for condition")
}
