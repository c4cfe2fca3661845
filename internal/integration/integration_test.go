package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"keyhub/internal/api"
	"keyhub/internal/app"
	"keyhub/internal/clientip"
	"keyhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests that drive the HTTP surface against the JSON backend

const validKey = "sk-valid-0123456789abcdefgh"

// fakeCollaborator accepts validKey and rejects everything else.
type fakeCollaborator struct {
	server *httptest.Server
	calls  atomic.Int32
}

func newFakeCollaborator(t *testing.T) *fakeCollaborator {
	f := &fakeCollaborator{}
	mux := http.NewServeMux()
	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		f.calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+validKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid token"}}`))
			return false
		}
		return true
	}
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}
	})
	mux.HandleFunc("GET /v1/user/info", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			_, _ = w.Write([]byte(`{"data":{"totalBalance":"13.37"}}`))
		}
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type testEnv struct {
	server  *httptest.Server
	dataDir string
	app     *app.App
}

func newTestEnv(t *testing.T, seed []string, collaboratorURL string) *testEnv {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")

	cfg := models.NewDefaultConfig()
	cfg.Storage.Type = models.StorageTypeJSON
	cfg.Storage.Path = dataDir
	cfg.Pool.SeedKeys = seed
	cfg.Usage.Location = "UTC"
	cfg.Security.TrustedProxies = []string{"127.0.0.1", "::1"}
	cfg.Verify.BaseURL = collaboratorURL + "/v1"
	require.NoError(t, cfg.Validate())

	a, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = a.Seed(t.Context())
	require.NoError(t, err)

	trusted, err := cfg.Security.TrustedPrefixes()
	require.NoError(t, err)
	handlers := api.NewHandlers(a.Service, clientip.NewResolver(trusted), cfg.Security.AllowBodyAddress)
	server := httptest.NewServer(api.SetupRoutes(handlers, cfg))
	t.Cleanup(server.Close)

	return &testEnv{server: server, dataDir: dataDir, app: a}
}

func (e *testEnv) do(t *testing.T, method, path, clientAddr string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if clientAddr != "" {
		req.Header.Set("X-Forwarded-For", clientAddr)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *testEnv) readDocument(t *testing.T, name string, into interface{}) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.dataDir, name+".json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, into))
}

func TestIntegration_AllocationFlow(t *testing.T) {
	seed := []string{"sk-key-aaaaaaaaaaaaaaaaaa", "sk-key-bbbbbbbbbbbbbbbbbb", "sk-key-cccccccccccccccccc"}
	env := newTestEnv(t, seed, "http://127.0.0.1:1")

	resp, body := env.do(t, http.MethodGet, "/api/key-count", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count":3}`, string(body))

	handed := map[string]bool{}
	for i, addr := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		resp, body := env.do(t, http.MethodPost, "/api/get-key", addr, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var alloc models.AllocationResponse
		require.NoError(t, json.Unmarshal(body, &alloc))
		assert.Contains(t, seed, alloc.Key)
		assert.False(t, handed[alloc.Key], "key handed out twice")
		handed[alloc.Key] = true
		assert.Equal(t, i+1, alloc.TodayUsage)
	}

	// The same address is refused forever.
	resp, body = env.do(t, http.MethodPost, "/get-key", "203.0.113.1", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), models.ErrorCodeAlreadyClaimed)

	// A new address on an empty pool is told so, and its claim is spent.
	resp, body = env.do(t, http.MethodPost, "/api/get-key", "203.0.113.4", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "pool exhausted")

	resp, _ = env.do(t, http.MethodPost, "/api/get-key", "203.0.113.4", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/usage-stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats models.UsageStatsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 3, stats.Count)

	var keys []string
	env.readDocument(t, models.DocumentKeys, &keys)
	assert.Empty(t, keys)

	var ledger models.IPLedger
	env.readDocument(t, models.DocumentIPRecords, &ledger)
	assert.Len(t, ledger.Records, 4)
	assert.Contains(t, ledger.Records, "203.0.113.4")
}

func TestIntegration_SpoofedForwardingIgnoredFromUntrustedPeer(t *testing.T) {
	env := newTestEnv(t, []string{"sk-only-aaaaaaaaaaaaaaaaa"}, "http://127.0.0.1:1")

	// Trusted loopback proxy: the rightmost untrusted hop is the client,
	// so a prepended fake hop does not change the identity.
	resp, _ := env.do(t, http.MethodPost, "/api/get-key", "198.51.100.66, 203.0.113.9", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/get-key", "10.9.9.9, 203.0.113.9", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIntegration_VerifyFlow(t *testing.T) {
	collaborator := newFakeCollaborator(t)
	env := newTestEnv(t, nil, collaborator.server.URL)

	resp, body := env.do(t, http.MethodPost, "/api/verify-key", "", map[string]string{"key": validKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"isValid":true,"balance":"13.37","verifyCount":1}`, string(body))
	assert.Equal(t, int32(2), collaborator.calls.Load())

	resp, body = env.do(t, http.MethodPost, "/verify-key", "", map[string]string{"key": "sk-wrong-0123456789abcdefgh"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"isValid":false,"message":"Invalid token","verifyCount":2}`, string(body))
	assert.Equal(t, int32(3), collaborator.calls.Load())

	resp, body = env.do(t, http.MethodPost, "/api/verify-key", "", map[string]string{"key": "bad"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"isValid":false,"message":"invalid format","verifyCount":3}`, string(body))
	assert.Equal(t, int32(3), collaborator.calls.Load(), "malformed keys never reach the collaborator")

	resp, body = env.do(t, http.MethodPost, "/api/verify-key", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "key required")

	var usage models.UsageRecord
	env.readDocument(t, models.DocumentUsage, &usage)
	assert.Equal(t, 3, usage.VerifyCount, "missing key is not counted")
}

func TestIntegration_ConcurrentAllocations(t *testing.T) {
	const n = 20
	seed := make([]string, n)
	for i := range seed {
		seed[i] = fmt.Sprintf("sk-concurrent-%02d-aaaaaaaaaa", i)
	}
	env := newTestEnv(t, seed, "http://127.0.0.1:1")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys = map[string]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/get-key", nil)
			if !assert.NoError(t, err) {
				return
			}
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d", i+1))
			resp, err := http.DefaultClient.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			if !assert.Equal(t, http.StatusOK, resp.StatusCode) {
				return
			}
			var alloc models.AllocationResponse
			if assert.NoError(t, json.NewDecoder(resp.Body).Decode(&alloc)) {
				mu.Lock()
				keys[alloc.Key]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, keys, n)
	for key, count := range keys {
		assert.Equal(t, 1, count, "key %s handed out more than once", key)
	}

	var remaining []string
	env.readDocument(t, models.DocumentKeys, &remaining)
	assert.Empty(t, remaining)

	var usage models.UsageRecord
	env.readDocument(t, models.DocumentUsage, &usage)
	assert.Equal(t, n, usage.Count)
}

func TestIntegration_RoutingEdges(t *testing.T) {
	env := newTestEnv(t, []string{"sk-edge-aaaaaaaaaaaaaaaaa"}, "http://127.0.0.1:1")

	resp, body := env.do(t, http.MethodGet, "/api/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), `"error":"not found"`)

	resp, _ = env.do(t, http.MethodGet, "/api/get-key", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, http.MethodOptions, "/api/get-key", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, body = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"pool_size":1`)
}

func TestIntegration_StoreFaults(t *testing.T) {
	env := newTestEnv(t, []string{"sk-bom-aaaaaaaaaaaaaaaaaa"}, "http://127.0.0.1:1")
	keysPath := filepath.Join(env.dataDir, models.DocumentKeys+".json")

	bom := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`["sk-x1","sk-x2"]`)...)
	require.NoError(t, os.WriteFile(keysPath, bom, 0600))

	resp, body := env.do(t, http.MethodGet, "/api/key-count", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count":2}`, string(body))

	require.NoError(t, os.WriteFile(keysPath, []byte(`{"not":"a list"`), 0600))

	resp, body = env.do(t, http.MethodGet, "/api/key-count", "", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "internal server error")
	assert.False(t, strings.Contains(string(body), "a list"), "store detail is not leaked")

	resp, _ = env.do(t, http.MethodPost, "/api/get-key", "203.0.113.50", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	raw, err := os.ReadFile(keysPath)
	require.NoError(t, err)
	assert.Equal(t, `{"not":"a list"`, string(raw), "corrupt documents are never overwritten")
}
