//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/readstack/librarian/internal/api/handlers"
	"github.com/readstack/librarian/internal/index"
	"github.com/readstack/librarian/internal/repository"
	"github.com/readstack/librarian/internal/server"
	"github.com/readstack/librarian/internal/service"
	"github.com/readstack/librarian/internal/testutil"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	AccountID    string
	AuthToken    string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with a database
// container and an in-process server. Embeddings and answers come from
// a deterministic fake so no external provider is needed.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// Bootstrap creates an account and captures its API key
func (e *E2ETestEnv) Bootstrap() {
	resp, err := e.Post("/accounts", map[string]string{"name": "E2E Test Account"}, "")
	if err != nil {
		e.T.Fatalf("failed to create account: %v", err)
	}

	var account struct {
		ID     string `json:"id"`
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(resp.Data, &account); err != nil {
		e.T.Fatalf("failed to parse account response: %v", err)
	}
	e.AccountID = account.ID
	e.AuthToken = account.APIKey
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, authToken)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, authToken)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path, authToken string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil, authToken)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// fakeAIClient produces deterministic embeddings and canned answers so
// the full pipeline runs without an embedding provider. Identical texts
// map to identical vectors, so querying with a document's exact content
// ranks that document first.
type fakeAIClient struct{}

const fakeDimensions = 16

func (f *fakeAIClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, fakeDimensions)
		for pos, r := range text {
			h := fnv.New32a()
			fmt.Fprintf(h, "%d:%c", pos%fakeDimensions, r)
			vec[pos%fakeDimensions] += float32(h.Sum32()%1000) / 1000.0
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeAIClient) GenerateAnswer(ctx context.Context, question, contextText string) (string, error) {
	return "Answer grounded in: " + contextText[:min(40, len(contextText))], nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// startServer wires the real stack against the fake AI client
func startServer(t *testing.T, pool *pgxpool.Pool, port int) (string, func()) {
	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	accountRepo := repository.NewAccountRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	aiClient := &fakeAIClient{}

	vectorIndex := index.NewMemory()
	retrievalSvc := service.NewRetrievalService(aiClient, vectorIndex, docRepo, chunkRepo, txRunner)

	authSvc := service.NewAuthService(accountRepo, &service.DefaultUUIDGenerator{})
	docSvc := service.NewDocumentService(docRepo, retrievalSvc)
	qaSvc := service.NewQAService(retrievalSvc, aiClient, 5, 6000)

	cfg := server.RouterConfig{
		AuthValidator:   authSvc,
		DocumentHandler: handlers.NewDocumentHandler(docSvc, retrievalSvc),
		QAHandler:       handlers.NewQAHandler(qaSvc, qaSvc),
		AccountHandler:  handlers.NewAccountHandler(authSvc),
	}

	router := server.NewRouter(cfg)
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
