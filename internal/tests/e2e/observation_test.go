//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/observach/apiserver/config"
	"github.com/observach/apiserver/internal/db"
	"github.com/observach/apiserver/internal/mq"
	"github.com/observach/apiserver/internal/server"
	"github.com/observach/apiserver/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	serverPort    = 18080
	adminEmail    = "admin@observach.test"
	adminPassword = "admin-pass"
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	setTestEnv()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestModerationLifecycle(t *testing.T) {
	events := watchEvents(t)

	alice := register(t, "Alice", uniqueEmail("alice"))
	bob := register(t, "Bob", uniqueEmail("bob"))
	admin := login(t, adminEmail, adminPassword)

	created := submitObservation(t, alice.Token)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "pending", created.Status)
	assert.True(t, strings.HasPrefix(created.Photo, "/uploads/photos/onca-pintada-"))

	select {
	case event := <-events:
		assert.Equal(t, services.EventObservationSubmitted, event.Type)
		assert.Equal(t, created.ID, event.ObservationID)
	case <-time.After(10 * time.Second):
		t.Fatal("no submission event received")
	}

	// Pending posts stay out of the public feed but show up for the author.
	assert.Nil(t, findBundle(getBundles(t, bob.Token, "/api/observations/public", http.StatusOK), created.ID))
	mine := findBundle(getBundles(t, alice.Token, "/api/observations/mine", http.StatusOK), created.ID)
	require.NotNil(t, mine)
	assert.Equal(t, "pending", mine.Status)

	status := postJSON(t, bob.Token, "/api/observations/"+created.ID+"/comments", map[string]string{"text": "linda!"}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	getBundles(t, bob.Token, "/api/observations/pending", http.StatusForbidden)
	status = patchJSON(t, bob.Token, "/api/admin/observations/"+created.ID+"/status", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, status)

	require.NotNil(t, findBundle(getBundles(t, admin.Token, "/api/observations/pending", http.StatusOK), created.ID))
	status = patchJSON(t, admin.Token, "/api/admin/observations/"+created.ID+"/status", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, status)

	public := findBundle(getBundles(t, bob.Token, "/api/observations/public", http.StatusOK), created.ID)
	require.NotNil(t, public)
	assert.Empty(t, public.Comments)
	assertPhotoServed(t, public.Photo)

	// A comment waits for moderation and pulls its observation back into the queue.
	var comment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	status = postJSON(t, bob.Token, "/api/observations/"+created.ID+"/comments", map[string]string{"text": "linda!"}, &comment)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "pending", comment.Status)

	queued := findBundle(getBundles(t, admin.Token, "/api/observations/pending", http.StatusOK), created.ID)
	require.NotNil(t, queued)
	require.Len(t, queued.Comments, 1)
	assert.Empty(t, findBundle(getBundles(t, bob.Token, "/api/observations/public", http.StatusOK), created.ID).Comments)

	status = patchJSON(t, admin.Token, "/api/admin/comments/"+comment.ID+"/status", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, status)
	public = findBundle(getBundles(t, bob.Token, "/api/observations/public", http.StatusOK), created.ID)
	require.Len(t, public.Comments, 1)
	assert.Equal(t, "linda!", public.Comments[0].Text)
	assert.Nil(t, findBundle(getBundles(t, admin.Token, "/api/observations/pending", http.StatusOK), created.ID))

	// Re-voting replaces the earlier value.
	require.Equal(t, http.StatusOK, postJSON(t, bob.Token, "/api/observations/"+created.ID+"/vote", map[string]string{"value": "coherent"}, nil))
	require.Equal(t, http.StatusOK, postJSON(t, bob.Token, "/api/observations/"+created.ID+"/vote", map[string]string{"value": "incoherent"}, nil))
	public = findBundle(getBundles(t, bob.Token, "/api/observations/public", http.StatusOK), created.ID)
	assert.Empty(t, public.Votes.Coherent)
	assert.Equal(t, []string{bob.User.ID}, public.Votes.Incoherent)
	require.NotNil(t, public.MyVote)
	assert.Equal(t, "incoherent", *public.MyVote)

	status = patchJSON(t, admin.Token, "/api/admin/observations/"+created.ID+"/status", map[string]string{"status": "rejected"})
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, findBundle(getBundles(t, bob.Token, "/api/observations/public", http.StatusOK), created.ID))
	mine = findBundle(getBundles(t, alice.Token, "/api/observations/mine", http.StatusOK), created.ID)
	require.NotNil(t, mine)
	assert.Equal(t, "rejected", mine.Status)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	resp, err := http.Get(baseURL + "/api/observations/public")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

type bundleResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Photo    string `json:"photo"`
	Comments []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"comments"`
	Votes struct {
		Coherent   []string `json:"coherent"`
		Incoherent []string `json:"incoherent"`
	} `json:"votes"`
	MyVote *string `json:"myVote"`
}

func uniqueEmail(name string) string {
	return fmt.Sprintf("%s_%d@example.com", name, time.Now().UnixNano())
}

func register(t *testing.T, name, email string) authResponse {
	t.Helper()
	var parsed authResponse
	status := postJSON(t, "", "/api/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": "secret123",
	}, &parsed)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, parsed.Token)
	return parsed
}

func login(t *testing.T, email, password string) authResponse {
	t.Helper()
	var parsed authResponse
	status := postJSON(t, "", "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &parsed)
	require.Equal(t, http.StatusOK, status)
	return parsed
}

func submitObservation(t *testing.T, token string) bundleResponse {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("popularName", "Onça-pintada")
	_ = writer.WriteField("scientificName", "Panthera onca")
	_ = writer.WriteField("group", "mammal")
	_ = writer.WriteField("location", "Pantanal")
	_ = writer.WriteField("sex", "female")
	_ = writer.WriteField("observedAt", "2024-05-10T06:30")
	part, err := writer.CreateFormFile("photo", "onca.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/observations", &body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("create observation status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed bundleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return parsed
}

func getBundles(t *testing.T, token, path string, wantStatus int) []bundleResponse {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode, "GET %s", path)
	if wantStatus != http.StatusOK {
		return nil
	}
	var parsed []bundleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return parsed
}

func findBundle(bundles []bundleResponse, id string) *bundleResponse {
	for i := range bundles {
		if bundles[i].ID == id {
			return &bundles[i]
		}
	}
	return nil
}

func postJSON(t *testing.T, token, path string, payload any, out any) int {
	t.Helper()
	return sendJSON(t, http.MethodPost, token, path, payload, out)
}

func patchJSON(t *testing.T, token, path string, payload any) int {
	t.Helper()
	return sendJSON(t, http.MethodPatch, token, path, payload, nil)
}

func sendJSON(t *testing.T, method, token, path string, payload any, out any) int {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(method, baseURL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func assertPhotoServed(t *testing.T, photo string) {
	t.Helper()
	resp, err := http.Get(baseURL + photo)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

// watchEvents subscribes to the submission channel for the test's lifetime.
func watchEvents(t *testing.T) <-chan services.SubmissionEvent {
	t.Helper()
	cfg := config.LoadConfig()
	ctx, cancel := context.WithCancel(context.Background())
	broker, err := mq.Open(ctx, cfg.MQ)
	require.NoError(t, err)
	require.NotNil(t, broker)

	events := make(chan services.SubmissionEvent, 16)
	ready := make(chan struct{})
	failed := make(chan error, 1)
	subCtx := mq.WithSubscribed(ctx, func() { close(ready) })
	go func() {
		failed <- broker.Subscribe(subCtx, cfg.MQ.Channel, func(ctx context.Context, msg mq.Message) error {
			var event services.SubmissionEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				return err
			}
			events <- event
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		_ = broker.Close()
	})

	// Core NATS only delivers to subscriptions that already exist.
	select {
	case <-ready:
	case err := <-failed:
		t.Fatalf("subscribe: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("subscription not ready")
	}
	return events
}

func setTestEnv() {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "observach")
	_ = os.Setenv("DB_PASSWORD", "observach")
	_ = os.Setenv("DB_NAME", "observach_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "observach-e2e")
	_ = os.Setenv("MQ_BACKEND", "nats")
	_ = os.Setenv("NATS_URL", "nats://localhost:4222")
	_ = os.Setenv("MQ_CHANNEL", "observach.e2e.submissions")
	_ = os.Setenv("ADMIN_EMAIL", adminEmail)
	_ = os.Setenv("ADMIN_PASSWORD", adminPassword)
}

func startServer(ctx context.Context) (*server.Server, error) {
	cfg := config.LoadConfig()
	srv, err := server.New(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsURL := "file://" + filepath.Join(root, filepath.FromSlash(db.MigrationsDir))
	migrator, err := migrate.New(migrationsURL, db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
