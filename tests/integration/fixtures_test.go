package integration

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/abduss/dedupdrive/internal/auth"
	"github.com/abduss/dedupdrive/internal/config"
)

// testEnv describes a running API reachable from the test process.
type testEnv struct {
	client      *http.Client
	baseURL     string
	quota       int64
	maxFileSize int64
	tokens      *auth.Verifier
}

func setupEnv(t *testing.T) testEnv {
	t.Helper()
	baseURL := os.Getenv("DEDUPDRIVE_E2E_BASE_URL")
	secret := os.Getenv("DEDUPDRIVE_JWT_SECRET")
	if baseURL == "" || secret == "" {
		t.Skip("DEDUPDRIVE_E2E_BASE_URL and DEDUPDRIVE_JWT_SECRET are required")
	}

	quotaMB, _ := strconv.ParseInt(os.Getenv("USER_STORAGE_QUOTA_MB"), 10, 64)
	maxMB, err := strconv.ParseInt(os.Getenv("DEDUPDRIVE_MAX_FILE_SIZE_MB"), 10, 64)
	if err != nil || maxMB <= 0 {
		maxMB = 100
	}
	return testEnv{
		client:      &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		quota:       quotaMB * 1024 * 1024,
		maxFileSize: maxMB * 1024 * 1024,
		tokens: auth.NewVerifier(config.AuthConfig{
			AccessTokenSecret: secret,
			Issuer:            os.Getenv("DEDUPDRIVE_JWT_ISSUER"),
		}),
	}
}

// SetupTestUser mints a token for a fresh user id.
func (e testEnv) SetupTestUser(t *testing.T) string {
	t.Helper()
	token, err := e.tokens.IssueAccessToken(uuid.New(), false, 10*time.Minute)
	require.NoError(t, err)
	return token
}

func (e testEnv) upload(t *testing.T, token, name string, size int64) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.CopyN(part, randomReader{}, size)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, e.baseURL+"/v1/files", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	return resp
}

// randomReader yields distinct bytes per upload so nothing deduplicates
// across test runs.
type randomReader struct{}

func (randomReader) Read(p []byte) (int, error) {
	seed := uuid.New()
	for i := range p {
		p[i] = seed[i%len(seed)]
	}
	return len(p), nil
}
