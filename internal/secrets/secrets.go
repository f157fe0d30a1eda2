// Package secrets resolves named secrets such as the Apple signing key.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jamesacres/bubblyclouds-auth/internal/util"
)

// ErrNotFound is returned when a source has no value for a name.
var ErrNotFound = errors.New("secret not found")

// Source returns secret material by name.
type Source interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvSource reads AUTH_SECRET_<NAME> or, when AUTH_SECRET_<NAME>_FILE is
// set, the file it points to. Names are upper-cased with '-' and '/' as '_'.
type EnvSource struct{}

func (EnvSource) GetSecret(_ context.Context, name string) (string, error) {
	key := "AUTH_SECRET_" + strings.NewReplacer("-", "_", "/", "_", ".", "_").Replace(strings.ToUpper(name))
	if path := os.Getenv(key + "_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret %s: %w", name, err)
		}
		return string(b), nil
	}
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// ExtensionSource talks to the AWS parameters-and-secrets extension that
// runs next to the function on localhost.
type ExtensionSource struct {
	BaseURL string // e.g. http://localhost:2773
	Token   string // sent as X-Aws-Parameters-Secrets-Token
	Client  *http.Client
}

// NewExtensionSource builds a source for the given extension port.
func NewExtensionSource(port, sessionToken string) *ExtensionSource {
	return &ExtensionSource{
		BaseURL: "http://localhost:" + port,
		Token:   sessionToken,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *ExtensionSource) GetSecret(ctx context.Context, name string) (string, error) {
	endpoint := s.BaseURL + "/secretsmanager/get?secretId=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Aws-Parameters-Secrets-Token", s.Token)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("secrets extension: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("secrets extension: read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("[Secrets] ❌ extension returned %d: %s", resp.StatusCode, util.TruncateBytes(body))
		return "", fmt.Errorf("secrets extension: invalid %d response", resp.StatusCode)
	}

	var out struct {
		SecretString string `json:"SecretString"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("secrets extension: decode: %w", err)
	}
	return out.SecretString, nil
}

// Static is a fixed map of secrets, handy for tests and local runs.
type Static map[string]string

func (s Static) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}
