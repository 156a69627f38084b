package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const defaultVersion = "latest"

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references through Google Secret Manager with an
// in-process cache. References take the form "name" or "name@version" and are
// resolved inside the configured project.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClient injects a pre-built Secret Manager client (tests).
func WithClient(client secretManagerClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher constructs a Fetcher bound to the given project.
func NewFetcher(ctx context.Context, projectID string, opts ...Option) (*Fetcher, error) {
	fetcher := &Fetcher{
		projectID: strings.TrimSpace(projectID),
		logger:    zap.NewNop(),
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(fetcher)
	}

	if fetcher.projectID == "" {
		return nil, errors.New("secrets: project id is required")
	}

	if fetcher.client == nil {
		client, err := secretmanager.NewClient(ctx, []option.ClientOption(nil)...)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		fetcher.client = client
		fetcher.ownsClient = true
	}

	return fetcher, nil
}

// ResolveSecret fetches and caches the secret payload for the given reference.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name, version := splitRef(ref)
	if name == "" {
		return "", errors.New("secrets: secret name is required")
	}

	key := name + "@" + version
	f.mu.RLock()
	cached, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		return cached, nil
	}

	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.projectID, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resource,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}

	value := string(resp.GetPayload().GetData())

	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()

	f.logger.Debug("secret resolved", zap.String("secret", name), zap.String("version", version))
	return value, nil
}

// Close releases the underlying client when owned by the fetcher.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

func splitRef(ref string) (name, version string) {
	ref = strings.TrimSpace(ref)
	if at := strings.LastIndex(ref, "@"); at >= 0 {
		return strings.TrimSpace(ref[:at]), strings.TrimSpace(ref[at+1:])
	}
	return ref, defaultVersion
}
