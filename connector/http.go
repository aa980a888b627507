package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/spf13/cast"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/baldanca/log-puller/catalog"
)

// TypeHTTP is the connector type tag served by the HTTP puller.
const TypeHTTP = "http"

// SecretProvider hands out secret material by ref. Implemented by
// secrets.Cache.
type SecretProvider interface {
	Get(ctx context.Context, ref string) (map[string]string, error)
}

// HTTP is a generic authenticated HTTP poll puller. Per-source behavior is
// driven entirely by pull context properties:
//
//	endpoint            URL to poll (required)
//	auth_header         header carrying the credential (default Authorization)
//	auth_scheme         prefix for the credential value, e.g. Bearer
//	secret_key          field of the secret holding the token (default api_key)
//	rate_limit_per_sec  polite-polling cap, 0 or unset means unlimited
//	max_attempts        internal retry budget for transient errors (default 3)
//	timeout_secs        per-attempt timeout (default 30)
//
// The puller is safe for concurrent use across sources; per-source rate
// limiters are created lazily and kept for the process lifetime.
type HTTP struct {
	client  *http.Client
	secrets SecretProvider
	log     *zap.Logger

	mu       sync.Mutex
	limiters map[string]ratelimit.Limiter
}

func NewHTTP(client *http.Client, secrets SecretProvider, log *zap.Logger) *HTTP {
	if client == nil {
		panic("http client is required")
	}
	if secrets == nil {
		panic("secret provider is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTP{
		client:   client,
		secrets:  secrets,
		log:      log,
		limiters: make(map[string]ratelimit.Limiter),
	}
}

func (h *HTTP) Pull(ctx context.Context, pc *catalog.PullContext) ([]byte, error) {
	endpoint := pc.Properties["endpoint"]
	if endpoint == "" {
		return nil, fmt.Errorf("log source %q has no endpoint property", pc.SourceName)
	}

	token, err := h.token(ctx, pc)
	if err != nil {
		return nil, err
	}

	attempts := cast.ToInt(pc.Properties["max_attempts"])
	if attempts < 1 {
		attempts = 3
	}
	timeout := time.Duration(cast.ToInt(pc.Properties["timeout_secs"])) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	h.limiter(pc).Take()

	delay := &backoff.Backoff{
		Min:    200 * time.Millisecond,
		Max:    5 * time.Second,
		Jitter: true,
	}

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, retryable, err := h.attempt(ctx, pc, endpoint, token, timeout)
		if err == nil {
			return data, nil
		}
		last = err
		if !retryable {
			return nil, err
		}

		if i < attempts-1 {
			h.log.Debug("retrying pull",
				zap.String("log_source", pc.SourceName), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay.Duration()):
			}
		}
	}
	return nil, fmt.Errorf("pull %q: attempts exhausted: %w", pc.SourceName, last)
}

func (h *HTTP) attempt(ctx context.Context, pc *catalog.PullContext, endpoint, token string, timeout time.Duration) (data []byte, retryable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request for %q: %w", pc.SourceName, err)
	}
	if token != "" {
		header := pc.Properties["auth_header"]
		if header == "" {
			header = "Authorization"
		}
		if scheme := pc.Properties["auth_scheme"]; scheme != "" {
			token = scheme + " " + token
		}
		req.Header.Set(header, token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("poll %q: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("read response from %q: %w", endpoint, err)
		}
		return body, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("poll %q: status %d", endpoint, resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("poll %q: status %d", endpoint, resp.StatusCode)
	}
}

func (h *HTTP) token(ctx context.Context, pc *catalog.PullContext) (string, error) {
	if pc.SecretRef == "" {
		return "", nil
	}
	sec, err := h.secrets.Get(ctx, pc.SecretRef)
	if err != nil {
		return "", fmt.Errorf("credentials for %q: %w", pc.SourceName, err)
	}
	key := pc.Properties["secret_key"]
	if key == "" {
		key = "api_key"
	}
	token, ok := sec[key]
	if !ok {
		return "", fmt.Errorf("secret for %q has no %q field", pc.SourceName, key)
	}
	return token, nil
}

func (h *HTTP) limiter(pc *catalog.PullContext) ratelimit.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	if l, ok := h.limiters[pc.SourceName]; ok {
		return l
	}
	var l ratelimit.Limiter
	if rps := cast.ToInt(pc.Properties["rate_limit_per_sec"]); rps > 0 {
		l = ratelimit.New(rps)
	} else {
		l = ratelimit.NewUnlimited()
	}
	h.limiters[pc.SourceName] = l
	return l
}
