package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"

	"ice-broker/internal/domain"
)

// FetchTimeout bounds a single call to the credential service.
const FetchTimeout = 5 * time.Second

const maxPayloadBytes = 1 << 20

// Object keys under which a descriptor array may be nested.
var payloadArrayKeys = []string{"iceServers", "ice_servers"}

// Fetcher obtains a fresh credential set from the external service.
type Fetcher interface {
	Fetch(ctx context.Context) (domain.CredentialSet, error)
	Configured() bool
}

// HTTPFetcher calls GET <endpoint>?apiKey=<key>.
type HTTPFetcher struct {
	endpoint string
	apiKey   string
	client   *http.Client
	clock    clock.Clock
	timeout  time.Duration
}

func NewHTTPFetcher(endpoint, apiKey string, client *http.Client, clk clock.Clock) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    4,
				IdleConnTimeout: 30 * time.Second,
			},
		}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &HTTPFetcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
		clock:    clk,
		timeout:  FetchTimeout,
	}
}

// Configured reports whether an API key and endpoint are present.
func (f *HTTPFetcher) Configured() bool {
	return f.apiKey != "" && f.endpoint != ""
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (domain.CredentialSet, error) {
	if !f.Configured() {
		return domain.CredentialSet{}, &domain.FetchError{Kind: domain.ErrNotConfigured}
	}

	u, err := url.Parse(f.endpoint)
	if err != nil {
		return domain.CredentialSet{}, &domain.FetchError{Kind: domain.ErrNotConfigured, Err: fmt.Errorf("parse endpoint: %w", err)}
	}
	q := u.Query()
	q.Set("apiKey", f.apiKey)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.CredentialSet{}, &domain.FetchError{Kind: domain.ErrServiceError, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.CredentialSet{}, f.transportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadBytes))
		return domain.CredentialSet{}, &domain.FetchError{Kind: domain.ErrServiceError, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return domain.CredentialSet{}, f.transportError(ctx, err)
	}

	servers, err := ParsePayload(body)
	if err != nil {
		return domain.CredentialSet{}, err
	}
	return domain.CredentialSet{Servers: servers, FetchedAt: f.clock.Now()}, nil
}

func (f *HTTPFetcher) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.FetchError{Kind: domain.ErrTimeout, Err: err}
	}
	return &domain.FetchError{Kind: domain.ErrServiceError, Err: err}
}

type wireServer struct {
	URLs       json.RawMessage `json:"urls"`
	URL        string          `json:"url"`
	Username   string          `json:"username"`
	Credential string          `json:"credential"`
}

// ParsePayload accepts either a bare array of ICE server objects or an
// object holding that array under a known key. Entries without any URI are
// skipped; an empty result is not an error.
func ParsePayload(body []byte) ([]domain.ServerDescriptor, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, invalidPayload(errors.New("empty body"))
	}

	var raw []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, invalidPayload(err)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, invalidPayload(err)
		}
		found := false
		for _, key := range payloadArrayKeys {
			v, ok := obj[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(v, &raw); err != nil || raw == nil {
				return nil, invalidPayload(fmt.Errorf("field %q is not an array", key))
			}
			found = true
			break
		}
		if !found {
			return nil, invalidPayload(errors.New("no ice server array in object"))
		}
	default:
		return nil, invalidPayload(errors.New("body is neither an array nor an object"))
	}

	servers := make([]domain.ServerDescriptor, 0, len(raw))
	for i, item := range raw {
		if len(item) == 0 || item[0] != '{' {
			return nil, invalidPayload(fmt.Errorf("entry %d is not an object", i))
		}
		var ws wireServer
		if err := json.Unmarshal(item, &ws); err != nil {
			return nil, invalidPayload(fmt.Errorf("entry %d: %w", i, err))
		}
		uris, err := decodeURLs(ws)
		if err != nil {
			return nil, invalidPayload(fmt.Errorf("entry %d: %w", i, err))
		}
		if len(uris) == 0 {
			continue
		}
		servers = append(servers, domain.NewServerDescriptor(uris, ws.Username, ws.Credential))
	}
	return servers, nil
}

func decodeURLs(ws wireServer) ([]string, error) {
	var uris []string
	raw := bytes.TrimSpace(ws.URLs)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		uris = append(uris, s)
	case raw[0] == '[':
		if err := json.Unmarshal(raw, &uris); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("urls must be a string or an array of strings")
	}
	if ws.URL != "" {
		uris = append(uris, ws.URL)
	}

	out := uris[:0]
	for _, u := range uris {
		if u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func invalidPayload(err error) error {
	return &domain.FetchError{Kind: domain.ErrInvalidPayload, Err: err}
}
