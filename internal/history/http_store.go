package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 5 * time.Second

// ErrUnexpectedStatus indicates a non-success response from the history endpoint.
var ErrUnexpectedStatus = errors.New("history: unexpected status")

// HTTPStoreConfig describes the remote history endpoint.
type HTTPStoreConfig struct {
	BaseURL     string
	AccessToken string
	Client      *http.Client
}

// HTTPStore reads and writes stacks through the server's history endpoint.
type HTTPStore struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// NewHTTPStore constructs a remote store rooted at BaseURL (e.g. http://host:8080).
func NewHTTPStore(cfg HTTPStoreConfig) (*HTTPStore, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("history: base url required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPStore{baseURL: base, accessToken: cfg.AccessToken, client: client}, nil
}

// Load implements Store.
func (h *HTTPStore) Load(ctx context.Context, key Key) (Stack, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint(key), http.NoBody)
	if err != nil {
		return Stack{}, err
	}
	response, err := h.do(request)
	if err != nil {
		return Stack{}, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return Stack{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}
	var stack Stack
	if err := json.NewDecoder(response.Body).Decode(&stack); err != nil {
		return Stack{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return stack.Clone(), nil
}

// Save implements Store.
func (h *HTTPStore) Save(ctx context.Context, key Key, stack Stack) error {
	encoded, err := EncodeStack(stack)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, h.endpoint(key), bytes.NewBufferString(encoded))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := h.do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNoContent && response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}
	return nil
}

func (h *HTTPStore) endpoint(key Key) string {
	return h.baseURL + "/rooms/" + url.PathEscape(key.RoomID) + "/history/" + url.PathEscape(key.UserID)
}

func (h *HTTPStore) do(request *http.Request) (*http.Response, error) {
	if h.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+h.accessToken)
	}
	return h.client.Do(request)
}
