package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DirectoryAccount is one account as the external directory reports it.
type DirectoryAccount struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

// DirectoryService resolves accounts against the external user
// directory. Identity and authentication live there; this service only
// reads.
type DirectoryService interface {
	ResolveByID(ctx context.Context, directoryUserID int64) (*DirectoryAccount, error)
	ResolveByEmail(ctx context.Context, email string) (*DirectoryAccount, error)
	ListByRole(ctx context.Context, role string) ([]DirectoryAccount, error)
}

type HTTPDirectoryService struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPDirectoryService(baseURL, token string) *HTTPDirectoryService {
	return &HTTPDirectoryService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: http.DefaultClient,
	}
}

func (s *HTTPDirectoryService) ResolveByID(ctx context.Context, directoryUserID int64) (*DirectoryAccount, error) {
	var account DirectoryAccount
	endpoint := fmt.Sprintf("%s/users/%d", s.baseURL, directoryUserID)
	if err := s.get(ctx, endpoint, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *HTTPDirectoryService) ResolveByEmail(ctx context.Context, email string) (*DirectoryAccount, error) {
	var accounts []DirectoryAccount
	endpoint := fmt.Sprintf("%s/users?email=%s", s.baseURL, url.QueryEscape(email))
	if err := s.get(ctx, endpoint, &accounts); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("directory account not found: %w", ErrNotFound)
	}
	return &accounts[0], nil
}

func (s *HTTPDirectoryService) ListByRole(ctx context.Context, role string) ([]DirectoryAccount, error) {
	var accounts []DirectoryAccount
	endpoint := fmt.Sprintf("%s/users?role=%s", s.baseURL, url.QueryEscape(role))
	if err := s.get(ctx, endpoint, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *HTTPDirectoryService) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("directory account not found: %w", ErrNotFound)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("directory request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	return nil
}

// HeaderDirectoryService trusts identity headers set by the upstream
// proxy. Used when the directory has no queryable API; every resolve
// echoes back what the proxy asserted.
type HeaderDirectoryService struct{}

func NewHeaderDirectoryService() *HeaderDirectoryService {
	return &HeaderDirectoryService{}
}

func (s *HeaderDirectoryService) ResolveByID(_ context.Context, directoryUserID int64) (*DirectoryAccount, error) {
	return &DirectoryAccount{ID: directoryUserID, DisplayName: "user " + strconv.FormatInt(directoryUserID, 10)}, nil
}

func (s *HeaderDirectoryService) ResolveByEmail(_ context.Context, email string) (*DirectoryAccount, error) {
	return nil, fmt.Errorf("email lookup unavailable without a directory API: %w", ErrNotFound)
}

func (s *HeaderDirectoryService) ListByRole(_ context.Context, _ string) ([]DirectoryAccount, error) {
	return []DirectoryAccount{}, nil
}
