package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// ExternalProfile is the provider-neutral view of a federated identity.
// ID is the provider's stable account id; Login and Name may change.
type ExternalProfile struct {
	ID        string
	Login     string
	Name      string
	Email     string
	AvatarURL string
}

// Provider is one OAuth 2.0 identity provider. The identity service only
// depends on this interface, so tests swap in a fake without any HTTP.
type Provider interface {
	// Name is the value stored in users.oauth_provider, e.g. "github".
	Name() string
	// AuthURL returns the provider authorization URL carrying state.
	AuthURL(state string) string
	// Exchange trades an authorization code for the user's profile.
	Exchange(ctx context.Context, code string) (*ExternalProfile, error)
}

// ErrProvider wraps every failure talking to an OAuth provider.
var ErrProvider = errors.New("auth: oauth provider error")

const githubAPIURL = "https://api.github.com"

// githubUser is the portion of the GitHub /user API response we care about.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	ID        int64  `json:"id"`    // stable, never changes
	Login     string `json:"login"` // GitHub username, e.g. "octocat"
	Name      string `json:"name"`
	Email     string `json:"email"` // empty if hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. We redirect the browser to GitHub with our ClientID and a random state.
//  2. The user approves on GitHub.
//  3. GitHub redirects back to our callback with a short-lived "code".
//  4. We exchange the code for an access token (server-to-server, using ClientSecret).
//  5. We call the GitHub API with that token for the user profile.
type GitHubProvider struct {
	config *oauth2.Config
	apiURL string
}

// GitHubOption customizes a GitHubProvider.
type GitHubOption func(*GitHubProvider)

// WithGitHubEndpoint points the authorize and token URLs elsewhere (tests, GHES).
func WithGitHubEndpoint(endpoint oauth2.Endpoint) GitHubOption {
	return func(p *GitHubProvider) { p.config.Endpoint = endpoint }
}

// WithGitHubAPIURL overrides https://api.github.com.
func WithGitHubAPIURL(apiURL string) GitHubOption {
	return func(p *GitHubProvider) { p.apiURL = strings.TrimRight(apiURL, "/") }
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
//
// redirectURL must match the "Authorization callback URL" registered for the
// OAuth App exactly, e.g. "http://localhost:8000/api/oauth/callback/github".
func NewGitHubProvider(clientID, clientSecret, redirectURL string, opts ...GitHubOption) *GitHubProvider {
	p := &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiURL: githubAPIURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GitHubProvider) Name() string { return "github" }

// AuthURL returns the URL to redirect the user to for authorization.
// The caller stores state in a cookie and compares it on the callback (CSRF).
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the OAuth flow: code → access token → GitHub profile.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*ExternalProfile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchanging code: %w", ErrProvider, err)
	}

	// oauth2.Config.Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building /user request: %w", ErrProvider, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling /user: %w", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: /user returned status %d", ErrProvider, resp.StatusCode)
	}

	var gh githubUser
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return nil, fmt.Errorf("%w: decoding /user response: %w", ErrProvider, err)
	}
	if gh.ID == 0 {
		return nil, fmt.Errorf("%w: GitHub returned an invalid user (ID = 0)", ErrProvider)
	}

	return &ExternalProfile{
		ID:        strconv.FormatInt(gh.ID, 10),
		Login:     gh.Login,
		Name:      gh.Name,
		Email:     gh.Email,
		AvatarURL: gh.AvatarURL,
	}, nil
}
