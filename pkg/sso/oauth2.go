package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

const githubAPI = "https://api.github.com"

// GithubAdapter implements the github provider over plain OAuth2
type GithubAdapter struct {
	baseAdapter

	oauth2Config *oauth2.Config
}

// NewGithubAdapter creates an uninitialized GitHub adapter
func NewGithubAdapter(cfg ProviderConfig, callback string) *GithubAdapter {
	return &GithubAdapter{baseAdapter: baseAdapter{name: ProviderGithub, callback: callback, cfg: cfg}}
}

// Initialize builds the OAuth2 client; GitHub has no discovery document
func (a *GithubAdapter) Initialize(context.Context) error {
	cfg := a.Config()
	if !cfg.Enabled {
		return nil
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("%w: github client id is required", auth.ErrConfiguration)
	}

	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user", "user:email"}
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  a.redirectURL(),
		Scopes:       scopes,
	}

	a.mu.Lock()
	a.oauth2Config = oc
	a.mu.Unlock()
	return nil
}

func (a *GithubAdapter) client() (*oauth2.Config, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.cfg.Enabled {
		return nil, "", ErrDisabled
	}
	if a.oauth2Config == nil {
		return nil, "", fmt.Errorf("%w: github is not initialized", auth.ErrConfiguration)
	}
	api := a.cfg.UserInfoURL
	if api == "" {
		api = githubAPI
	}
	return a.oauth2Config, api, nil
}

// LoginURL returns the GitHub authorize URL
func (a *GithubAdapter) LoginURL(state string) (string, error) {
	oc, _, err := a.client()
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL(state), nil
}

// RefreshToken works only for GitHub apps with expiring user tokens enabled
func (a *GithubAdapter) RefreshToken(ctx context.Context, refreshToken string) (*auth.SSOTokens, error) {
	oc, _, err := a.client()
	if err != nil {
		return nil, err
	}
	return refreshOAuth2(ctx, oc, refreshToken)
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// HandleCallback exchanges the code and reads the user profile
func (a *GithubAdapter) HandleCallback(ctx context.Context, r *http.Request) (*SSOUser, error) {
	oc, api, err := a.client()
	if err != nil {
		return nil, err
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", auth.ErrAuthentication)
	}

	token, err := oc.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange token: %v", auth.ErrAuthentication, err)
	}
	client := oc.Client(ctx, token)

	var profile githubUser
	if err := getJSON(ctx, client, api+"/user", &profile); err != nil {
		return nil, err
	}

	email := profile.Email
	if email == "" {
		// private addresses are only listed on /user/emails
		var emails []githubEmail
		if err := getJSON(ctx, client, api+"/user/emails", &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}
	if email == "" {
		return nil, fmt.Errorf("%w: github account has no verified primary email", auth.ErrAuthentication)
	}

	name := profile.Name
	if name == "" {
		name = profile.Login
	}
	return &SSOUser{
		ExternalID:   strconv.FormatInt(profile.ID, 10),
		Email:        email,
		Name:         name,
		Provider:     ProviderGithub,
		Attributes:   map[string]string{"login": profile.Login},
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}
