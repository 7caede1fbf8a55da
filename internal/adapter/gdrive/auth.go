package gdrive

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/Ning0612/bulkupload/internal/domain"
)

// ErrNoToken is returned when no usable token is stored
var ErrNoToken = errors.New("no Google Drive token, run 'bulkupload auth' first")

// token is the on-disk form of an OAuth2 token
type token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

func (t *token) toOAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

func fromOAuth2(t *oauth2.Token) *token {
	return &token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// Authenticator obtains and stores the OAuth2 token used by the adapter
type Authenticator struct {
	config    *oauth2.Config
	tokenPath string
}

// NewAuthenticator creates an authenticator storing its token at tokenPath
func NewAuthenticator(clientID, clientSecret, tokenPath string) (*Authenticator, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: gdrive.client_id and gdrive.client_secret are required", domain.ErrConfigInvalid)
	}
	if tokenPath == "" {
		return nil, fmt.Errorf("%w: no token file configured", domain.ErrConfigInvalid)
	}

	return &Authenticator{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			// only files created by this application are visible to it
			Scopes:      []string{drive.DriveFileScope},
			Endpoint:    google.Endpoint,
			RedirectURL: "http://127.0.0.1",
		},
		tokenPath: tokenPath,
	}, nil
}

// TokenSource returns a source that refreshes the stored token as needed
// and writes refreshed tokens back to disk
func (a *Authenticator) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := a.loadToken()
	if err != nil {
		return nil, err
	}
	if !tok.Valid() && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &savingSource{
		auth: a,
		src:  a.config.TokenSource(ctx, tok),
		last: tok.AccessToken,
	}, nil
}

// savingSource persists a token whenever the wrapped source refreshed it
type savingSource struct {
	auth *Authenticator
	src  oauth2.TokenSource
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh Google Drive token: %w", err)
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.auth.saveToken(tok); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
	}
	return tok, nil
}

func generateRandomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Authenticate runs the authorization code flow: it prints the consent
// URL to out, reads the code from in and stores the resulting token.
func (a *Authenticator) Authenticate(ctx context.Context, in io.Reader, out io.Writer) error {
	state, err := generateRandomState()
	if err != nil {
		return fmt.Errorf("failed to generate state: %w", err)
	}

	authURL := a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "To let bulkupload write to Google Drive:\n\n")
	fmt.Fprintf(out, "1. Visit this URL:\n   %s\n\n", authURL)
	fmt.Fprintf(out, "2. Sign in and authorize the application\n\n")
	fmt.Fprintf(out, "3. The browser then opens a 127.0.0.1 address that does not load;\n   copy the value of its code parameter\n\n")
	fmt.Fprintf(out, "Enter authorization code: ")

	code, err := bufio.NewReader(in).ReadString('\n')
	code = strings.TrimSpace(code)
	if code == "" {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: no authorization code: %v", domain.ErrInvalidChoice, err)
	}

	tok, err := a.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}
	if err := a.saveToken(tok); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Fprintf(out, "\nAuthorized. Token saved to %s\n", a.tokenPath)
	return nil
}

func (a *Authenticator) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}

	var t token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", a.tokenPath, err)
	}
	return t.toOAuth2(), nil
}

// saveToken writes the token atomically with owner-only permissions
func (a *Authenticator) saveToken(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(a.tokenPath), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fromOAuth2(tok), "", "  ")
	if err != nil {
		return err
	}

	tempPath := a.tokenPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp token file: %w", err)
	}
	if err := os.Rename(tempPath, a.tokenPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename token file: %w", err)
	}
	return nil
}

// TokenPath returns the path where the token is stored
func (a *Authenticator) TokenPath() string {
	return a.tokenPath
}
