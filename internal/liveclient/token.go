package liveclient

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/stockrs-go/tradeengine/internal/apperr"
)

// Token is the persisted OAuth access token, refreshed against the
// brokerage's token endpoint and cached to disk so a restart doesn't
// immediately burn a fresh-token request.
type Token struct {
	AccessToken   string    `json:"access_token"`
	TokenType     string    `json:"token_type"`
	ExpiresInSecs int       `json:"expires_in_seconds"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// IsExpiringSoon reports whether the token expires within skew of now.
func (t Token) IsExpiringSoon(skew time.Duration) bool {
	if t.AccessToken == "" {
		return true
	}
	return time.Now().Add(skew).After(t.ExpiresAt)
}

// LoadToken reads a persisted token file. A missing file is not an error:
// it signals that a fresh token must be requested.
func LoadToken(path string) (*Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindData, "liveclient.LoadToken", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, apperr.Wrap(apperr.KindData, "liveclient.LoadToken", err)
	}
	return &tok, nil
}

// SaveToken persists tok to path, creating parent directories as needed.
func SaveToken(path string, tok Token) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperr.Wrap(apperr.KindData, "liveclient.SaveToken", err)
		}
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindData, "liveclient.SaveToken", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return apperr.Wrap(apperr.KindData, "liveclient.SaveToken", err)
	}
	return nil
}

func newToken(accessToken, tokenType string, expiresInSecs int) Token {
	now := time.Now()
	return Token{
		AccessToken:   accessToken,
		TokenType:     tokenType,
		ExpiresInSecs: expiresInSecs,
		IssuedAt:      now,
		ExpiresAt:     now.Add(time.Duration(expiresInSecs) * time.Second),
	}
}
