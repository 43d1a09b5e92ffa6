package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stretchr/testify/suite"

	"seance/access"
)

// BaseHTTPSuite carries the shared plumbing of the end-to-end scenarios:
// target address, a client with sane timeouts, and self-minted identity
// tokens accepted by the target engine.
type BaseHTTPSuite struct {
	suite.Suite
	Config Config
	Client *http.Client
	tokens *access.TokenService
}

func (s *BaseHTTPSuite) SetupSuite() {
	cfg, err := LoadConfig()
	s.Require().NoError(err)
	if cfg.SeanceAddr == "" {
		s.T().Skip("SEANCE_ADDR not set, skipping end-to-end suite")
	}
	s.Require().NotEmpty(cfg.IdentitySecret, "E2E_IDENTITY_SECRET is required to mint tokens")

	s.Config = cfg
	s.Client = &http.Client{Timeout: 10 * time.Second}
	s.tokens = access.NewTokenService([]byte(cfg.IdentitySecret), []byte(cfg.IdentitySecret), time.Minute)
}

// Token mints an identity token for the given user, signed the way the
// target's identity provider would.
func (s *BaseHTTPSuite) Token(userID string) string {
	token, err := s.tokens.MintIdentityToken(
		access.Identity{UserID: userID, DisplayName: "e2e " + userID}, 5*time.Minute)
	s.Require().NoError(err)
	return token
}

// DoJSON performs one authenticated request and decodes the response body
// into out (when out is non-nil). It returns the status code.
func (s *BaseHTTPSuite) DoJSON(userID, method, path string, body, out any) int {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		if s.Config.DebugJSON {
			s.T().Logf(">> %s %s %s", method, path, raw)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.Config.SeanceAddr+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+s.Token(userID))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	if s.Config.DebugJSON {
		s.T().Logf("<< %d %s", resp.StatusCode, raw)
	}
	if out != nil {
		s.Require().NoError(json.Unmarshal(raw, out),
			fmt.Sprintf("undecodable response body: %s", raw))
	}
	return resp.StatusCode
}
