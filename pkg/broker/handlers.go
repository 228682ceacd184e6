package broker

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/telekom/authcoord/pkg/apiresponses"
	"github.com/telekom/authcoord/pkg/coordinator"
	"github.com/telekom/authcoord/pkg/system"
)

// TokenResponse is the body of a successful token request.
type TokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresOn   time.Time       `json:"expires_on"`
	ExpiresIn   int64           `json:"expires_in"`
	Scopes      []string        `json:"scopes,omitempty"`
	Account     AccountResponse `json:"account"`
}

type AccountResponse struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
}

// InteractiveRequest is the optional body of POST /v1/interactive.
type InteractiveRequest struct {
	Scopes []string `json:"scopes"`
}

type SignOutResponse struct {
	Status string `json:"status"`
}

func (s *Server) getToken(c *gin.Context) {
	scopes := s.requestScopes(c.QueryArray("scope"))
	log := system.EnrichReqLoggerWithScopes(c, system.GetReqLogger(c, s.log), scopes)

	result, err := s.coord.AcquireSilent(c.Request.Context(), scopes)
	if err != nil {
		apiresponses.RespondError(c, err, log)
		return
	}
	s.respondToken(c, result)
}

func (s *Server) postInteractive(c *gin.Context) {
	var req InteractiveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apiresponses.RespondBadRequest(c, "invalid JSON body")
			return
		}
	}
	scopes := s.requestScopes(req.Scopes)
	log := system.EnrichReqLoggerWithScopes(c, system.GetReqLogger(c, s.log), scopes)
	log.Infow("Interactive sign-in requested by local client")

	result, err := s.coord.AcquireInteractive(c.Request.Context(), scopes)
	if err != nil {
		apiresponses.RespondError(c, err, log)
		return
	}
	s.respondToken(c, result)
}

func (s *Server) postSignOut(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)
	if err := s.coord.SignOut(c.Request.Context()); err != nil {
		apiresponses.RespondError(c, err, log)
		return
	}
	c.JSON(http.StatusOK, SignOutResponse{Status: "signed_out"})
}

// requestScopes accepts repeated and space separated values and falls back
// to the configured scopes.
func (s *Server) requestScopes(raw []string) []string {
	var scopes []string
	for _, v := range raw {
		scopes = append(scopes, strings.Fields(v)...)
	}
	if len(scopes) == 0 && len(raw) == 0 {
		return s.coord.Scopes()
	}
	return scopes
}

func (s *Server) respondToken(c *gin.Context, result *coordinator.TokenResult) {
	expiresIn := int64(time.Until(result.ExpiresOn).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresOn:   result.ExpiresOn,
		ExpiresIn:   expiresIn,
		Scopes:      result.Scopes,
		Account: AccountResponse{
			ID:       result.Account.ID,
			Username: result.Account.Username,
			Issuer:   result.Account.Issuer,
		},
	})
}
