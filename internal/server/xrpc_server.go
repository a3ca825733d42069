package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/primal-pds/internal/account"
)

// handleDescribeServer returns server metadata.
// GET /xrpc/com.atproto.server.describeServer
func (s *Server) handleDescribeServer(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"did":                "did:web:" + s.cfg.ServiceHost,
		"availableUserDomains": []string{"." + s.cfg.ServiceHost},
		"inviteCodeRequired":   true, // account creation is admin-gated, see routes.go
	})
}

// handleCreateSession authenticates a user by handle/DID + password and
// returns a JWT token pair.
// POST /xrpc/com.atproto.server.createSession
func (s *Server) handleCreateSession(c echo.Context) error {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "Invalid JSON body",
		})
	}

	if req.Identifier == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "identifier and password are required",
		})
	}

	ctx := c.Request().Context()

	handle := strings.ToLower(strings.TrimSpace(req.Identifier))
	if strings.HasPrefix(req.Identifier, "did:") {
		acct, err := s.accounts.GetByDID(ctx, req.Identifier)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "AuthenticationRequired",
				"message": "Invalid identifier or password",
			})
		}
		handle = acct.Handle
	}

	acct, err := s.accounts.VerifyPassword(ctx, handle, req.Password)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "AuthenticationRequired",
			"message": "Invalid identifier or password",
		})
	}

	tokens, err := s.jwt.CreateTokenPair(acct.DID)
	if err != nil {
		log.Printf("Error creating tokens for %s: %v", acct.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to create session",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"did":        acct.DID,
		"handle":     acct.Handle,
		"email":      acct.Email,
		"accessJwt":  tokens.AccessJwt,
		"refreshJwt": tokens.RefreshJwt,
	})
}

// handleRefreshSession issues a new token pair from a valid refresh token.
// POST /xrpc/com.atproto.server.refreshSession
func (s *Server) handleRefreshSession(c echo.Context) error {
	ac := getAuth(c)
	if ac == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "AuthRequired",
			"message": "Refresh token required",
		})
	}

	ctx := c.Request().Context()
	acct, err := s.accounts.GetByDID(ctx, ac.DID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "InvalidToken",
			"message": "Account not found",
		})
	}

	tokens, err := s.jwt.CreateTokenPair(ac.DID)
	if err != nil {
		log.Printf("Error refreshing tokens for %s: %v", ac.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to refresh session",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"did":        acct.DID,
		"handle":     acct.Handle,
		"accessJwt":  tokens.AccessJwt,
		"refreshJwt": tokens.RefreshJwt,
	})
}

// handleGetSession returns the current session info for a valid access token.
// GET /xrpc/com.atproto.server.getSession
func (s *Server) handleGetSession(c echo.Context) error {
	ac := getAuth(c)
	if ac == nil || (ac.DID == "" && !ac.IsAdmin) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "AuthRequired",
			"message": "Access token required",
		})
	}

	if ac.IsAdmin && ac.DID == "" {
		return c.JSON(http.StatusOK, map[string]any{
			"did":    "",
			"handle": "admin",
		})
	}

	ctx := c.Request().Context()
	acct, err := s.accounts.GetByDID(ctx, ac.DID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error":   "AccountNotFound",
				"message": "Account not found",
			})
		}
		log.Printf("Error getting session account %s: %v", ac.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to get session",
		})
	}

	resp := map[string]any{
		"did":    acct.DID,
		"handle": acct.Handle,
		"email":  acct.Email,
	}

	if acct.SigningKey != "" {
		doc, err := account.BuildDIDDocument(acct.DID, acct.Handle, acct.SigningKey, s.cfg.ServiceHost)
		if err == nil {
			resp["didDoc"] = map[string]any{
				"@context":           doc.Context,
				"id":                 doc.ID,
				"alsoKnownAs":        doc.AlsoKnownAs,
				"verificationMethod": doc.VerificationMethod,
				"service":            doc.Service,
			}
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// handleDeleteSession is a no-op for the stateless JWT design. Clients
// should discard tokens locally.
// POST /xrpc/com.atproto.server.deleteSession
func (s *Server) handleDeleteSession(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// handleCreateAccountXRPC creates a new account. Gated by the admin key
// (routes.go registers this under the admin-only group) — this server
// has no open self-registration or invite-code flow.
// POST /xrpc/com.atproto.server.createAccount
func (s *Server) handleCreateAccountXRPC(c echo.Context) error {
	var req struct {
		Handle      string `json:"handle"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		RecoveryKey string `json:"recoveryKey"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "Invalid JSON body",
		})
	}

	req.Handle = strings.TrimSpace(strings.ToLower(req.Handle))
	if req.Handle == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "handle and password are required",
		})
	}

	ctx := c.Request().Context()
	acct, err := s.accounts.Create(ctx, account.CreateParams{
		Handle:      req.Handle,
		Email:       req.Email,
		Password:    req.Password,
		RecoveryKey: req.RecoveryKey,
	})
	if err != nil {
		if isDuplicateKey(err) {
			return c.JSON(http.StatusConflict, map[string]string{
				"error":   "HandleTaken",
				"message": "Handle already taken: " + req.Handle,
			})
		}
		log.Printf("Error creating account %q: %v", req.Handle, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to create account",
		})
	}

	signingKey, err := acct.SigningPrivateKey()
	if err != nil {
		log.Printf("Error parsing signing key for new account %s: %v", acct.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Account created but repo initialization failed",
		})
	}
	if err := s.repos.InitRepo(ctx, acct.DID, signingKey); err != nil {
		log.Printf("Warning: failed to init repo for %s: %v", acct.DID, err)
	}

	tokens, err := s.jwt.CreateTokenPair(acct.DID)
	if err != nil {
		log.Printf("Error creating tokens for new account %s: %v", acct.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Account created but failed to generate session tokens",
		})
	}

	log.Printf("Account created: %s (did: %s)", acct.Handle, acct.DID)

	return c.JSON(http.StatusOK, map[string]any{
		"did":        acct.DID,
		"handle":     acct.Handle,
		"accessJwt":  tokens.AccessJwt,
		"refreshJwt": tokens.RefreshJwt,
	})
}
