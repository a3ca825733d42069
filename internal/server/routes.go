package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/primal-pds/internal/account"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// --- Public endpoints (no auth) ---
	s.echo.GET("/xrpc/_health", s.handleHealth)
	s.echo.GET("/.well-known/atproto-did", s.handleAtprotoDID)

	s.echo.GET("/xrpc/com.atproto.server.describeServer", s.handleDescribeServer)
	s.echo.POST("/xrpc/com.atproto.server.createSession", s.handleCreateSession)
	s.echo.GET("/xrpc/com.atproto.identity.resolveHandle", s.handleResolveHandle)

	s.echo.GET("/xrpc/com.atproto.repo.getRecord", s.handleGetRecord)
	s.echo.GET("/xrpc/com.atproto.repo.listRecords", s.handleListRecords)
	s.echo.GET("/xrpc/com.atproto.repo.describeRepo", s.handleDescribeRepo)

	s.echo.GET("/xrpc/com.atproto.sync.getLatestCommit", s.handleGetLatestCommit)
	s.echo.GET("/xrpc/com.atproto.sync.getRepo", s.handleGetRepo)
	s.echo.GET("/xrpc/com.atproto.sync.subscribeRepos", s.handleSubscribeRepos)
	s.echo.GET("/xrpc/com.atproto.sync.getBlob", s.handleGetBlob)
	s.echo.POST("/xrpc/com.atproto.sync.requestCrawl", s.handleRequestCrawl)

	// --- Authenticated endpoints (admin key or JWT access token) ---
	authed := s.echo.Group("", s.requireAuth)
	authed.GET("/xrpc/com.atproto.server.getSession", s.handleGetSession)
	authed.POST("/xrpc/com.atproto.server.deleteSession", s.handleDeleteSession)
	authed.POST("/xrpc/com.atproto.repo.createRecord", s.handleCreateRecord)
	authed.POST("/xrpc/com.atproto.repo.putRecord", s.handlePutRecord)
	authed.POST("/xrpc/com.atproto.repo.deleteRecord", s.handleDeleteRecord)
	authed.POST("/xrpc/com.atproto.repo.applyWrites", s.handleApplyWrites)
	authed.POST("/xrpc/com.atproto.sync.updateRepo", s.handleUpdateRepo)
	authed.POST("/xrpc/com.atproto.repo.uploadBlob", s.handleUploadBlob)

	// --- Refresh-token-only endpoint ---
	s.echo.POST("/xrpc/com.atproto.server.refreshSession", s.handleRefreshSession, s.requireRefresh)

	// --- Admin namespace: operator account management ---
	admin := s.echo.Group("", s.adminAuth)
	admin.POST("/xrpc/com.atproto.server.createAccount", s.handleCreateAccountXRPC)
	admin.GET("/xrpc/host.primal.pds.listAccounts", s.handleListAccounts)
	admin.GET("/xrpc/host.primal.pds.getAccount", s.handleGetAccount)
	admin.POST("/xrpc/host.primal.pds.deleteAccount", s.handleDeleteAccount)
}

// =====================================================================
// Public endpoints
// =====================================================================

// handleHealth returns basic server health information.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version": "0.3.0",
	})
}

// handleAtprotoDID resolves a DID for the handle implied by the Host
// header. The Host header (e.g., "alice.pds.example.com") is looked up
// in the account index to find the corresponding DID.
func (s *Server) handleAtprotoDID(c echo.Context) error {
	handle := stripPort(c.Request().Host)

	did, err := s.accounts.ResolveHandle(c.Request().Context(), handle)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error":   "AccountNotFound",
				"message": "No account found for handle: " + handle,
			})
		}
		log.Printf("Error resolving handle %q: %v", handle, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to resolve handle",
		})
	}

	return c.String(http.StatusOK, did)
}

// =====================================================================
// Admin account management (host.primal.pds.*)
// =====================================================================

// handleListAccounts returns every account hosted by this server.
func (s *Server) handleListAccounts(c echo.Context) error {
	accounts, err := s.accounts.List(c.Request().Context())
	if err != nil {
		log.Printf("Error listing accounts: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to list accounts",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"accounts": accounts,
	})
}

// handleGetAccount retrieves an account by handle or DID.
// Query parameters: ?handle=alice.pds.example.com or ?did=did:plc:...
func (s *Server) handleGetAccount(c echo.Context) error {
	ctx := c.Request().Context()
	handle := c.QueryParam("handle")
	did := c.QueryParam("did")

	if handle == "" && did == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "handle or did query parameter is required",
		})
	}

	var acct *account.Account
	var err error
	if handle != "" {
		acct, err = s.accounts.GetByHandle(ctx, handle)
	} else {
		acct, err = s.accounts.GetByDID(ctx, did)
	}
	if err != nil {
		return accountError(c, err, handle+did)
	}
	return c.JSON(http.StatusOK, acct)
}

type deleteAccountRequest struct {
	DID string `json:"did"`
}

// handleDeleteAccount permanently removes an account. It does not remove
// the account's block-store data — repositories are immutable history,
// not something a single admin request should silently erase.
func (s *Server) handleDeleteAccount(c echo.Context) error {
	var req deleteAccountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "Invalid JSON body",
		})
	}

	if req.DID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "did is required",
		})
	}

	if err := s.accounts.Delete(c.Request().Context(), req.DID); err != nil {
		return accountError(c, err, req.DID)
	}

	log.Printf("Account deleted: %s", req.DID)
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Account deleted: " + req.DID,
	})
}

// =====================================================================
// Helpers
// =====================================================================

// accountError maps account package errors to HTTP responses.
func accountError(c echo.Context, err error, handle string) error {
	switch {
	case errors.Is(err, account.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error":   "AccountNotFound",
			"message": "Account not found: " + handle,
		})
	default:
		log.Printf("Error on account %q: %v", handle, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to process account request",
		})
	}
}

// stripPort removes the port suffix from a host string.
func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

// isDuplicateKey checks whether an error is a PostgreSQL unique
// constraint violation (error code 23505).
func isDuplicateKey(err error) bool {
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "unique constraint")
}
