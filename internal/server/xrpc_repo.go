package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/primal-pds/internal/account"
	"github.com/primal-host/primal-pds/internal/apperr"
	"github.com/primal-host/primal-pds/internal/events"
	"github.com/primal-host/primal-pds/internal/repo"

	"github.com/ipfs/go-cid"
)

// resolveRepo resolves a "repo" parameter (handle or DID) to its Account.
// Single-tenant: every account lives in the one account index, so there
// is no domain/pool routing step left to do.
func (s *Server) resolveRepo(c echo.Context, repoID string) (*account.Account, error) {
	ctx := c.Request().Context()
	if strings.HasPrefix(repoID, "did:") {
		return s.accounts.GetByDID(ctx, repoID)
	}
	return s.accounts.GetByHandle(ctx, repoID)
}

// repoNotFound returns a standard error response for missing repos.
func repoNotFound(c echo.Context, repoID string) error {
	return c.JSON(http.StatusNotFound, map[string]string{
		"error":   "RepoNotFound",
		"message": "Repository not found: " + repoID,
	})
}

// --- createRecord ---

type createRecordRequest struct {
	Repo       string         `json:"repo"`
	Collection string         `json:"collection"`
	RKey       string         `json:"rkey"`
	Record     map[string]any `json:"record"`
}

func (s *Server) handleCreateRecord(c echo.Context) error {
	var req createRecordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "Invalid JSON body",
		})
	}

	if req.Repo == "" || req.Collection == "" || req.Record == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "repo, collection, and record are required",
		})
	}

	acct, err := s.resolveRepo(c, req.Repo)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return repoNotFound(c, req.Repo)
		}
		log.Printf("Error resolving repo %q: %v", req.Repo, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to resolve repo",
		})
	}

	if err := checkRepoAuth(c, acct.DID); err != nil {
		return err
	}

	signingKey, err := acct.SigningPrivateKey()
	if err != nil {
		log.Printf("Error parsing signing key for %s: %v", acct.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to load signing key",
		})
	}

	ctx := c.Request().Context()
	var uri string
	var result *repo.CommitResult

	if req.RKey != "" {
		uri, result, err = s.repos.PutRecord(ctx, acct.DID, signingKey, req.Collection, req.RKey, req.Record)
	} else {
		uri, result, err = s.repos.CreateRecord(ctx, acct.DID, signingKey, req.Collection, req.Record)
	}
	if err != nil {
		return repoWriteError(c, err, "Failed to create record")
	}

	s.emitCommitEvent(ctx, acct.DID, result)

	return c.JSON(http.StatusOK, map[string]any{
		"uri": uri,
		"cid": result.CommitCID,
		"commit": map[string]string{
			"cid": result.CommitCID,
			"rev": result.Rev,
		},
	})
}

// --- getRecord ---

func (s *Server) handleGetRecord(c echo.Context) error {
	repoID := c.QueryParam("repo")
	collection := c.QueryParam("collection")
	rkey := c.QueryParam("rkey")

	if repoID == "" || collection == "" || rkey == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "repo, collection, and rkey query parameters are required",
		})
	}

	acct, err := s.resolveRepo(c, repoID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return repoNotFound(c, repoID)
		}
		log.Printf("Error resolving repo %q: %v", repoID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to resolve repo",
		})
	}

	cidStr, record, err := s.repos.GetRecord(c.Request().Context(), acct.DID, collection, rkey)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error":   "RecordNotFound",
				"message": "Record not found",
			})
		}
		log.Printf("Error getting record %s/%s for %s: %v", collection, rkey, acct.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to get record",
		})
	}

	uri := "at://" + acct.DID + "/" + collection + "/" + rkey
	return c.JSON(http.StatusOK, map[string]any{
		"uri":   uri,
		"cid":   cidStr,
		"value": record,
	})
}

// --- deleteRecord ---

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}

func (s *Server) handleDeleteRecord(c echo.Context) error {
	var req deleteRecordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "Invalid JSON body",
		})
	}

	if req.Repo == "" || req.Collection == "" || req.RKey == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "repo, collection, and rkey are required",
		})
	}

	acct, err := s.resolveRepo(c, req.Repo)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return repoNotFound(c, req.Repo)
		}
		log.Printf("Error resolving repo %q: %v", req.Repo, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to resolve repo",
		})
	}

	if err := checkRepoAuth(c, acct.DID); err != nil {
		return err
	}

	signingKey, err := acct.SigningPrivateKey()
	if err != nil {
		log.Printf("Error parsing signing key for %s: %v", acct.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to load signing key",
		})
	}

	result, err := s.repos.DeleteRecord(c.Request().Context(), acct.DID, signingKey, req.Collection, req.RKey)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error":   "RecordNotFound",
				"message": "Record not found",
			})
		}
		return repoWriteError(c, err, "Failed to delete record")
	}

	s.emitCommitEvent(c.Request().Context(), acct.DID, result)

	return c.JSON(http.StatusOK, map[string]any{
		"commit": map[string]string{
			"cid": result.CommitCID,
			"rev": result.Rev,
		},
	})
}

// --- putRecord ---

type putRecordRequest struct {
	Repo       string         `json:"repo"`
	Collection string         `json:"collection"`
	RKey       string         `json:"rkey"`
	Record     map[string]any `json:"record"`
}

func (s *Server) handlePutRecord(c echo.Context) error {
	var req putRecordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "Invalid JSON body",
		})
	}

	if req.Repo == "" || req.Collection == "" || req.RKey == "" || req.Record == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "repo, collection, rkey, and record are required",
		})
	}

	acct, err := s.resolveRepo(c, req.Repo)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return repoNotFound(c, req.Repo)
		}
		log.Printf("Error resolving repo %q: %v", req.Repo, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to resolve repo",
		})
	}

	if err := checkRepoAuth(c, acct.DID); err != nil {
		return err
	}

	signingKey, err := acct.SigningPrivateKey()
	if err != nil {
		log.Printf("Error parsing signing key for %s: %v", acct.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to load signing key",
		})
	}

	uri, result, err := s.repos.PutRecord(c.Request().Context(), acct.DID, signingKey, req.Collection, req.RKey, req.Record)
	if err != nil {
		return repoWriteError(c, err, "Failed to put record")
	}

	s.emitCommitEvent(c.Request().Context(), acct.DID, result)

	return c.JSON(http.StatusOK, map[string]any{
		"uri": uri,
		"cid": result.CommitCID,
		"commit": map[string]string{
			"cid": result.CommitCID,
			"rev": result.Rev,
		},
	})
}

// --- applyWrites (batchWrite) ---

type applyWritesOp struct {
	Type       string         `json:"$type"`
	Collection string         `json:"collection"`
	RKey       string         `json:"rkey"`
	Value      map[string]any `json:"value"`
}

type applyWritesRequest struct {
	Repo    string          `json:"repo"`
	Writes  []applyWritesOp `json:"writes"`
	Validate bool           `json:"validate"`
}

// handleApplyWrites applies a batch of create/update/delete writes as a
// single commit, matching com.atproto.repo.applyWrites's all-or-nothing
// contract: internal/repo.ApplyMutations runs the batch in one write
// transaction, so if one mutation fails its precondition the whole batch,
// including any record blocks it already wrote, is rolled back.
func (s *Server) handleApplyWrites(c echo.Context) error {
	var req applyWritesRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "Invalid JSON body",
		})
	}

	if req.Repo == "" || len(req.Writes) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "repo and writes are required",
		})
	}

	acct, err := s.resolveRepo(c, req.Repo)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return repoNotFound(c, req.Repo)
		}
		log.Printf("Error resolving repo %q: %v", req.Repo, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to resolve repo",
		})
	}

	if err := checkRepoAuth(c, acct.DID); err != nil {
		return err
	}

	muts := make([]repo.Mutation, 0, len(req.Writes))
	for _, w := range req.Writes {
		switch w.Type {
		case "com.atproto.repo.applyWrites#create":
			muts = append(muts, repo.CreateMutation{Collection: w.Collection, RKey: w.RKey, Record: w.Value})
		case "com.atproto.repo.applyWrites#update":
			muts = append(muts, repo.UpdateMutation{Collection: w.Collection, RKey: w.RKey, Record: w.Value})
		case "com.atproto.repo.applyWrites#delete":
			muts = append(muts, repo.DeleteMutation{Collection: w.Collection, RKey: w.RKey})
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error":   "InvalidRequest",
				"message": "unknown write type: " + w.Type,
			})
		}
	}

	signingKey, err := acct.SigningPrivateKey()
	if err != nil {
		log.Printf("Error parsing signing key for %s: %v", acct.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to load signing key",
		})
	}

	result, err := s.repos.ApplyMutations(c.Request().Context(), acct.DID, signingKey, muts)
	if err != nil {
		return repoWriteError(c, err, "Failed to apply writes")
	}

	s.emitCommitEvent(c.Request().Context(), acct.DID, result)

	return c.JSON(http.StatusOK, map[string]any{
		"commit": map[string]string{
			"cid": result.CommitCID,
			"rev": result.Rev,
		},
	})
}

// --- listRecords ---

func (s *Server) handleListRecords(c echo.Context) error {
	repoID := c.QueryParam("repo")
	collection := c.QueryParam("collection")

	if repoID == "" || collection == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "repo and collection query parameters are required",
		})
	}

	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	cursor := c.QueryParam("cursor")
	reverse := c.QueryParam("reverse") == "true"

	acct, err := s.resolveRepo(c, repoID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return repoNotFound(c, repoID)
		}
		log.Printf("Error resolving repo %q: %v", repoID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to resolve repo",
		})
	}

	records, nextCursor, err := s.repos.ListRecords(c.Request().Context(), acct.DID, collection, limit, cursor, reverse)
	if err != nil {
		log.Printf("Error listing records for %s/%s: %v", acct.DID, collection, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to list records",
		})
	}

	resp := map[string]any{
		"records": records,
	}
	if nextCursor != "" {
		resp["cursor"] = nextCursor
	}
	return c.JSON(http.StatusOK, resp)
}

// --- describeRepo ---

func (s *Server) handleDescribeRepo(c echo.Context) error {
	repoID := c.QueryParam("repo")
	if repoID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "repo query parameter is required",
		})
	}

	acct, err := s.resolveRepo(c, repoID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return repoNotFound(c, repoID)
		}
		log.Printf("Error resolving repo %q: %v", repoID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to resolve repo",
		})
	}

	collections, err := s.repos.DescribeRepo(c.Request().Context(), acct.DID)
	if err != nil {
		log.Printf("Error describing repo for %s: %v", acct.DID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to describe repo",
		})
	}

	didDoc := map[string]any{}
	if acct.SigningKey != "" {
		doc, err := account.BuildDIDDocument(acct.DID, acct.Handle, acct.SigningKey, s.cfg.ServiceHost)
		if err == nil {
			didDoc = map[string]any{
				"@context":           doc.Context,
				"id":                 doc.ID,
				"alsoKnownAs":        doc.AlsoKnownAs,
				"verificationMethod": doc.VerificationMethod,
				"service":            doc.Service,
			}
		} else {
			log.Printf("Warning: failed to build DID doc for %s: %v", acct.DID, err)
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"handle":          acct.Handle,
		"did":             acct.DID,
		"didDoc":          didDoc,
		"collections":     collections,
		"handleIsCorrect": true,
	})
}

// --- updateRepo (CAR import) ---

// handleUpdateRepo streams a CAR v1 request body into the caller's
// repository via internal/repo.ImportCAR, verifying MST consistency
// before advancing the alias.
func (s *Server) handleUpdateRepo(c echo.Context) error {
	repoID := c.QueryParam("repo")
	if repoID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "repo query parameter is required",
		})
	}

	acct, err := s.resolveRepo(c, repoID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return repoNotFound(c, repoID)
		}
		log.Printf("Error resolving repo %q: %v", repoID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to resolve repo",
		})
	}

	if err := checkRepoAuth(c, acct.DID); err != nil {
		return err
	}

	if err := s.repos.ImportCAR(c.Request().Context(), acct.DID, c.Request().Body); err != nil {
		log.Printf("Error importing car for %s: %v", acct.DID, err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": err.Error(),
		})
	}

	return c.NoContent(http.StatusOK)
}

// checkRepoAuth verifies that the authenticated caller is allowed to
// modify the given repo. The admin key can modify any repo; JWT users
// can only modify their own.
func checkRepoAuth(c echo.Context, repoDID string) error {
	ac := getAuth(c)
	if ac == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "AuthRequired",
			"message": "Authentication required",
		})
	}
	if ac.IsAdmin {
		return nil
	}
	if ac.DID != repoDID {
		return c.JSON(http.StatusForbidden, map[string]string{
			"error":   "Forbidden",
			"message": "Cannot modify another account's repository",
		})
	}
	return nil
}

// repoWriteError maps a repo.Manager write error to an HTTP response,
// using apperr's kind when the error carries one and falling back to a
// generic 500 otherwise.
func repoWriteError(c echo.Context, err error, fallback string) error {
	log.Printf("%s: %v", fallback, err)
	if strings.Contains(err.Error(), "already exists") {
		return c.JSON(http.StatusConflict, map[string]string{
			"error":   "InvalidSwap",
			"message": err.Error(),
		})
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != apperr.Internal {
		return c.JSON(appErr.Kind.HTTPStatus(), map[string]string{
			"error":   appErr.Kind.String(),
			"message": appErr.PublicMessage(),
		})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   "InternalError",
		"message": fallback,
	})
}

// emitCommitEvent converts a CommitResult to a CommitInfo and emits it
// through the EventManager. Errors are logged but not returned — event
// emission is best-effort and must not break the mutation path.
func (s *Server) emitCommitEvent(ctx context.Context, did string, result *repo.CommitResult) {
	if s.events == nil || result == nil {
		return
	}

	commitCID, err := cid.Decode(result.CommitCID)
	if err != nil {
		log.Printf("Warning: emit event: decode commit cid: %v", err)
		return
	}

	ops := make([]events.OpInfo, len(result.Ops))
	for i, op := range result.Ops {
		ops[i] = events.OpInfo{
			Action: op.Action,
			Path:   op.Path,
			CID:    op.CID,
			Prev:   op.Prev,
		}
	}

	info := &events.CommitInfo{
		DID:       did,
		Rev:       result.Rev,
		PrevRev:   result.PrevRev,
		CommitCID: commitCID.String(),
		PrevData:  result.PrevData,
		DiffCAR:   result.DiffCAR,
		Ops:       ops,
		Time:      time.Now(),
	}

	if err := s.events.Emit(ctx, info); err != nil {
		log.Printf("Warning: emit event for %s: %v", did, err)
	}
}
