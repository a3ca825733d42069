// Package account provides the data model and operations for AT Protocol
// accounts hosted by this server. Accounts are identified by a DID
// (decentralized identifier, derived via internal/identity's did:plc
// genesis operation) and a handle.
//
// Generalizes the teacher's multi-tenant package — accounts scoped to a
// domain, with owner/admin/user roles and active/suspended/disabled/
// removed statuses — down to the single-tenant account model
// SPEC_FULL.md's persisted-state section defines: one account per DID,
// no role or domain concept, no soft-delete status. A handle is
// reassigned a DID for good; removing an account removes its row.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bluesky-social/indigo/atproto/atcrypto"

	"github.com/primal-host/primal-pds/internal/database"
	"github.com/primal-host/primal-pds/internal/identity"
)

// Sentinel errors for account operations.
var (
	ErrNotFound    = errors.New("account: not found")
	ErrHandleTaken = errors.New("account: handle already taken")
	ErrEmailTaken  = errors.New("account: email already taken")
)

// Account represents a user account hosted by this server.
type Account struct {
	DID            string    `json:"did"`
	Handle         string    `json:"handle"`
	Email          string    `json:"email,omitempty"`
	SigningKey     string    `json:"-"` // multibase private key, never serialized out
	RecoveryPubkey string    `json:"recoveryPubkey"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CreateParams holds the parameters for creating a new account.
type CreateParams struct {
	Handle   string
	Email    string
	Password string // plaintext, will be hashed

	// RecoveryKey, if set, is a did:key string the caller controls and
	// wants registered as the did:plc genesis operation's recovery key.
	// If empty, a keypair is generated and its public half used; the
	// private half is discarded, since nothing in this server's account
	// model needs to retain a recovery key it generated on the caller's
	// behalf.
	RecoveryKey string

	// Curve selects the account's repo signing key curve. Zero value is
	// identity.CurveP256.
	Curve identity.Curve
}

// Store provides account CRUD operations backed by PostgreSQL.
type Store struct {
	db          *database.DB
	serviceHost string // e.g. "pds.example.com", used for did:plc service + DID doc
}

// NewStore creates an account Store. serviceHost is the hostname this
// server is reachable at, embedded in every account's did:plc genesis
// operation and DID document as the AtprotoPersonalDataServer service
// endpoint.
func NewStore(db *database.DB, serviceHost string) *Store {
	return &Store{db: db, serviceHost: serviceHost}
}

// Create derives a did:plc identity for the new account, hashes the
// password, and inserts the account row. Returns the created Account.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Account, error) {
	signingPriv, err := identity.GenerateKey(p.Curve)
	if err != nil {
		return nil, fmt.Errorf("account: create: generate signing key: %w", err)
	}
	signingPub, err := signingPriv.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("account: create: derive signing public key: %w", err)
	}

	recoveryPub, recoveryDIDKey, err := resolveRecoveryKey(p.RecoveryKey)
	if err != nil {
		return nil, fmt.Errorf("account: create: %w", err)
	}

	op := identity.NewGenesisOp(signingPub, recoveryPub, p.Handle, "https://"+s.serviceHost)
	did, _, _, err := identity.DerivePLCDID(op, signingPriv)
	if err != nil {
		return nil, fmt.Errorf("account: create: derive did: %w", err)
	}

	signingKeyMultibase := identity.ExportPrivateKey(signingPriv)

	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("account: create: %w", err)
	}

	var a Account
	err = s.db.Pool.QueryRow(ctx,
		`INSERT INTO account (did, handle, email, password_hash, signing_key, recovery_pubkey)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING did, handle, email, signing_key, recovery_pubkey, created_at, updated_at`,
		did, p.Handle, p.Email, hash, signingKeyMultibase, recoveryDIDKey,
	).Scan(&a.DID, &a.Handle, &a.Email, &a.SigningKey, &a.RecoveryPubkey, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("account: create %q: %w", p.Handle, err)
	}
	return &a, nil
}

// resolveRecoveryKey returns the public key to embed as the genesis
// operation's recovery key, and its did:key string for storage. If
// didKey is empty, a throwaway keypair is generated for it.
func resolveRecoveryKey(didKey string) (pub atcrypto.PublicKey, didKeyStr string, err error) {
	if didKey != "" {
		parsed, err := identity.ParseDIDKey(didKey)
		if err != nil {
			return nil, "", fmt.Errorf("parse recovery key: %w", err)
		}
		return parsed, didKey, nil
	}
	priv, err := identity.GenerateKey(identity.CurveSecp256k1)
	if err != nil {
		return nil, "", fmt.Errorf("generate recovery key: %w", err)
	}
	pubKey, err := priv.PublicKey()
	if err != nil {
		return nil, "", fmt.Errorf("derive recovery public key: %w", err)
	}
	return pubKey, identity.DIDKey(pubKey), nil
}

// GetByHandle returns an account by its handle.
// Returns ErrNotFound if no account matches.
func (s *Store) GetByHandle(ctx context.Context, handle string) (*Account, error) {
	var a Account
	err := s.db.Pool.QueryRow(ctx,
		`SELECT did, handle, email, signing_key, recovery_pubkey, created_at, updated_at
		 FROM account WHERE handle = $1`,
		handle,
	).Scan(&a.DID, &a.Handle, &a.Email, &a.SigningKey, &a.RecoveryPubkey, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get by handle %q: %w", handle, err)
	}
	return &a, nil
}

// GetByDID returns an account by its DID.
// Returns ErrNotFound if no account matches.
func (s *Store) GetByDID(ctx context.Context, did string) (*Account, error) {
	var a Account
	err := s.db.Pool.QueryRow(ctx,
		`SELECT did, handle, email, signing_key, recovery_pubkey, created_at, updated_at
		 FROM account WHERE did = $1`,
		did,
	).Scan(&a.DID, &a.Handle, &a.Email, &a.SigningKey, &a.RecoveryPubkey, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, did)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get by did %q: %w", did, err)
	}
	return &a, nil
}

// List returns every hosted account, ordered by handle. Used at startup
// to re-initialize each account's repo (internal/repo.Manager.InitRepo).
func (s *Store) List(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT did, handle, email, signing_key, recovery_pubkey, created_at, updated_at
		 FROM account ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("account: list: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.DID, &a.Handle, &a.Email, &a.SigningKey, &a.RecoveryPubkey, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("account: list scan: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Delete permanently removes an account and (via ON DELETE CASCADE) its
// sessions and DID document row. It does not touch the account's repo
// blocks — callers that need those gone too should do so explicitly.
func (s *Store) Delete(ctx context.Context, did string) error {
	result, err := s.db.Pool.Exec(ctx, `DELETE FROM account WHERE did = $1`, did)
	if err != nil {
		return fmt.Errorf("account: delete %q: %w", did, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, did)
	}
	return nil
}

// ResolveHandle looks up the DID for a given handle. Used by
// com.atproto.identity.resolveHandle and /.well-known/atproto-did.
func (s *Store) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var did string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT did FROM account WHERE handle = $1`, handle,
	).Scan(&did)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if err != nil {
		return "", fmt.Errorf("account: resolve handle %q: %w", handle, err)
	}
	return did, nil
}

// VerifyPassword checks the password for an account identified by
// handle. Returns the Account on success or an error if the handle is
// not found or the password doesn't match.
func (s *Store) VerifyPassword(ctx context.Context, handle, password string) (*Account, error) {
	var a Account
	var hash string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT did, handle, email, password_hash, signing_key, recovery_pubkey, created_at, updated_at
		 FROM account WHERE handle = $1`,
		handle,
	).Scan(&a.DID, &a.Handle, &a.Email, &hash, &a.SigningKey, &a.RecoveryPubkey, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("account: verify password %q: %w", handle, err)
	}

	if err := CheckPassword(hash, password); err != nil {
		return nil, fmt.Errorf("account: invalid password for %q", handle)
	}
	return &a, nil
}

// SigningPrivateKey parses a's stored signing key, ready to hand to
// internal/repo.Manager for signing a commit.
func (a *Account) SigningPrivateKey() (atcrypto.PrivateKeyExportable, error) {
	return identity.ParsePrivateKey(a.SigningKey)
}
