// Package database manages the PostgreSQL connection pool and
// bootstraps the schema on startup.
package database

// Schema contains the SQL statements for the account index. Generalizes
// the teacher's TenantSchema (one copy per hosted domain) to the single
// database a single-tenant server uses for every account it hosts. The
// multi-tenant `domains`/`did_routing` management tables are dropped —
// there is exactly one domain, configured directly (internal/config),
// not looked up per request.
const Schema = `
-- account: every account hosted by this server, keyed by its DID.
-- signing_key is the account's multibase-encoded private signing key
-- (secp256k1 or P-256); internal/repo signs every commit with it.
-- recovery_pubkey is the did:key used as the did:plc genesis operation's
-- rotation/recovery key.
CREATE TABLE IF NOT EXISTS account (
    did             VARCHAR(255) PRIMARY KEY,
    handle          VARCHAR(253) UNIQUE NOT NULL,
    email           VARCHAR(255),
    password_hash   VARCHAR(255) NOT NULL,
    signing_key     VARCHAR(255) NOT NULL,
    recovery_pubkey VARCHAR(255) NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- session: one row per issued session token. Session tokens are stateless
-- JWTs (internal/auth); no code path currently inserts rows here.
CREATE TABLE IF NOT EXISTS session (
    token      VARCHAR(255) PRIMARY KEY,
    did        VARCHAR(255) NOT NULL REFERENCES account(did) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_did ON session(did);

-- did_doc: one stored DID document per account. No code path writes or
-- reads this table; the handlers that return a DID document rebuild it
-- per request with account.BuildDIDDocument.
CREATE TABLE IF NOT EXISTS did_doc (
    did  VARCHAR(255) PRIMARY KEY REFERENCES account(did) ON DELETE CASCADE,
    json JSONB NOT NULL
);

-- post_record: denormalized feed index shape, one row per
-- app.bsky.feed.post record. No code path inserts, updates or deletes
-- rows here: commits change only the repo's MST, so this table is not
-- kept in sync with it.
CREATE TABLE IF NOT EXISTS post_record (
    did        VARCHAR(255) NOT NULL REFERENCES account(did) ON DELETE CASCADE,
    rkey       VARCHAR(50) NOT NULL,
    cid        VARCHAR(255) NOT NULL,
    text       TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (did, rkey)
);

CREATE INDEX IF NOT EXISTS idx_post_record_did_created ON post_record(did, created_at DESC);

-- blobs: Content-addressed media storage for images and other binary data.
CREATE TABLE IF NOT EXISTS blobs (
    did        VARCHAR(255) NOT NULL REFERENCES account(did) ON DELETE CASCADE,
    cid        VARCHAR(255) NOT NULL,
    mime_type  VARCHAR(255) NOT NULL,
    size       BIGINT NOT NULL,
    data       BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (did, cid)
);

-- firehose_events: Sequenced event log for the com.atproto.sync.subscribeRepos
-- firehose. Each row is a CBOR-encoded commit event. The BIGSERIAL seq column
-- provides a monotonically increasing cursor for replay.
CREATE TABLE IF NOT EXISTS firehose_events (
    seq        BIGSERIAL PRIMARY KEY,
    event_type VARCHAR(20) NOT NULL,
    did        VARCHAR(255) NOT NULL,
    payload    BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_firehose_events_seq ON firehose_events(seq);
`
