// primal-pds is a single-tenant AT Protocol Personal Data Server.
//
// It reads configuration from db.json in the working directory, connects
// to PostgreSQL, opens the bbolt block store holding every hosted
// account's repo, and starts an HTTP server with the standard AT
// Protocol endpoints plus a small operator admin API.
//
// Usage:
//
//	./primal-pds              # reads ./db.json, starts server
//	docker compose up -d      # runs via Docker with mounted config
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/primal-host/primal-pds/internal/account"
	"github.com/primal-host/primal-pds/internal/atproto"
	"github.com/primal-host/primal-pds/internal/auth"
	"github.com/primal-host/primal-pds/internal/blockstore"
	"github.com/primal-host/primal-pds/internal/config"
	"github.com/primal-host/primal-pds/internal/database"
	"github.com/primal-host/primal-pds/internal/events"
	"github.com/primal-host/primal-pds/internal/repo"
	"github.com/primal-host/primal-pds/internal/server"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("primal-pds starting...")

	cfg, err := config.Load("db.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (listen=%s db=%s/%s)", cfg.ListenAddr, cfg.DBConn, cfg.DBName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down...", sig)
		cancel()
	}()

	db, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected, schema bootstrapped")

	store, err := blockstore.Open(cfg.BlockStorePath)
	if err != nil {
		log.Fatalf("Failed to open block store %s: %v", cfg.BlockStorePath, err)
	}
	defer store.Close()
	log.Printf("Block store opened: %s", cfg.BlockStorePath)

	accounts := account.NewStore(db, cfg.ServiceHost)
	tids := atproto.NewTIDGenerator()
	repos := repo.NewManager(store, tids)

	persister := events.NewPersister(db.Pool)
	evts := events.NewManager(persister)

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.ServiceHost)

	// Make sure every existing account has an initialized repo, in case
	// the block store file is fresh or was recreated out of band.
	accts, err := accounts.List(ctx)
	if err != nil {
		log.Fatalf("Failed to list accounts: %v", err)
	}
	for _, acct := range accts {
		signingKey, err := acct.SigningPrivateKey()
		if err != nil {
			log.Printf("Warning: failed to parse signing key for %s: %v", acct.DID, err)
			continue
		}
		if err := repos.InitRepo(ctx, acct.DID, signingKey); err != nil {
			log.Printf("Warning: failed to init repo for %s: %v", acct.DID, err)
		}
	}
	log.Printf("Repos initialized for %d accounts", len(accts))

	srv := server.New(cfg, db.Pool, accounts, repos, evts, jwtMgr)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("primal-pds stopped")
}
