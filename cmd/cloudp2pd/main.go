// Command cloudp2pd runs one storage-network node: it loads or creates
// a sealed identity, joins the peer-to-peer swarm, and serves the
// public (peer-facing) and control (loopback-only operator) HTTP
// surfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloudp2p/internal/config"
	"cloudp2p/internal/filepipeline"
	"cloudp2p/internal/fragstore"
	"cloudp2p/internal/identity"
	"cloudp2p/internal/p2p"
	"cloudp2p/internal/peerregistry"
	"cloudp2p/internal/quota"
	"cloudp2p/internal/secretsbox"
)

func main() {
	cfg, err := config.FromFlags(flag.NewFlagSet("cloudp2pd", flag.ExitOnError), os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataPath, 0o700); err != nil {
		log.Fatalf("create data path: %v", err)
	}

	passphrase := os.Getenv("CLOUDP2P_PASSPHRASE")
	if passphrase == "" {
		log.Fatalf("CLOUDP2P_PASSPHRASE must be set to seal/unseal this node's identity")
	}

	id, err := loadOrCreateIdentity(cfg.DataPath, passphrase)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	log.Printf("[identity] node public id = %s", id.PublicID())

	frags := fragstore.NewManager(cfg.DataPath, int(cfg.StorageOfferedBytes))
	if err := frags.Initialize(); err != nil {
		log.Fatalf("fragstore init: %v", err)
	}

	files := filepipeline.NewFileManager()
	indexPath := filepath.Join(cfg.DataPath, "file_index.json")
	if err := files.LoadIndexFile(indexPath); err != nil {
		log.Fatalf("load file index: %v", err)
	}

	registry := peerregistry.New()
	quotaStore, err := quota.NewStore(filepath.Join(cfg.DataPath, "quota.db"))
	if err != nil {
		log.Fatalf("open quota store: %v", err)
	}
	defer quotaStore.Close()
	quotaMgr, err := quota.NewManagerWithStore(cfg.Quota, quotaStore)
	if err != nil {
		log.Fatalf("load quota store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &Server{
		id:      id,
		files:   files,
		frags:   frags,
		peers:   registry,
		quota:   quotaMgr,
		started: time.Now(),
	}

	node, err := p2p.New(ctx, id, registry, cfg.EnableMDNS, srv.HandleEnvelope)
	if err != nil {
		log.Fatalf("p2p node: %v", err)
	}
	defer node.Close()
	srv.node = node
	log.Printf("[p2p] peer id = %s", node.PeerID())

	for _, addr := range cfg.BootstrapNodes {
		if addr == "" {
			continue
		}
		if err := node.Connect(ctx, addr); err != nil {
			log.Printf("[p2p] bootstrap connect to %s failed: %v", addr, err)
		}
	}

	publicSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.PublicHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	controlSrv := &http.Server{
		Addr:              cfg.ControlAddr,
		Handler:           srv.ControlHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[public http] listening on %s", cfg.HTTPAddr)
		if err := publicSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("public http: %v", err)
		}
	}()
	go func() {
		log.Printf("[control http] listening on %s (local only)", cfg.ControlAddr)
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("control http: %v", err)
		}
	}()

	periodicSave(ctx, files, indexPath)

	select {}
}

// loadOrCreateIdentity opens the sealed identity at dataPath/identity.enc,
// or, if that file is absent, generates a fresh 12-word mnemonic, seals
// it there, and derives the identity from it. An existing file that
// cannot be opened is an error.
func loadOrCreateIdentity(dataPath, passphrase string) (*identity.Identity, error) {
	path := filepath.Join(dataPath, "identity.enc")

	if _, err := os.Stat(path); err == nil {
		sec, err := secretsbox.Open(path, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("open sealed identity: %w", err)
		}
		return identity.FromMnemonic(sec.Mnemonic, sec.Passphrase)
	}

	mnemonic, err := identity.GenerateMnemonic(12)
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}
	log.Printf("[identity] generated a new mnemonic; record it now, it is not printed again:\n%s", mnemonic)

	sec := secretsbox.IdentitySecrets{Mnemonic: mnemonic}
	if err := secretsbox.Seal(path, []byte(passphrase), sec); err != nil {
		return nil, fmt.Errorf("seal new identity: %w", err)
	}
	return identity.FromMnemonic(mnemonic, "")
}

// periodicSave persists the file index every minute so a crash loses
// at most the most recent minute of uploads.
func periodicSave(ctx context.Context, files *filepipeline.FileManager, indexPath string) {
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := files.SaveIndexFile(indexPath); err != nil {
					log.Printf("[index] save failed: %v", err)
				}
			}
		}
	}()
}
