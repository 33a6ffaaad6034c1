// Command xmp3d runs the XMPP core server: it loads the YAML config,
// wires storage, auth, the reactor and the Server together, loads any
// configured external modules, then blocks in the reactor loop until a
// signal asks it to stop.
package main

import (
	"crypto/tls"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/xmp3io/xmp3/auth"
	"github.com/xmp3io/xmp3/config"
	"github.com/xmp3io/xmp3/jid"
	"github.com/xmp3io/xmp3/log"
	"github.com/xmp3io/xmp3/reactor"
	"github.com/xmp3io/xmp3/server"
	"github.com/xmp3io/xmp3/storage"
)

func main() {
	configPath := flag.String("config", "xmp3d.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("xmp3d: %v", err)
	}

	serverJID, err := jid.Parse(cfg.ServerJID)
	if err != nil {
		log.Fatalf("xmp3d: server_jid: %v", err)
	}

	repo, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DataSource)
	if err != nil {
		log.Fatalf("xmp3d: storage: %v", err)
	}

	var tlsConfig *tls.Config
	if cfg.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			log.Fatalf("xmp3d: tls: %v", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	rct, err := reactor.New()
	if err != nil {
		log.Fatalf("xmp3d: reactor: %v", err)
	}
	defer rct.Close()

	srvCfg := server.Config{
		BindAddress:       cfg.BindAddress,
		Port:              cfg.Port,
		Domain:            serverJID.Domain(),
		MUCSubdomain:      cfg.MUCSubdomain,
		TLS:               tlsConfig,
		ReceiveBufferSize: cfg.ReceiveBufferSize,
	}
	srv, err := server.New(srvCfg, rct, repo, []auth.Authenticator{auth.NewPlain(repo)})
	if err != nil {
		log.Fatalf("xmp3d: server: %v", err)
	}

	if cfg.WebSocket != nil {
		if err := srv.ServeWebSocket(cfg.WebSocket.BindAddress, cfg.WebSocket.Port); err != nil {
			log.Fatalf("xmp3d: websocket: %v", err)
		}
	}

	for name, mod := range cfg.Modules {
		if err := srv.Modules.Load(mod.Path, name); err != nil {
			log.Fatalf("xmp3d: module %s: %v", name, err)
		}
		for key, value := range mod.Settings {
			if err := srv.Modules.Config(name, key, value); err != nil {
				log.Fatalf("xmp3d: module %s config %s: %v", name, key, err)
			}
		}
	}
	if err := srv.Modules.Start(srv); err != nil {
		log.Fatalf("xmp3d: module start: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("xmp3d: shutting down")
		rct.Stop()
	}()

	log.Infof("xmp3d: listening on %s:%d for %s", cfg.BindAddress, cfg.Port, serverJID)
	if err := rct.Run(); err != nil {
		log.Fatalf("xmp3d: reactor: %v", err)
	}
	// Run has returned, so tearing down clients and routes here happens
	// on the same goroutine that drove the reactor.
	srv.Shutdown()
}
