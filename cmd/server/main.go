// cmd/server is the main entrypoint for a chat replica. Configuration is
// entirely via flags (or an optional YAML file) so a single binary can
// serve any role in the cluster.
//
// Example — 3-node cluster, each started with the same --replicas list:
//
//	./server --server-id node1 --client-port 8081 --replication-port 8091 \
//	         --data-dir /tmp/node1 \
//	         --replicas node1=localhost:8091,node2=localhost:8092,node3=localhost:8093
//	./server --server-id node2 --client-port 8082 --replication-port 8092 \
//	         --data-dir /tmp/node2 \
//	         --replicas node1=localhost:8091,node2=localhost:8092,node3=localhost:8093
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaychat/coordinator/internal/cluster"
	"github.com/relaychat/coordinator/internal/config"
	"github.com/relaychat/coordinator/internal/dispatch"
	"github.com/relaychat/coordinator/internal/presence"
	"github.com/relaychat/coordinator/internal/statusz"
	"github.com/relaychat/coordinator/internal/store"
	"github.com/relaychat/coordinator/internal/transport"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	s, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	peers, err := cluster.NewPeerSet(cfg.ServerID, cfg.Peers())
	if err != nil {
		log.Fatalf("peer set: %v", err)
	}

	oplog, err := cluster.OpenOpLog(cfg.DataDir + "/oplog.ndjson")
	if err != nil {
		log.Fatalf("open oplog: %v", err)
	}
	defer oplog.Close()

	presenceRegistry := presence.New()
	dispatcher := dispatch.New(s, presenceRegistry)
	replicator := cluster.NewReplicator(cfg.ServerID, peers, dispatcher.Apply, oplog)

	acceptor, err := transport.NewAcceptor(cfg.ClientAddr(), dispatcher, replicator, presenceRegistry)
	if err != nil {
		log.Fatalf("bind client port: %v", err)
	}
	peerListener, err := transport.NewPeerListener(cfg.ReplicationAddr(), replicator)
	if err != nil {
		log.Fatalf("bind replication port: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	replicator.Start()
	go acceptor.Serve(ctx)
	go peerListener.Serve(ctx)

	var statusSrv interface {
		Shutdown(context.Context) error
		ListenAndServe() error
	}
	if cfg.StatusAddr != "" {
		srv := statusz.NewServer(cfg.StatusAddr, replicator)
		statusSrv = srv
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.Printf("statusz: %v", err)
			}
		}()
	}

	log.Printf("server %s listening: clients on %s, replication on %s", cfg.ServerID, cfg.ClientAddr(), cfg.ReplicationAddr())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down %s", cfg.ServerID)
	cancel()
	replicator.Stop()

	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		statusSrv.Shutdown(shutdownCtx)
	}
}
