// Package server wires every subsystem into the single owned root value
// spec.md §9's "services struct" design note calls for: one struct built
// at startup holding the storage engine, resolver, DNS transport,
// notifier, slave clients, and (if configured) the replication hub or
// follower, started and closed in reverse dependency order. No global
// singletons; subsystems that need to call back into the server (the
// transport's NotifyHandler triggering a slave refresh) are handed a
// plain pointer to the piece they need, not the whole struct, avoiding
// the reference cycles the design note warns about.
package server

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/nsblast/nsblast/internal/config"
	"github.com/nsblast/nsblast/internal/dnstransport"
	"github.com/nsblast/nsblast/internal/notify"
	"github.com/nsblast/nsblast/internal/replication"
	"github.com/nsblast/nsblast/internal/replication/rpc"
	"github.com/nsblast/nsblast/internal/resolver"
	"github.com/nsblast/nsblast/internal/slave"
	"github.com/nsblast/nsblast/internal/storage/engine"
	"github.com/nsblast/nsblast/internal/support/task"
	"github.com/nsblast/nsblast/internal/support/worker"
	"github.com/nsblast/nsblast/internal/xlog"
)

// primaryReplicationServer implements the hand-written rpc.ServiceDesc's
// server interface, spawning one FollowerAgent per connecting follower.
type primaryReplicationServer struct {
	eng  *engine.Engine
	hub  *replication.Hub
	auth replication.AuthChecker
}

func (p *primaryReplicationServer) Replicate(stream rpc.ReplicationService_ReplicateServer) error {
	return replication.NewFollowerAgent(p.eng, p.hub, p.auth, stream).Run()
}

// slaveNotifyHandler adapts a slave.Client into dnstransport.NotifyHandler:
// receiving a NOTIFY for a zone this instance slaves triggers an immediate
// Refresh (spec.md §4.8). There is no periodic refresh: a NOTIFY or the
// admin service's TriggerTransfer is what starts a transfer.
type slaveNotifyHandler struct {
	client *slave.Client
	zones  map[string]slave.Config
}

func (h *slaveNotifyHandler) HandleNotify(zone string, _ net.Addr) bool {
	cfg, ok := h.zones[normalizeZone(zone)]
	if !ok {
		return false
	}
	if err := h.client.Refresh(cfg); err != nil {
		xlog.New("notify-triggered refresh failed for ", zone).Base(err).AtWarning().WriteToLog()
		return false
	}
	return true
}

func normalizeZone(z string) string {
	if len(z) > 0 && z[len(z)-1] == '.' {
		z = z[:len(z)-1]
	}
	return z
}

// Server is the root owned value for one nsblastd process.
type Server struct {
	cfg config.Config

	Engine   *engine.Engine
	Resolver *resolver.Resolver
	Slave    *slave.Client
	Notifier *notify.Notifier

	poolCancel context.CancelFunc
	pool       *worker.Pool
	udp        *dnstransport.UDPServer
	tcp        *dnstransport.TCPServer

	// Replication is mutually exclusive by role: a primary runs a Hub that
	// FollowerAgents subscribe to (through the gRPC service that Start
	// registers and serves); a follower runs
	// exactly one long-lived Follower goroutine.
	Hub          *replication.Hub
	follower     *replication.Follower
	stopFollower chan struct{}
	grpcServer   *grpc.Server
	grpcListener net.Listener

	backupTask *task.Periodic
}

// New constructs every subsystem against cfg but starts none of them.
func New(cfg config.Config) (*Server, error) {
	eng, err := engine.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		Engine:   eng,
		Resolver: resolver.New(eng),
		Slave:    slave.New(eng),
	}

	n, err := notify.New()
	if err != nil {
		eng.Close()
		return nil, err
	}
	s.Notifier = n

	ctx, cancel := context.WithCancel(context.Background())
	s.poolCancel = cancel
	s.pool = worker.New(ctx, cfg.DNS.NumThreads)

	switch cfg.Replication.Role {
	case config.RolePrimary:
		s.Hub = replication.NewHub()
		eng.SetCommitHook(s.Hub.Publish)
	case config.RoleFollower:
		s.follower = replication.NewFollower("", cfg.Replication.PrimaryAddress, "", cfg.ClusterAuthKey, eng)
	}

	if cfg.Backup.Interval > 0 {
		s.backupTask = eng.ScheduleBackup(cfg.Backup.Interval, func() string {
			return cfg.Backup.Directory + "/" + time.Now().UTC().Format("20060102T150405") + ".bolt"
		})
	}

	return s, nil
}

// Start brings up every subsystem in dependency order: storage engine and
// resolver are already live from New, so Start only needs the pieces that
// open sockets or background goroutines.
func (s *Server) Start() error {
	if err := s.Notifier.Start(); err != nil {
		return err
	}

	slaveZones := make(map[string]slave.Config)
	for _, z := range s.cfg.Slave.Zones {
		slaveZones[normalizeZone(z.Apex)] = slave.Config{Tenant: "default", Apex: z.Apex, Masters: z.Masters}
	}
	transportCfg := &dnstransport.Server{
		QueryHandler: s.Resolver,
		Notify:       &slaveNotifyHandler{client: s.Slave, zones: slaveZones},
		Pool:         s.pool,
	}

	udp, err := transportCfg.ListenUDP(s.cfg.DNS.ListenAddress)
	if err != nil {
		return err
	}
	s.udp = udp
	go udp.Serve()

	tcpCfg := &dnstransport.Server{
		QueryHandler:   s.Resolver,
		Notify:         transportCfg.Notify,
		Pool:           s.pool,
		TCPIdleTimeout: s.cfg.DNS.TCPIdleTime,
	}
	tcp, err := tcpCfg.ListenTCP(s.cfg.DNS.ListenAddress)
	if err != nil {
		return err
	}
	s.tcp = tcp
	go tcp.Serve()

	if s.backupTask != nil {
		if err := s.backupTask.Start(); err != nil {
			return err
		}
	}

	if s.follower != nil {
		s.stopFollower = make(chan struct{})
		go s.runFollower()
	}

	if s.Hub != nil {
		ln, err := net.Listen("tcp", s.cfg.Replication.ListenAddress)
		if err != nil {
			return err
		}
		s.grpcListener = ln
		s.grpcServer = grpc.NewServer()
		clusterAuthKey := s.cfg.ClusterAuthKey
		rpc.RegisterReplicationServiceServer(s.grpcServer, &primaryReplicationServer{
			eng: s.Engine,
			hub: s.Hub,
			auth: func(authHash, _ string) bool {
				return clusterAuthKey == "" || authHash == clusterAuthKey
			},
		})
		go func() {
			if err := s.grpcServer.Serve(ln); err != nil {
				xlog.New("replication grpc server stopped").Base(err).AtWarning().WriteToLog()
			}
		}()
	}

	return nil
}

func (s *Server) runFollower() {
	backoff := time.Second
	for {
		select {
		case <-s.stopFollower:
			return
		default:
		}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-s.stopFollower:
				cancel()
			case <-ctx.Done():
			}
		}()
		err := s.follower.Run(ctx)
		cancel()
		if err != nil {
			xlog.New("replication follower disconnected").Base(err).AtWarning().WriteToLog()
		}
		select {
		case <-s.stopFollower:
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Close shuts every subsystem down in reverse dependency order.
func (s *Server) Close() error {
	if s.stopFollower != nil {
		close(s.stopFollower)
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.backupTask != nil {
		s.backupTask.Close()
	}
	if s.tcp != nil {
		s.tcp.Close()
	}
	if s.udp != nil {
		s.udp.Close()
	}
	s.poolCancel()
	if err := s.pool.Wait(); err != nil {
		xlog.New("worker pool drain").Base(err).AtWarning().WriteToLog()
	}
	s.Notifier.Close()
	return s.Engine.Close()
}
