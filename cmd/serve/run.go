package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/coordinator"
	"github.com/ValentinKolb/dDoc/lib/ensemble"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/membership"
	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/boltstore"
	"github.com/ValentinKolb/dDoc/lib/store/memstore"
	"github.com/ValentinKolb/dDoc/rpc/admin"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/server"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

const adminShutdownTimeout = 5 * time.Second

// run starts a node and blocks until it terminated
func run(_ *cobra.Command, _ []string) (err error) {
	config := serveCmdConfig
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return err
	}
	fmt.Println(config.String())

	var ensembleCfg *ensemble.Config
	if config.EnsembleFile != "" {
		if ensembleCfg, err = ensemble.LoadConfig(config.EnsembleFile); err != nil {
			return err
		}
		fmt.Println(ensembleCfg.String())
	}

	s, err := serializer.New(config.Transport.Serializer)
	if err != nil {
		return err
	}
	serverTransport, err := cmdUtil.GetServerTransport(config.Transport)
	if err != nil {
		return err
	}
	clientTransport, err := cmdUtil.GetClientTransport(config.Transport)
	if err != nil {
		return err
	}

	st, err := newStore(config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("failed to close store: %w", closeErr)).ErrorOrNil()
		}
	}()

	locks := lockmgr.NewLockManager(config.LockConcurrency, config.LockLease)
	defer locks.Close()

	coord, err := coordinator.New(coordinator.Options{
		Membership:          newMembership(config),
		Store:               st,
		Nodes:               node.NewRemoteFactory(config.Name, clientTransport, s, config.Timeout()),
		Locks:               locks,
		ProcessorWorkers:    config.Workers,
		FanOutWorkers:       config.Workers,
		Timeout:             config.Timeout(),
		ReconnectTimeout:    config.ReconnectTimeout,
		ExitGrace:           config.ExitGrace,
		RendezvousWarnPolls: config.RendezvousWarnPolls,
	})
	if err != nil {
		return err
	}

	// serve before joining, requests wait until the node is operational
	srv, err := server.NewRPCServer(*config, serverTransport, s, coord)
	if err != nil {
		return err
	}
	addr, err := srv.Serve()
	if err != nil {
		return err
	}
	defer srv.Close()
	fmt.Printf("Serving commands on %s\n", addr)

	self := cluster.NodeConfiguration{
		Name:    config.Name,
		Cluster: config.Cluster,
		Host:    config.AdvertiseHost,
		Port:    config.AdvertisePort,
	}
	if config.AdminEndpoint != "" {
		adminSrv := admin.NewServer(config.AdminEndpoint, coord)
		adminAddr, err := adminSrv.Serve()
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
			defer cancel()
			_ = adminSrv.Close(ctx)
		}()
		self.AdminAddress = adminAddr.String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(ctx, self, ensembleCfg); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		fmt.Println("Received signal, shutting down")
		coord.Shutdown()
	case <-coord.Done():
	}
	return nil
}

// newStore opens the configured storage engine
func newStore(config *common.NodeConfig) (store.Store, error) {
	switch config.Store {
	case "memory":
		return memstore.NewMemoryStore(), nil
	case "bolt":
		if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return boltstore.NewBoltStore(filepath.Join(config.DataDir, config.Name+".db"))
	default:
		return nil, fmt.Errorf("invalid store %s", config.Store)
	}
}

// newMembership creates the configured membership source
func newMembership(config *common.NodeConfig) membership.Source {
	switch config.Membership.Provider {
	case "zookeeper":
		return membership.NewZookeeperSource(membership.ZookeeperConfig{
			Servers:        config.Membership.ZookeeperServers,
			SessionTimeout: config.Membership.SessionTimeout,
		})
	case "static":
		return membership.NewStaticSource()
	default:
		return membership.NewGossipSource(membership.GossipConfig{
			BindAddr: config.Membership.GossipBind,
			BindPort: config.Membership.GossipPort,
			Seeds:    config.Membership.Seeds,
		})
	}
}
