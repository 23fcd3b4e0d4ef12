// Package daemon wires a loaded configuration into a running bacstackd
// instance: one transport per configured port, a shared routing table
// and NetworkRouter, client/server TSMs, and the optional BBMD,
// storage, and API surfaces. cmd/bacstackd is a thin cobra wrapper
// around this package; it never touches the protocol layers directly.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krisarmstrong/bacstack/pkg/api"
	"github.com/krisarmstrong/bacstack/pkg/bbmd"
	"github.com/krisarmstrong/bacstack/pkg/bip"
	"github.com/krisarmstrong/bacstack/pkg/config"
	"github.com/krisarmstrong/bacstack/pkg/logging"
	"github.com/krisarmstrong/bacstack/pkg/router"
	"github.com/krisarmstrong/bacstack/pkg/sc"
	"github.com/krisarmstrong/bacstack/pkg/stats"
	"github.com/krisarmstrong/bacstack/pkg/storage"
	"github.com/krisarmstrong/bacstack/pkg/tsm"
)

// Daemon owns the full lifecycle of one bacstackd process: load once,
// start once, run, shut down once. Ports are wired statically at
// startup from the loaded Config; nothing restarts or reconfigures a
// port while the process is running.
type Daemon struct {
	cfg        *config.Config
	configName string
	version    string

	table  *router.RoutingTable
	net    *router.NetworkRouter
	client *tsm.ClientTSM
	server *tsm.ServerTSM
	stats  *stats.Statistics

	bbmdMgr *bbmd.Manager
	store   *storage.Storage
	apiSrv  *api.Server

	bipTransports []*bip.Transport
	scNodes       []*scNode
	hub           *hubServer
	scVMAC        sc.VMAC
	scUUID        uuid.UUID

	mu        sync.Mutex
	startedAt time.Time
}

// NewDaemon builds and wires every configured port. SC dial/accept
// ports are already live connections by the time this returns (they
// have to be, to learn PeerVMAC before the routing table can be
// built), and BACnet/IP sockets are already bound; only the API server
// goes live in Start.
func NewDaemon(cfg *config.Config, configName, version string) (*Daemon, error) {
	d := &Daemon{
		cfg:        cfg,
		configName: configName,
		version:    version,
		table:      router.NewRoutingTable(),
		stats:      stats.NewStatistics(configName, version),
		scUUID:     uuid.New(),
	}
	copy(d.scVMAC[:], d.scUUID[:6])

	d.net = router.NewNetworkRouter(d.table, d.deliver, d.networkMessage)
	d.client = tsm.NewClientTSM(d.sendAPDU)
	d.server = tsm.NewServerTSM(d.sendAPDU, defaultServiceHandler)
	d.applyTSMConfig()

	for i, p := range cfg.Ports {
		if err := d.buildPort(i, p); err != nil {
			d.closeTransports()
			return nil, fmt.Errorf("daemon: port %d: %w", i, err)
		}
	}

	if cfg.BBMD != nil {
		if err := d.buildBBMD(*cfg.BBMD); err != nil {
			d.closeTransports()
			return nil, fmt.Errorf("daemon: bbmd: %w", err)
		}
	}

	if cfg.Storage != nil && !cfg.Storage.IsDisabled() {
		st, err := storage.Open(expandPath(cfg.Storage.Path))
		if err != nil {
			d.closeTransports()
			return nil, fmt.Errorf("daemon: open storage: %w", err)
		}
		d.store = st
		d.restoreBBMDSnapshot()
	}

	if cfg.API != nil {
		d.apiSrv = api.NewServer(api.ServerConfig{
			Addr:    cfg.API.ListenAddr,
			Token:   cfg.API.Token,
			Stats:   d.stats,
			Routes:  d.table,
			BBMD:    d.bbmdMgr,
			Version: version,
		})
	}

	return d, nil
}

func (d *Daemon) applyTSMConfig() {
	t := d.cfg.TSM
	if t.APDUTimeout > 0 {
		d.client.APDUTimeout = t.APDUTimeout
	}
	if t.APDURetries > 0 {
		d.client.MaxRetries = t.APDURetries
	}
	if t.SegmentTimeout > 0 {
		d.client.SegmentTimeout = t.SegmentTimeout
	}
}

func (d *Daemon) buildPort(id int, p config.Port) error {
	switch p.Kind() {
	case "bip":
		return d.buildBIPPort(id, p)
	case "sc":
		return d.buildSCPort(id, p)
	default:
		return fmt.Errorf("port has neither a bip nor an sc address configured")
	}
}

func (d *Daemon) buildBIPPort(id int, p config.Port) error {
	local, err := bip.ParseMac(p.BIPBindAddress)
	if err != nil {
		return err
	}
	broadcast := local
	if p.BIPBroadcast != "" {
		broadcast, err = bip.ParseMac(p.BIPBroadcast)
		if err != nil {
			return err
		}
	}

	portID := id
	network := p.Network
	t, err := bip.New(local, broadcast, func(payload []byte, src bip.Mac) {
		d.net.OnPortReceive(portID, src[:], stampSource(payload, network, src[:]))
	})
	if err != nil {
		return err
	}
	t.Logger = logging.New("bip", nil)

	d.bipTransports = append(d.bipTransports, t)
	d.table.AddPort(&router.RouterPort{ID: id, Network: p.Network, LocalMAC: local[:], Transport: t})
	return nil
}

func (d *Daemon) buildSCPort(id int, p config.Port) error {
	network := p.Network

	if p.SCHubMode {
		hub, err := newHubServer(p.SCListenURL, d.scVMAC, d.scUUID, sc.NewHub())
		if err != nil {
			return err
		}
		d.hub = hub
		return nil
	}

	var conn *sc.Connection
	node := &scNode{network: network, portID: id}
	switch {
	case p.SCDialURL != "":
		c, err := dialSCNode(p.SCDialURL, d.scVMAC, d.scUUID)
		if err != nil {
			return err
		}
		conn = c
	case p.SCListenURL != "":
		accepted := make(chan *sc.Connection, 1)
		srv, err := acceptSCNode(p.SCListenURL, d.scVMAC, d.scUUID, accepted)
		if err != nil {
			return err
		}
		select {
		case conn = <-accepted:
		case <-time.After(30 * time.Second):
			_ = srv.Close()
			return fmt.Errorf("sc: no peer connected to %s within 30s", p.SCListenURL)
		}
		node.listener = srv
	default:
		return fmt.Errorf("an sc port needs sc_listen_url and/or sc_dial_url")
	}

	d.wireSCNode(conn, network, id)
	node.conn = conn
	d.scNodes = append(d.scNodes, node)
	d.table.AddPort(&router.RouterPort{ID: id, Network: p.Network, LocalMAC: conn.PeerVMAC[:], Transport: node})
	return nil
}

func (d *Daemon) buildBBMD(cfg config.BBMD) error {
	if len(d.bipTransports) == 0 {
		return fmt.Errorf("a bbmd requires at least one bip port")
	}
	primary := d.bipTransports[0]
	primaryPortID, primaryNetwork := d.bipPortInfo(primary)
	self := primary.LocalMAC()

	m := bbmd.NewManager(self,
		func(frame []byte, dest bip.Mac) error { return primary.SendRawFrame(frame, dest) },
		func(npduPayload []byte, originator bip.Mac) {
			// The relayed NPDU is handed straight to the router as
			// though it had arrived directly on the BBMD's own port.
			d.net.OnPortReceive(primaryPortID, originator[:], stampSource(npduPayload, primaryNetwork, originator[:]))
		})
	m.SetAcceptRegistrations(cfg.AcceptRegistrations)

	if len(cfg.BDT) > 0 {
		entries := make([]bbmd.BDTEntry, 0, len(cfg.BDT))
		for _, s := range cfg.BDT {
			mac, err := bip.ParseMac(s)
			if err != nil {
				return err
			}
			entries = append(entries, bbmd.BDTEntry{Address: mac})
		}
		m.SetBDT(entries)
	}

	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = bbmd.DefaultGracePeriod
	}
	m.StartSweep(grace)

	primary.AttachBBMD(m)
	d.bbmdMgr = m
	return nil
}

func (d *Daemon) bipPortInfo(t *bip.Transport) (id int, network uint16) {
	for _, p := range d.table.GetAllPorts() {
		if p.Transport == t {
			return p.ID, p.Network
		}
	}
	return 0, 0
}

func (d *Daemon) restoreBBMDSnapshot() {
	if d.store == nil || d.bbmdMgr == nil {
		return
	}
	snap, err := d.store.LoadBBMDSnapshot()
	if err != nil || len(snap.BDT) == 0 {
		return
	}
	d.bbmdMgr.SetBDT(snap.BDT)
}

// Start brings up the one listener that isn't already live by the
// time NewDaemon returns: the API server.
func (d *Daemon) Start() error {
	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()

	if d.apiSrv != nil {
		if err := d.apiSrv.Start(); err != nil {
			return fmt.Errorf("daemon: start api server: %w", err)
		}
	}
	return nil
}

// Shutdown tears down every listener and transport, and persists the
// BBMD snapshot and run record if storage is enabled.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.apiSrv != nil {
		note(d.apiSrv.Shutdown(ctx))
	}

	if d.bbmdMgr != nil {
		d.bbmdMgr.StopSweep()
	}

	if d.store != nil {
		if d.bbmdMgr != nil {
			_ = d.store.SaveBBMDSnapshot(storage.BBMDSnapshot{BDT: d.bbmdMgr.BDT(), FDT: d.bbmdMgr.FDT()})
		}
		snap := d.stats.GetSnapshot()
		_ = d.store.AddRun(storage.RunRecord{
			StartedAt:             d.startedAt,
			Duration:              time.Since(d.startedAt),
			ConfigName:            d.configName,
			PortsBound:            len(d.table.GetAllPorts()),
			NPDURouted:            uint64(snap.NPDURouted),
			TransactionsCompleted: uint64(snap.TransactionsCompleted),
			Errors:                uint64(snap.NPDUDiscarded),
		})
		note(d.store.Close())
	}

	d.net.Close()
	d.closeTransports()

	if d.hub != nil {
		note(d.hub.close(ctx))
	}

	return firstErr
}

func (d *Daemon) closeTransports() {
	for _, t := range d.bipTransports {
		_ = t.Close()
	}
	for _, n := range d.scNodes {
		_ = n.close()
	}
}

// Stats exposes the daemon's live statistics registry, e.g. for
// cmd/bacstack-top.
func (d *Daemon) Stats() *stats.Statistics { return d.stats }

// RoutingTable exposes the daemon's routing table for inspection.
func (d *Daemon) RoutingTable() *router.RoutingTable { return d.table }

// ClientTSM exposes the daemon's client transaction state machine for
// embedding applications that initiate confirmed/unconfirmed requests
// of their own (addressed via PeerAddress).
func (d *Daemon) ClientTSM() *tsm.ClientTSM { return d.client }

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(path)
}
