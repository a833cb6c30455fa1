// Package store holds the in-memory state of every known sensor node: its
// last-reported telemetry, online/offline status (tracked by a watchdog),
// and a bounded ring of recent history points. It is grounded on
// sensor_store.py's SensorStore/NodeState/HistoryPoint classes.
package store

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	basestation "github.com/lss-lora/basestation"
)

// Config carries the §6 tunables that govern population and retention.
// OfflineTimeout is legally zero (every node goes offline the instant the
// watchdog ticks past its last contact) — a negative value requests the
// package default instead, since the Go zero value can't otherwise be
// told apart from "caller didn't set this". WatchdogInterval has no such
// zero-value meaning (time.NewTicker panics on a non-positive interval),
// so any non-positive value there always falls back to the default.
type Config struct {
	MaxNodes         int
	HistoryCap       int
	OfflineTimeout   time.Duration
	WatchdogInterval time.Duration
	Logger           *logrus.Logger
	// Timeseries, if non-nil, receives a best-effort durable copy of
	// every ingested history point. A nil Timeseries means in-memory only.
	Timeseries *Timeseries
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxNodes == 0 {
		out.MaxNodes = 10
	}
	if out.HistoryCap == 0 {
		out.HistoryCap = 120
	}
	if out.OfflineTimeout < 0 {
		out.OfflineTimeout = 300 * time.Second
	}
	if out.WatchdogInterval <= 0 {
		out.WatchdogInterval = 30 * time.Second
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// HistoryPoint is one retained sample of a node's state over time.
type HistoryPoint struct {
	Timestamp      time.Time
	BatteryPercent uint8
	RSSI           *float32
	SNR            *float32
	Values         map[basestation.ValueType]float32
}

// NodeState is the current snapshot of one tracked sensor node. Values
// returned to callers (GetNode/GetAllNodes) are copies — mutating them has
// no effect on the store.
type NodeState struct {
	NodeID         uint8
	Location       string
	Zone           string
	BatteryPercent uint8
	PowerState     uint8
	RSSI           *float32
	SNR            *float32
	LastSeen       time.Time
	Online         bool
	Values         map[basestation.ValueType]float32
	History        []HistoryPoint
}

func (n *NodeState) snapshot() NodeState {
	cp := *n
	cp.Values = make(map[basestation.ValueType]float32, len(n.Values))
	for k, v := range n.Values {
		cp.Values[k] = v
	}
	cp.History = append([]HistoryPoint(nil), n.History...)
	return cp
}

// Store is the fleet-wide node table plus its watchdog.
type Store struct {
	cfg Config

	mu    sync.Mutex
	nodes map[uint8]*NodeState

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Store and starts its watchdog goroutine.
func New(cfg Config) *Store {
	s := &Store{
		cfg:    cfg.withDefaults(),
		nodes:  make(map[uint8]*NodeState),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.watchdogLoop()
	return s
}

// Close stops the watchdog goroutine. It does not touch the Timeseries,
// which the caller owns independently.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return nil
}

// IngestMulti folds a parsed multi-sensor packet into the node's state,
// creating the node if this is its first contact. Reserved node ids are
// rejected; the node population cap is enforced on first contact only.
func (s *Store) IngestMulti(pkt *basestation.MultiSensorPacket) error {
	if basestation.IsReservedNode(pkt.SensorID) {
		s.cfg.Logger.WithField("node_id", pkt.SensorID).Debug("dropping multi-sensor packet from reserved node id")
		return basestation.ErrReservedNode
	}

	s.mu.Lock()
	node, err := s.getOrCreateLocked(pkt.SensorID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if pkt.Location != "" {
		node.Location = pkt.Location
	}
	if pkt.Zone != "" {
		node.Zone = pkt.Zone
	}
	node.BatteryPercent = pkt.BatteryPercent
	node.PowerState = pkt.PowerState
	if pkt.RSSI != nil {
		f := float32(*pkt.RSSI)
		node.RSSI = &f
	}
	node.SNR = pkt.SNR
	node.LastSeen = time.Now()
	node.Online = true
	for _, v := range pkt.Values {
		node.Values[v.Type] = v.Value
	}

	point := HistoryPoint{
		Timestamp:      node.LastSeen,
		BatteryPercent: node.BatteryPercent,
		RSSI:           node.RSSI,
		SNR:            node.SNR,
		Values:         cloneValues(node.Values),
	}
	node.History = appendRing(node.History, point, s.cfg.HistoryCap)
	nodeID := node.NodeID
	s.mu.Unlock()

	s.writeHistory(nodeID, point)
	return nil
}

// IngestLegacy folds a parsed v1 telemetry packet into the node's state.
// rssi/snr are reception metadata supplied by the radio layer out-of-band;
// legacy frames only ever report temperature and humidity.
func (s *Store) IngestLegacy(pkt *basestation.LegacyPacket, rssi, snr *float32) error {
	if basestation.IsReservedNode(pkt.SensorID) {
		s.cfg.Logger.WithField("node_id", pkt.SensorID).Debug("dropping legacy packet from reserved node id")
		return basestation.ErrReservedNode
	}

	s.mu.Lock()
	node, err := s.getOrCreateLocked(pkt.SensorID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	node.BatteryPercent = pkt.Battery
	if rssi != nil {
		node.RSSI = rssi
	} else {
		f := float32(pkt.RSSI)
		node.RSSI = &f
	}
	if snr != nil {
		node.SNR = snr
	} else {
		f := pkt.SNR
		node.SNR = &f
	}
	node.LastSeen = time.Now()
	node.Online = true
	node.Values[basestation.ValueTemperature] = pkt.Temperature
	node.Values[basestation.ValueHumidity] = pkt.Humidity

	point := HistoryPoint{
		Timestamp:      node.LastSeen,
		BatteryPercent: node.BatteryPercent,
		RSSI:           node.RSSI,
		SNR:            node.SNR,
		Values:         cloneValues(node.Values),
	}
	node.History = appendRing(node.History, point, s.cfg.HistoryCap)
	nodeID := node.NodeID
	s.mu.Unlock()

	s.writeHistory(nodeID, point)
	return nil
}

// getOrCreateLocked must be called with s.mu held.
func (s *Store) getOrCreateLocked(id uint8) (*NodeState, error) {
	if n, ok := s.nodes[id]; ok {
		return n, nil
	}
	if len(s.nodes) >= s.cfg.MaxNodes {
		s.cfg.Logger.WithField("node_id", id).Warn("node population cap reached, rejecting new node")
		return nil, basestation.ErrPopulationExceeded
	}
	n := &NodeState{
		NodeID: id,
		Values: make(map[basestation.ValueType]float32),
	}
	s.nodes[id] = n
	s.cfg.Logger.WithField("node_id", id).Info("registered new node")
	return n, nil
}

// GetNode returns a snapshot of one node's state, or (NodeState{}, false)
// if it isn't tracked.
func (s *Store) GetNode(id uint8) (NodeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return NodeState{}, false
	}
	return n.snapshot(), true
}

// GetAllNodes returns a snapshot of every tracked node.
func (s *Store) GetAllNodes() []NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NodeState, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.snapshot())
	}
	return out
}

// NodeCount reports how many nodes are currently tracked.
func (s *Store) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// GetHistory returns up to limit history points for id at or after since,
// oldest first. It prefers the durable Timeseries when configured, falling
// back to the in-memory ring (which only ever holds the most recent
// HistoryCap points) when there is none.
func (s *Store) GetHistory(id uint8, limit int, since time.Time) []HistoryPoint {
	if s.cfg.Timeseries != nil {
		pts, err := s.cfg.Timeseries.Query(id, since, limit)
		if err == nil {
			return pts
		}
		s.cfg.Logger.WithError(err).WithField("node_id", id).Error("durable history query failed, falling back to memory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	out := make([]HistoryPoint, 0, len(n.History))
	for _, p := range n.History {
		if p.Timestamp.Before(since) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Store) writeHistory(nodeID uint8, point HistoryPoint) {
	if s.cfg.Timeseries == nil {
		return
	}
	if err := s.cfg.Timeseries.Write(nodeID, point); err != nil {
		s.cfg.Logger.WithError(err).WithField("node_id", nodeID).Error("durable history write failed")
	}
}

func (s *Store) watchdogLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOffline()
		}
	}
}

func (s *Store) sweepOffline() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.Online && now.Sub(n.LastSeen) > s.cfg.OfflineTimeout {
			n.Online = false
			s.cfg.Logger.WithField("node_id", n.NodeID).Info("node marked offline by watchdog")
		}
	}
}

func cloneValues(m map[basestation.ValueType]float32) map[basestation.ValueType]float32 {
	cp := make(map[basestation.ValueType]float32, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func appendRing(ring []HistoryPoint, point HistoryPoint, cap int) []HistoryPoint {
	ring = append(ring, point)
	if len(ring) > cap {
		ring = ring[len(ring)-cap:]
	}
	return ring
}
