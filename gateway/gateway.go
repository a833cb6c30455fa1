// Package gateway runs the two long-lived goroutines that drive the radio
// — receive/dispatch and transmit/retry — and routes decoded frames into
// the store and command queue. Grounded on lora_manager.py's LoRaManager
// (_rx_loop/_tx_loop/_dispatch) and, for the goroutine-orchestration
// shape, on the teacher's RunNPI main loop.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	basestation "github.com/lss-lora/basestation"
	"github.com/lss-lora/basestation/internal/metrics"
	"github.com/lss-lora/basestation/queue"
	"github.com/lss-lora/basestation/radio"
	"github.com/lss-lora/basestation/store"
)

// Config carries the §6 loop-timing tunables plus the collaborators a
// gateway wires together.
type Config struct {
	Radio            radio.Radio
	Store            *store.Store
	Queue            *queue.Queue
	ReceiveTimeout   time.Duration // ~0.5s
	TXInterval       time.Duration // 20-50ms cadence
	TimeSyncInterval time.Duration // 3h
	Logger           *logrus.Logger
	// Metrics is optional; when nil the gateway simply skips instrumentation.
	Metrics *metrics.Metrics
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ReceiveTimeout == 0 {
		out.ReceiveTimeout = 500 * time.Millisecond
	}
	if out.TXInterval == 0 {
		out.TXInterval = 50 * time.Millisecond
	}
	if out.TimeSyncInterval == 0 {
		out.TimeSyncInterval = 3 * time.Hour
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// Gateway owns the radio and drives ingestion/transmission against the
// store and queue. It never blocks indefinitely except inside the radio's
// own bounded receive timeout.
type Gateway struct {
	cfg Config

	observers observerRegistry

	// lastTimeSync is touched only from the TX loop goroutine, so it
	// needs no lock. It is seeded to time.Now() at construction — not
	// zero — so the very first TX tick doesn't fire a synthetic
	// broadcast to every online node.
	lastTimeSync time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Gateway. Call Run to start its RX/TX loops.
func New(cfg Config) *Gateway {
	return &Gateway{
		cfg:          cfg.withDefaults(),
		lastTimeSync: time.Now(),
		stopCh:       make(chan struct{}),
	}
}

// RegisterObserver adds a collaborator notified of every ingested
// multi-sensor packet (mqttpub.Publisher, alerting.Evaluator, ...) and
// returns a handle that can later be passed to DeregisterObserver.
func (g *Gateway) RegisterObserver(o Observer) ObserverHandle { return g.observers.Register(o) }

// DeregisterObserver removes the observer previously added with h.
func (g *Gateway) DeregisterObserver(h ObserverHandle) { g.observers.Deregister(h) }

// Status forwards the radio's current status.
func (g *Gateway) Status() radio.Status { return g.cfg.Radio.Status() }

// Run starts the RX and TX loops and blocks until ctx is canceled or Stop
// is called.
func (g *Gateway) Run(ctx context.Context) {
	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.rxLoop(ctx)
	}()
	go func() {
		defer g.wg.Done()
		g.txLoop(ctx)
	}()
	<-ctx.Done()
	g.Stop()
}

// Stop signals both loops to exit and waits for them.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	g.wg.Wait()
}

func (g *Gateway) rxLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		default:
		}

		rec, err := g.cfg.Radio.Receive(ctx, g.cfg.ReceiveTimeout)
		if errors.Is(err, radio.ErrTimeout) {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if err != nil {
			g.cfg.Logger.WithError(err).Error("radio receive failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		g.dispatch(rec)
	}
}

func (g *Gateway) dispatch(rec radio.Reception) {
	kind := basestation.DetectKind(rec.Frame)
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.RXFramesTotal.WithLabelValues(kind.String()).Inc()
	}
	switch kind {
	case basestation.FrameMulti:
		pkt, err := basestation.ParseMulti(rec.Frame, rec.RSSI, rec.SNR)
		if err != nil {
			g.logFrameError("multi", err)
			return
		}
		g.handleMulti(pkt)
	case basestation.FrameLegacy:
		pkt, err := basestation.ParseLegacy(rec.Frame, rec.RSSI)
		if err != nil {
			g.logFrameError("legacy", err)
			return
		}
		g.handleLegacy(pkt, rec.RSSI, rec.SNR)
	case basestation.FrameAck:
		pkt, err := basestation.ParseAck(rec.Frame)
		if err != nil {
			g.logFrameError("ack", err)
			return
		}
		success := pkt.CommandType == basestation.CmdAck
		g.cfg.Queue.ProcessAck(pkt.TargetID, pkt.Seq, success)
	case basestation.FrameCommand:
		pkt, err := basestation.ParseCommand(rec.Frame)
		if err != nil {
			g.logFrameError("command", err)
			return
		}
		if pkt.CommandType == basestation.CmdSensorAnnounce {
			g.handleAnnounce(pkt.TargetID)
		}
	default:
		g.cfg.Logger.Info("dropping frame with unrecognized sync word")
	}
}

func (g *Gateway) logFrameError(kind string, err error) {
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.FrameErrorTotal.WithLabelValues(err.Error()).Inc()
	}
	entry := g.cfg.Logger.WithField("frame_kind", kind)
	switch {
	case errors.Is(err, basestation.ErrBadCrc), errors.Is(err, basestation.ErrBadSync):
		entry.Warn(err.Error())
	default:
		entry.WithError(err).Debug("frame rejected")
	}
}

func (g *Gateway) handleMulti(pkt *basestation.MultiSensorPacket) {
	if err := g.cfg.Store.IngestMulti(pkt); err != nil {
		g.cfg.Logger.WithField("node_id", pkt.SensorID).WithError(err).Debug("multi-sensor packet not ingested")
		return
	}
	g.cfg.Queue.ProcessPiggybackAck(pkt.SensorID, pkt.LastCommandSeq, pkt.AckStatus)
	g.observers.notify(pkt)
}

func (g *Gateway) handleLegacy(pkt *basestation.LegacyPacket, rssi *int8, snr *float32) {
	if err := g.cfg.Store.IngestLegacy(pkt, metadataFloat(rssi), snr); err != nil {
		g.cfg.Logger.WithField("node_id", pkt.SensorID).WithError(err).Debug("legacy packet not ingested")
		return
	}
	// Synthesize a minimal multi-sensor view so observers (mqttpub,
	// alerting) see legacy telemetry too, matching lora_manager.py's
	// _dispatch wrapping of legacy packets for its mqtt publisher.
	synth := &basestation.MultiSensorPacket{
		SensorID:       pkt.SensorID,
		NetworkID:      pkt.NetworkID,
		BatteryPercent: pkt.Battery,
		Values: []basestation.SensorValue{
			{Type: basestation.ValueTemperature, Value: pkt.Temperature},
			{Type: basestation.ValueHumidity, Value: pkt.Humidity},
		},
	}
	g.observers.notify(synth)
}

func (g *Gateway) handleAnnounce(nodeID uint8) {
	g.cfg.Logger.WithField("node_id", nodeID).Info("sensor announce received, queuing base welcome")
	g.cfg.Queue.EnqueueBaseWelcome(nodeID, uint32(time.Now().Unix()), 0)
}

func metadataFloat(rssi *int8) *float32 {
	if rssi == nil {
		return nil
	}
	f := float32(*rssi)
	return &f
}

func (g *Gateway) txLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.TXInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
		}

		g.maybeSendTimeSync()

		if cmd := g.cfg.Queue.NextDue(); cmd != nil {
			raw, err := cmd.RawPacket()
			if err != nil {
				g.cfg.Logger.WithError(err).Error("failed to serialize outbound command")
			} else if err := g.cfg.Radio.Send(ctx, raw); err != nil {
				g.cfg.Logger.WithError(err).Error("radio send failed, command left unmarked for retry")
			} else {
				if cmd.Attempts > 0 && g.cfg.Metrics != nil {
					g.cfg.Metrics.CommandRetries.Inc()
				}
				g.cfg.Queue.MarkSent(cmd.Seq)
				if g.cfg.Metrics != nil {
					g.cfg.Metrics.TXFramesTotal.Inc()
				}
			}
		}

		g.cfg.Queue.PurgeCompleted()
		g.reportGauges()
	}
}

func (g *Gateway) reportGauges() {
	if g.cfg.Metrics == nil {
		return
	}
	g.cfg.Metrics.NodeCount.Set(float64(g.cfg.Store.NodeCount()))
	g.cfg.Metrics.QueueDepth.Set(float64(len(g.cfg.Queue.AllPending())))
}

// maybeSendTimeSync enqueues an individual time-sync command to every
// currently online node once per TimeSyncInterval. Per spec, this targets
// each online node directly rather than the broadcast address, so each
// copy is independently ACKed and retried.
func (g *Gateway) maybeSendTimeSync() {
	now := time.Now()
	if now.Sub(g.lastTimeSync) < g.cfg.TimeSyncInterval {
		return
	}
	g.lastTimeSync = now
	for _, n := range g.cfg.Store.GetAllNodes() {
		if !n.Online {
			continue
		}
		g.cfg.Queue.EnqueueTimeSync(n.NodeID, uint32(now.Unix()), 0)
	}
	g.cfg.Logger.Info("time sync queued for all online nodes")
}
