// Package queue implements the outbound command queue: enqueue, due-for-send
// selection with bounded retries, and ACK/NACK correlation (including
// piggybacked ACKs carried on multi-sensor telemetry). Grounded on
// remote_config.py's RemoteConfig/PendingCommand.
package queue

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	basestation "github.com/lss-lora/basestation"
)

// Config carries the §6 retry tunables. RetryCount and RetryTimeout are
// both legally zero (a queue that never retries, or retries immediately)
// — a negative value requests the package default instead, since the Go
// zero value can't otherwise be told apart from "caller didn't set this".
type Config struct {
	RetryCount   int
	RetryTimeout time.Duration
	Logger       *logrus.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RetryCount < 0 {
		out.RetryCount = 3
	}
	if out.RetryTimeout < 0 {
		out.RetryTimeout = 12 * time.Second
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// PendingCommand is one outbound command tracked through its lifecycle:
// NEW (Attempts == 0) -> READY -> IN_FLIGHT (after MarkSent) ->
// ACKED/FAILED (terminal, ResultCallback fires exactly once).
type PendingCommand struct {
	NodeID        uint8
	CommandType   uint8
	Seq           uint8
	Data          []byte
	EnqueuedAt    time.Time
	Attempts      int
	LastAttemptAt time.Time
	Acked         bool
	Failed        bool
}

// RawPacket serializes this command as an on-air frame.
func (p *PendingCommand) RawPacket() ([]byte, error) {
	return basestation.BuildCommand(p.CommandType, p.NodeID, p.Seq, p.Data)
}

// done reports whether this entry has reached a terminal state.
func (p *PendingCommand) done() bool {
	return p.Acked || p.Failed
}

// ResultFunc is invoked exactly once per command, when it transitions to
// ACKED or FAILED.
type ResultFunc func(cmd *PendingCommand, success bool)

// Queue is the mutex-guarded outbound command queue.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	seq      uint8
	items    []*PendingCommand
	onResult ResultFunc
}

// New constructs an empty Queue. The sequence generator starts at 1 — 0 is
// the piggyback-ACK sentinel meaning "no command outstanding" — but after
// wrapping past 255 it hands out 0 as a live sequence number too.
func New(cfg Config) *Queue {
	return &Queue{cfg: cfg.withDefaults(), seq: 1}
}

// SetResultCallback installs the function invoked when a command reaches a
// terminal state. It is not safe to change once commands are in flight in
// a way that might race with a pending fire, so callers should set this
// once at startup.
func (q *Queue) SetResultCallback(fn ResultFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onResult = fn
}

// Enqueue appends a new command for nodeID and returns its sequence number.
func (q *Queue) Enqueue(nodeID, commandType uint8, data []byte) uint8 {
	q.mu.Lock()
	defer q.mu.Unlock()
	seq := q.nextSeqLocked()
	cmd := &PendingCommand{
		NodeID:      nodeID,
		CommandType: commandType,
		Seq:         seq,
		Data:        data,
		EnqueuedAt:  time.Now(),
	}
	q.items = append(q.items, cmd)
	q.cfg.Logger.WithFields(logrus.Fields{
		"node_id": nodeID,
		"seq":     seq,
		"command": basestation.CommandName(commandType),
	}).Debug("command enqueued")
	return seq
}

func (q *Queue) nextSeqLocked() uint8 {
	s := q.seq
	q.seq++ // uint8 wraps 255 -> 0; 0 is a live seq, not skipped — only
	// ProcessPiggybackAck treats a 0 argument as the no-op sentinel.
	return s
}

// NextDue scans the queue in enqueue order and returns the first command
// ready to be (re)transmitted: either it has never been sent, or its retry
// timeout has elapsed. Commands that have exhausted their retry budget are
// marked FAILED and their result callback fires, then scanning continues —
// they are never returned for transmission. Returns nil if nothing is due.
func (q *Queue) NextDue() *PendingCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for _, cmd := range q.items {
		if cmd.done() {
			continue
		}
		if cmd.Attempts == 0 {
			return cmd
		}
		elapsed := now.Sub(cmd.LastAttemptAt)
		if elapsed < q.cfg.RetryTimeout {
			continue
		}
		if cmd.Attempts >= q.cfg.RetryCount {
			cmd.Failed = true
			q.cfg.Logger.WithFields(logrus.Fields{
				"node_id": cmd.NodeID,
				"seq":     cmd.Seq,
				"command": basestation.CommandName(cmd.CommandType),
			}).Warn("command retries exhausted, marking failed")
			q.fireResultLocked(cmd, false)
			continue
		}
		return cmd
	}
	return nil
}

// MarkSent records a transmission attempt for the command with the given
// sequence number. A radio send failure must not call this — leaving the
// entry at Attempts==0 (or its prior count) gives it a free retry on the
// next TX loop tick, matching lora_manager.py's _tx_loop behavior.
func (q *Queue) MarkSent(seq uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd := q.findBySeqLocked(seq)
	if cmd == nil {
		return
	}
	cmd.Attempts++
	cmd.LastAttemptAt = time.Now()
}

// ProcessAck correlates an inbound ACK/NACK frame with its PendingCommand
// by sequence number, verifying the node id matches. Returns false if no
// matching, still-pending command was found.
func (q *Queue) ProcessAck(nodeID, seq uint8, success bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd := q.findBySeqLocked(seq)
	if cmd == nil || cmd.NodeID != nodeID || cmd.done() {
		return false
	}
	if success {
		cmd.Acked = true
	} else {
		cmd.Failed = true
	}
	q.cfg.Logger.WithFields(logrus.Fields{
		"node_id": nodeID,
		"seq":     seq,
		"command": basestation.CommandName(cmd.CommandType),
	}).Info("command ack processed")
	q.fireResultLocked(cmd, success)
	return true
}

// ProcessPiggybackAck interprets a multi-sensor packet's last_command_seq
// and ack_status fields. lastCmdSeq == 0 is the "no command outstanding"
// sentinel and is a no-op.
func (q *Queue) ProcessPiggybackAck(nodeID, lastCmdSeq, ackStatus uint8) bool {
	if lastCmdSeq == 0 {
		return false
	}
	return q.ProcessAck(nodeID, lastCmdSeq, ackStatus == 0)
}

func (q *Queue) findBySeqLocked(seq uint8) *PendingCommand {
	for _, cmd := range q.items {
		if cmd.Seq == seq {
			return cmd
		}
	}
	return nil
}

func (q *Queue) fireResultLocked(cmd *PendingCommand, success bool) {
	if q.onResult == nil {
		return
	}
	cb := q.onResult
	go cb(cmd, success)
}

// PendingForNode returns every not-yet-terminal command queued for nodeID.
func (q *Queue) PendingForNode(nodeID uint8) []*PendingCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*PendingCommand
	for _, cmd := range q.items {
		if cmd.NodeID == nodeID && !cmd.done() {
			out = append(out, cmd)
		}
	}
	return out
}

// AllPending returns every not-yet-terminal command in the queue.
func (q *Queue) AllPending() []*PendingCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*PendingCommand
	for _, cmd := range q.items {
		if !cmd.done() {
			out = append(out, cmd)
		}
	}
	return out
}

// PurgeCompleted removes every ACKED/FAILED entry and reports how many
// were removed.
func (q *Queue) PurgeCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	removed := 0
	for _, cmd := range q.items {
		if cmd.done() {
			removed++
			continue
		}
		kept = append(kept, cmd)
	}
	q.items = kept
	return removed
}
