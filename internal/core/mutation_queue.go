package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"roadcore/pkg/domain"
)

var (
	// ErrQueueSealed is returned when enqueueing after the pass finished.
	ErrQueueSealed = errors.New("mutation queue is sealed")
	// ErrQueueNotSealed is returned when draining before the pass finished.
	ErrQueueNotSealed = errors.New("mutation queue is not sealed")
)

// CommandKind identifies a deferred structural mutation.
type CommandKind uint8

const (
	CmdCreateNode CommandKind = iota + 1
	CmdCreateEdge
	CmdUpdateEdge
	CmdCreateConnectionSet
	CmdWriteConnections
	CmdSetOverrides
	CmdRemoveOverrides
	CmdMarkDeleted
	CmdMarkDirty
)

var commandKindNames = map[CommandKind]string{
	CmdCreateNode:          "create_node",
	CmdCreateEdge:          "create_edge",
	CmdUpdateEdge:          "update_edge",
	CmdCreateConnectionSet: "create_connection_set",
	CmdWriteConnections:    "write_connections",
	CmdSetOverrides:        "set_overrides",
	CmdRemoveOverrides:     "remove_overrides",
	CmdMarkDeleted:         "mark_deleted",
	CmdMarkDirty:           "mark_dirty",
}

func (k CommandKind) String() string {
	if name, ok := commandKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", uint8(k))
}

// phase orders replay across kinds: the graph first, then connection data,
// then override lists, then deletions, then dirty markers.
func (k CommandKind) phase() int {
	switch k {
	case CmdCreateNode, CmdCreateEdge, CmdUpdateEdge:
		return 0
	case CmdCreateConnectionSet, CmdWriteConnections:
		return 1
	case CmdSetOverrides, CmdRemoveOverrides:
		return 2
	case CmdMarkDeleted:
		return 3
	default:
		return 4
	}
}

// Command is a single deferred mutation. Only the fields relevant to Kind are set.
type Command struct {
	Kind        CommandKind
	Target      domain.Handle
	Edge        domain.Edge
	Owner       domain.Handle
	Connections []domain.GeneratedConnection
	Overrides   []domain.OverrideRecord
	seq         uint64
}

// Seq returns the submission sequence number assigned by the queue.
func (c Command) Seq() uint64 { return c.seq }

func (c Command) String() string {
	switch c.Kind {
	case CmdCreateEdge, CmdUpdateEdge:
		return fmt.Sprintf("%s %s (%s->%s)", c.Kind, c.Target, c.Edge.Start, c.Edge.End)
	case CmdCreateConnectionSet:
		return fmt.Sprintf("%s %s owner=%s connections=%d", c.Kind, c.Target, c.Owner, len(c.Connections))
	case CmdWriteConnections:
		return fmt.Sprintf("%s %s connections=%d", c.Kind, c.Target, len(c.Connections))
	case CmdSetOverrides:
		return fmt.Sprintf("%s %s records=%d", c.Kind, c.Target, len(c.Overrides))
	default:
		return fmt.Sprintf("%s %s", c.Kind, c.Target)
	}
}

const queueShards = 8

type queueShard struct {
	mu   sync.Mutex
	cmds []Command
}

// MutationQueue is a sharded append log of commands issued during a pass.
// Commands become replayable only after Seal.
type MutationQueue struct {
	shards [queueShards]queueShard
	seq    atomic.Uint64
	sealed atomic.Bool
}

// NewMutationQueue returns an empty, open queue.
func NewMutationQueue() *MutationQueue {
	return &MutationQueue{}
}

// Enqueue appends cmd. It is safe for concurrent use.
func (q *MutationQueue) Enqueue(cmd Command) error {
	if q.sealed.Load() {
		return ErrQueueSealed
	}
	cmd.seq = q.seq.Add(1)
	sh := &q.shards[uint64(cmd.Target)%queueShards]
	sh.mu.Lock()
	sh.cmds = append(sh.cmds, cmd)
	sh.mu.Unlock()
	return nil
}

// Seal closes the queue for writes; the issuing pass has finished.
func (q *MutationQueue) Seal() { q.sealed.Store(true) }

// Len returns the number of pending commands.
func (q *MutationQueue) Len() int {
	n := 0
	for i := range q.shards {
		sh := &q.shards[i]
		sh.mu.Lock()
		n += len(sh.cmds)
		sh.mu.Unlock()
	}
	return n
}

// Drain removes and returns all commands in replay order. Each command is
// returned by exactly one Drain call.
func (q *MutationQueue) Drain() ([]Command, error) {
	if !q.sealed.Load() {
		return nil, ErrQueueNotSealed
	}
	var out []Command
	for i := range q.shards {
		sh := &q.shards[i]
		sh.mu.Lock()
		out = append(out, sh.cmds...)
		sh.cmds = nil
		sh.mu.Unlock()
	}
	sortCommands(out)
	return out, nil
}

func sortCommands(cmds []Command) {
	sort.SliceStable(cmds, func(i, j int) bool {
		pi, pj := cmds[i].Kind.phase(), cmds[j].Kind.phase()
		if pi != pj {
			return pi < pj
		}
		return cmds[i].seq < cmds[j].seq
	})
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Applied int
	Skipped int
	Deleted []domain.Handle
	Dirty   []domain.Handle
}

// Replay applies cmds to tx single-threaded in the given order. Commands whose
// target no longer resolves are skipped; any other failure aborts the replay.
func Replay(tx domain.Transaction, cmds []Command, logger Logger) (ReplayStats, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	var stats ReplayStats
	for _, cmd := range cmds {
		applied, err := applyCommand(tx, cmd)
		if err != nil {
			var nf domain.ErrNotFound
			if errors.As(err, &nf) {
				stats.Skipped++
				logger.Debug("replay target missing", "command", cmd.String(), "error", err)
				continue
			}
			return stats, fmt.Errorf("replay %s: %w", cmd, err)
		}
		if !applied {
			stats.Skipped++
			continue
		}
		stats.Applied++
		switch cmd.Kind {
		case CmdMarkDeleted:
			stats.Deleted = append(stats.Deleted, cmd.Target)
		case CmdMarkDirty:
			stats.Dirty = append(stats.Dirty, cmd.Target)
		}
	}
	return stats, nil
}

func applyCommand(tx domain.Transaction, cmd Command) (bool, error) {
	switch cmd.Kind {
	case CmdCreateNode:
		if _, ok := tx.FindNode(cmd.Target); ok {
			return false, nil
		}
		_, err := tx.CreateNode(domain.Node{Handle: cmd.Target})
		return err == nil, err
	case CmdCreateEdge:
		edge := cmd.Edge
		edge.Handle = cmd.Target
		if _, ok := tx.FindEdge(cmd.Target); ok {
			_, err := tx.UpdateEdge(cmd.Target, func(e *domain.Edge) error {
				e.Start, e.End = edge.Start, edge.End
				return nil
			})
			return err == nil, err
		}
		_, err := tx.CreateEdge(edge)
		return err == nil, err
	case CmdUpdateEdge:
		_, err := tx.UpdateEdge(cmd.Target, func(e *domain.Edge) error {
			e.Start, e.End = cmd.Edge.Start, cmd.Edge.End
			return nil
		})
		return err == nil, err
	case CmdCreateConnectionSet:
		conns := cloneConnections(cmd.Connections)
		if _, ok := tx.FindConnectionSet(cmd.Target); ok {
			_, err := tx.UpdateConnectionSet(cmd.Target, func(c *domain.ConnectionSet) error {
				c.Owner = cmd.Owner
				c.Connections = conns
				return nil
			})
			return err == nil, err
		}
		_, err := tx.CreateConnectionSet(domain.ConnectionSet{Handle: cmd.Target, Owner: cmd.Owner, Connections: conns})
		return err == nil, err
	case CmdWriteConnections:
		_, err := tx.UpdateConnectionSet(cmd.Target, func(c *domain.ConnectionSet) error {
			c.Connections = cloneConnections(cmd.Connections)
			return nil
		})
		return err == nil, err
	case CmdSetOverrides:
		_, err := tx.UpdateNode(cmd.Target, func(n *domain.Node) error {
			n.Overrides = &domain.OverrideList{Records: append([]domain.OverrideRecord{}, cmd.Overrides...)}
			n.Marker = true
			return nil
		})
		return err == nil, err
	case CmdRemoveOverrides:
		_, err := tx.UpdateNode(cmd.Target, func(n *domain.Node) error {
			n.Overrides = nil
			n.Marker = false
			return nil
		})
		return err == nil, err
	case CmdMarkDeleted:
		return markDeleted(tx, cmd.Target)
	case CmdMarkDirty:
		err := tx.Touch(cmd.Target)
		return err == nil, err
	default:
		return false, fmt.Errorf("unknown command kind %d", cmd.Kind)
	}
}

// markDeleted removes whichever permanent entity h names. Handles that only
// ever existed in the shadow session resolve to nothing and are ignored.
func markDeleted(tx domain.Transaction, h domain.Handle) (bool, error) {
	if _, ok := tx.FindNode(h); ok {
		return true, tx.DeleteNode(h)
	}
	if _, ok := tx.FindEdge(h); ok {
		return true, tx.DeleteEdge(h)
	}
	if _, ok := tx.FindConnectionSet(h); ok {
		return true, tx.DeleteConnectionSet(h)
	}
	return false, nil
}

func cloneConnections(in []domain.GeneratedConnection) []domain.GeneratedConnection {
	if in == nil {
		return []domain.GeneratedConnection{}
	}
	return append([]domain.GeneratedConnection{}, in...)
}
