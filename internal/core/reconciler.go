package core

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"roadcore/pkg/domain"
)

// Override record outcomes, used as metric labels and log values.
const (
	actionCreate  = "create"
	actionReplace = "replace"
	actionEdit    = "edit"
	actionDelete  = "delete"

	skipIdentityMiss  = "identity_miss"
	skipMissingRecord = "missing_record"
	skipMissingBuffer = "missing_buffer"
)

// reconcileNodes processes every shadow node carrying override work. Nodes
// are independent; batches run in parallel and only share the frozen identity
// map and the queue.
func (e *Engine) reconcileNodes(ctx context.Context, pass *passContext) (PassStats, error) {
	nodes := pass.session.PendingNodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Handle < nodes[j].Handle })

	var (
		mu    sync.Mutex
		total PassStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for start := 0; start < len(nodes); start += e.batchSize {
		batch := nodes[start:min(start+e.batchSize, len(nodes))]
		g.Go(func() error {
			var local PassStats
			for _, n := range batch {
				if err := gctx.Err(); err != nil {
					return err
				}
				stats, err := e.reconcileNode(pass, n)
				if err != nil {
					return err
				}
				local.add(stats)
			}
			mu.Lock()
			total.add(local)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PassStats{}, err
	}
	return total, nil
}

// nodeWork is the per-node working copy of the permanent override list.
type nodeWork struct {
	pass      *passContext
	shadow    domain.ShadowNode
	permanent domain.Handle
	list      *domain.OverrideList
	shaped    bool
	dirty     bool
	stats     PassStats
	logger    Logger
	metrics   *engineMetrics
}

func (e *Engine) reconcileNode(pass *passContext, n domain.ShadowNode) (PassStats, error) {
	w := &nodeWork{
		pass:      pass,
		shadow:    n,
		permanent: pass.nodeHandle(n.Handle),
		logger:    e.logger,
		metrics:   e.metrics,
	}
	current, exists := pass.view.FindNode(w.permanent)
	if exists {
		w.list = current.Overrides.Clone()
	}
	w.stats.Nodes = 1

	for _, r := range n.Overrides {
		if err := w.apply(r); err != nil {
			return PassStats{}, err
		}
	}

	if w.shaped {
		switch {
		case w.list != nil:
			if err := pass.enqueue(Command{Kind: CmdSetOverrides, Target: w.permanent, Overrides: w.list.Records}); err != nil {
				return PassStats{}, err
			}
		case exists && (current.Overrides != nil || current.Marker):
			if err := pass.enqueue(Command{Kind: CmdRemoveOverrides, Target: w.permanent}); err != nil {
				return PassStats{}, err
			}
		}
	}
	if w.dirty {
		if err := pass.enqueue(Command{Kind: CmdMarkDirty, Target: w.permanent}); err != nil {
			return PassStats{}, err
		}
	}
	for action, count := range map[string]int{
		actionCreate:  w.stats.Created,
		actionReplace: w.stats.Replaced,
		actionEdit:    w.stats.Edited,
		actionDelete:  w.stats.Deleted,
	} {
		if count > 0 {
			e.metrics.records.WithLabelValues(action).Add(float64(count))
		}
	}
	return w.stats, nil
}

// apply classifies one record and dispatches it. Create, Replace and Edit are
// exclusive; Delete is checked independently.
func (w *nodeWork) apply(r domain.OverrideRecord) error {
	set, ok := w.pass.session.ConnectionSets[r.ConnectionSet]
	if !ok {
		return nil
	}
	edge, edgeIsShadow := w.pass.session.Edges[r.Edge]
	edgeDeleted := edgeIsShadow && edge.Shadow.Flags.Has(domain.FlagDelete)

	var err error
	switch {
	case set.Shadow.Flags.Has(domain.FlagCreate) && !edgeDeleted:
		err = w.create(r, set)
	case set.Shadow.Flags.Has(domain.FlagModify) && !set.Shadow.Predecessor.IsEmpty() && !edgeDeleted:
		if edgeIsShadow && edge.Shadow.Predecessor.IsEmpty() {
			err = w.replace(r, set)
		} else {
			err = w.edit(r, set)
		}
	}
	if err != nil {
		return err
	}
	if set.Shadow.Flags.Has(domain.FlagDelete) && !set.Shadow.Predecessor.IsEmpty() {
		return w.remove(r, set)
	}
	return nil
}

func (w *nodeWork) skip(r domain.OverrideRecord, reason, action string) {
	w.stats.Skipped++
	w.metrics.skips.WithLabelValues(reason).Inc()
	w.logger.Debug("override record skipped",
		"node", w.permanent, "edge", r.Edge, "lane", r.Lane, "set", r.ConnectionSet,
		"action", action, "reason", reason)
}

// create adopts a freshly authored connection set into the permanent list.
func (w *nodeWork) create(r domain.OverrideRecord, set domain.ShadowConnectionSet) error {
	if !set.HasBuffer() {
		w.skip(r, skipMissingBuffer, actionCreate)
		return nil
	}
	rec := domain.OverrideRecord{Edge: w.pass.edgeHandle(r.Edge), Lane: r.Lane, ConnectionSet: set.Handle}
	if w.list == nil {
		w.list = &domain.OverrideList{}
	}
	if i := w.list.IndexOf(rec.Edge, rec.Lane); i >= 0 {
		// Overwrite in place so (edge, lane) stays unique.
		previous := w.list.Records[i].ConnectionSet
		w.list.Records[i] = rec
		if !previous.IsEmpty() && previous != set.Handle {
			if err := w.pass.enqueue(Command{Kind: CmdMarkDeleted, Target: previous}); err != nil {
				return err
			}
		}
	} else {
		w.list.Records = append(w.list.Records, rec)
	}
	if err := w.pass.enqueue(Command{
		Kind:        CmdCreateConnectionSet,
		Target:      set.Handle,
		Owner:       w.permanent,
		Connections: w.pass.patchConnections(set.Connections),
	}); err != nil {
		return err
	}
	w.shaped, w.dirty = true, true
	w.stats.Created++
	return nil
}

// replace moves an existing override onto the edge that took over its old
// edge at this node.
func (w *nodeWork) replace(r domain.OverrideRecord, set domain.ShadowConnectionSet) error {
	old, ok := w.pass.idMap.Lookup(w.shadow.Handle, r.Edge)
	if !ok {
		w.skip(r, skipIdentityMiss, actionReplace)
		return nil
	}
	i := w.list.IndexOf(old, r.Lane)
	if i < 0 {
		w.skip(r, skipMissingRecord, actionReplace)
		return nil
	}
	target := w.list.Records[i].ConnectionSet
	if _, ok := w.pass.view.FindConnectionSet(target); !ok || !set.HasBuffer() {
		w.skip(r, skipMissingBuffer, actionReplace)
		return nil
	}
	if err := w.pass.enqueue(Command{
		Kind:        CmdWriteConnections,
		Target:      target,
		Connections: w.pass.patchConnections(set.Connections),
	}); err != nil {
		return err
	}
	edge := w.pass.edgeHandle(r.Edge)
	w.list.Records[i].Edge = edge
	for j := range w.list.Records {
		if j == i || w.list.Records[j].Edge != edge || w.list.Records[j].Lane != r.Lane {
			continue
		}
		dup := w.list.SwapRemove(j)
		if !dup.ConnectionSet.IsEmpty() && dup.ConnectionSet != target {
			if err := w.pass.enqueue(Command{Kind: CmdMarkDeleted, Target: dup.ConnectionSet}); err != nil {
				return err
			}
		}
		break
	}
	if err := w.pass.enqueue(Command{Kind: CmdMarkDeleted, Target: set.Handle}); err != nil {
		return err
	}
	w.shaped, w.dirty = true, true
	w.stats.Replaced++
	return nil
}

// edit overwrites the connections of an override whose edge kept its identity.
// A Replace or Combine edge keeps its own handle, so the permanent record is
// found under the predecessor and rebound onto the new edge.
func (w *nodeWork) edit(r domain.OverrideRecord, set domain.ShadowConnectionSet) error {
	if !set.HasBuffer() {
		w.skip(r, skipMissingBuffer, actionEdit)
		return nil
	}
	source := w.pass.edgeHandle(r.Edge)
	i := w.list.IndexOf(source, r.Lane)
	rebind := false
	if edge, ok := w.pass.session.Edges[r.Edge]; i < 0 && ok && source != edge.Shadow.Predecessor && !edge.Shadow.Predecessor.IsEmpty() {
		i = w.list.IndexOf(edge.Shadow.Predecessor, r.Lane)
		rebind = i >= 0
	}
	if i < 0 || w.list.Records[i].ConnectionSet != set.Shadow.Predecessor {
		w.skip(r, skipMissingRecord, actionEdit)
		return nil
	}
	target := w.list.Records[i].ConnectionSet
	if _, ok := w.pass.view.FindConnectionSet(target); !ok {
		w.skip(r, skipMissingBuffer, actionEdit)
		return nil
	}
	if err := w.pass.enqueue(Command{
		Kind:        CmdWriteConnections,
		Target:      target,
		Connections: w.pass.patchConnections(set.Connections),
	}); err != nil {
		return err
	}
	if err := w.pass.enqueue(Command{Kind: CmdMarkDeleted, Target: set.Handle}); err != nil {
		return err
	}
	if rebind {
		w.list.Records[i].Edge = source
		w.shaped = true
	}
	w.dirty = true
	w.stats.Edited++
	return nil
}

// remove drops the record owning the deleted set's predecessor.
func (w *nodeWork) remove(r domain.OverrideRecord, set domain.ShadowConnectionSet) error {
	predecessor := set.Shadow.Predecessor
	i := w.list.IndexOfConnectionSet(predecessor)
	if i < 0 {
		w.skip(r, skipMissingRecord, actionDelete)
		return nil
	}
	if err := w.pass.enqueue(Command{Kind: CmdMarkDeleted, Target: predecessor}); err != nil {
		return err
	}
	w.list.SwapRemove(i)
	if w.list.Len() == 0 && !w.inIntersectionEdit() {
		w.list = nil
	}
	w.shaped, w.dirty = true, true
	w.stats.Deleted++
	return nil
}

func (w *nodeWork) inIntersectionEdit() bool {
	return w.pass.session.InIntersectionEdit(w.permanent) || w.pass.session.InIntersectionEdit(w.shadow.Handle)
}
