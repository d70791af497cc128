package core

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"roadcore/pkg/domain"
)

// identityCandidates returns the shadow edges that can take over an old edge:
// newly materialised edges that are neither deleted nor replacements.
func identityCandidates(session *domain.Session) []domain.ShadowEdge {
	out := make([]domain.ShadowEdge, 0, len(session.Edges))
	for _, e := range session.Edges {
		if e.Shadow.Flags.Any(domain.FlagDelete | domain.FlagReplace) {
			continue
		}
		if !e.Shadow.Predecessor.IsEmpty() {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// BuildIdentityMap scans the session's shadow edges in parallel batches and
// returns a frozen map translating replaced edges at their junction nodes.
// The returned map is safe to read once this call returns.
func (e *Engine) BuildIdentityMap(ctx context.Context, view domain.TransactionView, session *domain.Session) (*IdentityMap, error) {
	candidates := identityCandidates(session)
	capacity := e.identityCapacity
	if capacity <= 0 {
		// two inserts for each of the two endpoints of every candidate
		capacity = 4 * len(candidates)
	}
	m := NewIdentityMap(capacity)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for start := 0; start < len(candidates); start += e.batchSize {
		end := min(start+e.batchSize, len(candidates))
		batch := candidates[start:end]
		g.Go(func() error {
			for _, edge := range batch {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := e.mapEdge(m, view, session, edge); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m.Freeze()
	e.metrics.identityEntries.Observe(float64(m.Len()))
	return m, nil
}

// mapEdge records, for each endpoint of edge that was split out of an old
// edge, the swap of old for edge at the junction on the far side.
func (e *Engine) mapEdge(m *IdentityMap, view domain.TransactionView, session *domain.Session, edge domain.ShadowEdge) error {
	topo := edge.Edge()
	for _, endpoint := range [2]domain.Handle{edge.Start, edge.End} {
		node, ok := session.Nodes[endpoint]
		if !ok || node.Shadow.Predecessor.IsEmpty() {
			continue
		}
		predecessor := node.Shadow.Predecessor
		if _, isEdge := view.FindEdge(predecessor); !isEdge {
			continue
		}
		junction := topo.Other(endpoint)
		err := m.InsertPair(junction, predecessor, edge.Handle)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrIdentityMapFull) || errors.Is(err, ErrIdentityMapFrozen) {
			e.logger.Error("identity map insert failed", "node", junction, "edge", edge.Handle, "error", err)
			return err
		}
		e.metrics.identityConflicts.Inc()
		e.logger.Warn("identity map conflict", "node", junction, "before", predecessor, "after", edge.Handle, "error", err)
	}
	return nil
}
