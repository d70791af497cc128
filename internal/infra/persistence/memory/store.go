// Package memory provides an in-memory implementation of the network
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"roadcore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Handle aliases domain.Handle.
	Handle = domain.Handle
	// Node aliases domain.Node for in-memory persistence operations.
	Node = domain.Node
	// Edge aliases domain.Edge.
	Edge = domain.Edge
	// ConnectionSet aliases domain.ConnectionSet.
	ConnectionSet = domain.ConnectionSet
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	nodes map[Handle]Node
	edges map[Handle]Edge
	sets  map[Handle]ConnectionSet
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Nodes          map[Handle]Node          `json:"nodes"`
	Edges          map[Handle]Edge          `json:"edges"`
	ConnectionSets map[Handle]ConnectionSet `json:"connection_sets"`
}

func newMemoryState() memoryState {
	return memoryState{
		nodes: make(map[Handle]Node),
		edges: make(map[Handle]Edge),
		sets:  make(map[Handle]ConnectionSet),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Nodes:          make(map[Handle]Node, len(state.nodes)),
		Edges:          make(map[Handle]Edge, len(state.edges)),
		ConnectionSets: make(map[Handle]ConnectionSet, len(state.sets)),
	}
	for k, v := range state.nodes {
		s.Nodes[k] = cloneNode(v)
	}
	for k, v := range state.edges {
		s.Edges[k] = v
	}
	for k, v := range state.sets {
		s.ConnectionSets[k] = cloneConnectionSet(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	s = migrateSnapshot(s)
	state := newMemoryState()
	for k, v := range s.Nodes {
		state.nodes[k] = cloneNode(v)
	}
	for k, v := range s.Edges {
		state.edges[k] = v
	}
	for k, v := range s.ConnectionSets {
		state.sets[k] = cloneConnectionSet(v)
	}
	return state
}

// migrateSnapshot normalises snapshots written by older builds: map keys are
// re-derived from the stored handles and connection buffers are never nil.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	out := Snapshot{
		Nodes:          make(map[Handle]Node, len(snapshot.Nodes)),
		Edges:          make(map[Handle]Edge, len(snapshot.Edges)),
		ConnectionSets: make(map[Handle]ConnectionSet, len(snapshot.ConnectionSets)),
	}
	for k, n := range snapshot.Nodes {
		if n.Handle.IsEmpty() {
			n.Handle = k
		}
		if n.Overrides != nil && n.Overrides.Records == nil {
			n.Overrides.Records = []domain.OverrideRecord{}
		}
		out.Nodes[n.Handle] = n
	}
	for k, e := range snapshot.Edges {
		if e.Handle.IsEmpty() {
			e.Handle = k
		}
		out.Edges[e.Handle] = e
	}
	for k, c := range snapshot.ConnectionSets {
		if c.Handle.IsEmpty() {
			c.Handle = k
		}
		if c.Connections == nil {
			c.Connections = []domain.GeneratedConnection{}
		}
		out.ConnectionSets[c.Handle] = c
	}
	return out
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.nodes {
		cloned.nodes[k] = cloneNode(v)
	}
	for k, v := range s.edges {
		cloned.edges[k] = v
	}
	for k, v := range s.sets {
		cloned.sets[k] = cloneConnectionSet(v)
	}
	return cloned
}

func cloneNode(n Node) Node {
	cp := n
	cp.Overrides = n.Overrides.Clone()
	return cp
}

func cloneConnectionSet(c ConnectionSet) ConnectionSet {
	cp := c
	if c.Connections != nil {
		cp.Connections = append([]domain.GeneratedConnection{}, c.Connections...)
	}
	return cp
}

// Store provides an in-memory transactional store for the network.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
	}
}

// ExportState returns a deep copy snapshot of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the current state with the supplied snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the configured rules engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

type transaction struct {
	state   memoryState
	changes []Change
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListNodes() []Node {
	out := make([]Node, 0, len(v.state.nodes))
	for _, n := range v.state.nodes {
		out = append(out, cloneNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (v transactionView) ListEdges() []Edge {
	out := make([]Edge, 0, len(v.state.edges))
	for _, e := range v.state.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (v transactionView) ListConnectionSets() []ConnectionSet {
	out := make([]ConnectionSet, 0, len(v.state.sets))
	for _, c := range v.state.sets {
		out = append(out, cloneConnectionSet(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (v transactionView) FindNode(h Handle) (Node, bool) {
	n, ok := v.state.nodes[h]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

func (v transactionView) FindEdge(h Handle) (Edge, bool) {
	e, ok := v.state.edges[h]
	return e, ok
}

func (v transactionView) FindConnectionSet(h Handle) (ConnectionSet, bool) {
	c, ok := v.state.sets[h]
	if !ok {
		return ConnectionSet{}, false
	}
	return cloneConnectionSet(c), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn with a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view of the transaction's working state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindNode(h Handle) (Node, bool) {
	return newTransactionView(&tx.state).FindNode(h)
}

func (tx *transaction) FindEdge(h Handle) (Edge, bool) {
	return newTransactionView(&tx.state).FindEdge(h)
}

func (tx *transaction) FindConnectionSet(h Handle) (ConnectionSet, bool) {
	return newTransactionView(&tx.state).FindConnectionSet(h)
}

func (tx *transaction) CreateNode(n Node) (Node, error) {
	if n.Handle.IsEmpty() {
		return Node{}, fmt.Errorf("node handle required")
	}
	if _, exists := tx.state.nodes[n.Handle]; exists {
		return Node{}, fmt.Errorf("node %s already exists", n.Handle)
	}
	n = cloneNode(n)
	tx.state.nodes[n.Handle] = n
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionCreate, Handle: n.Handle, After: cloneNode(n)})
	return cloneNode(n), nil
}

func (tx *transaction) UpdateNode(h Handle, mutator func(*Node) error) (Node, error) {
	current, ok := tx.state.nodes[h]
	if !ok {
		return Node{}, domain.ErrNotFound{Entity: domain.EntityNode, Handle: h}
	}
	before := cloneNode(current)
	if err := mutator(&current); err != nil {
		return Node{}, err
	}
	current.Handle = h
	tx.state.nodes[h] = current
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionUpdate, Handle: h, Before: before, After: cloneNode(current)})
	return cloneNode(current), nil
}

// DeleteNode removes the node together with every connection set it owns.
func (tx *transaction) DeleteNode(h Handle) error {
	current, ok := tx.state.nodes[h]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityNode, Handle: h}
	}
	for sh, set := range tx.state.sets {
		if set.Owner != h {
			continue
		}
		delete(tx.state.sets, sh)
		tx.recordChange(Change{Entity: domain.EntityConnectionSet, Action: domain.ActionDelete, Handle: sh, Before: set})
	}
	delete(tx.state.nodes, h)
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionDelete, Handle: h, Before: current})
	return nil
}

func (tx *transaction) CreateEdge(e Edge) (Edge, error) {
	if e.Handle.IsEmpty() {
		return Edge{}, fmt.Errorf("edge handle required")
	}
	if _, exists := tx.state.edges[e.Handle]; exists {
		return Edge{}, fmt.Errorf("edge %s already exists", e.Handle)
	}
	tx.state.edges[e.Handle] = e
	tx.recordChange(Change{Entity: domain.EntityEdge, Action: domain.ActionCreate, Handle: e.Handle, After: e})
	return e, nil
}

func (tx *transaction) UpdateEdge(h Handle, mutator func(*Edge) error) (Edge, error) {
	current, ok := tx.state.edges[h]
	if !ok {
		return Edge{}, domain.ErrNotFound{Entity: domain.EntityEdge, Handle: h}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Edge{}, err
	}
	current.Handle = h
	tx.state.edges[h] = current
	tx.recordChange(Change{Entity: domain.EntityEdge, Action: domain.ActionUpdate, Handle: h, Before: before, After: current})
	return current, nil
}

func (tx *transaction) DeleteEdge(h Handle) error {
	current, ok := tx.state.edges[h]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityEdge, Handle: h}
	}
	delete(tx.state.edges, h)
	tx.recordChange(Change{Entity: domain.EntityEdge, Action: domain.ActionDelete, Handle: h, Before: current})
	return nil
}

func (tx *transaction) CreateConnectionSet(c ConnectionSet) (ConnectionSet, error) {
	if c.Handle.IsEmpty() {
		return ConnectionSet{}, fmt.Errorf("connection set handle required")
	}
	if _, exists := tx.state.sets[c.Handle]; exists {
		return ConnectionSet{}, fmt.Errorf("connection set %s already exists", c.Handle)
	}
	c = cloneConnectionSet(c)
	if c.Connections == nil {
		c.Connections = []domain.GeneratedConnection{}
	}
	tx.state.sets[c.Handle] = c
	tx.recordChange(Change{Entity: domain.EntityConnectionSet, Action: domain.ActionCreate, Handle: c.Handle, After: cloneConnectionSet(c)})
	return cloneConnectionSet(c), nil
}

func (tx *transaction) UpdateConnectionSet(h Handle, mutator func(*ConnectionSet) error) (ConnectionSet, error) {
	current, ok := tx.state.sets[h]
	if !ok {
		return ConnectionSet{}, domain.ErrNotFound{Entity: domain.EntityConnectionSet, Handle: h}
	}
	before := cloneConnectionSet(current)
	if err := mutator(&current); err != nil {
		return ConnectionSet{}, err
	}
	current.Handle = h
	tx.state.sets[h] = current
	tx.recordChange(Change{Entity: domain.EntityConnectionSet, Action: domain.ActionUpdate, Handle: h, Before: before, After: cloneConnectionSet(current)})
	return cloneConnectionSet(current), nil
}

func (tx *transaction) DeleteConnectionSet(h Handle) error {
	current, ok := tx.state.sets[h]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityConnectionSet, Handle: h}
	}
	delete(tx.state.sets, h)
	tx.recordChange(Change{Entity: domain.EntityConnectionSet, Action: domain.ActionDelete, Handle: h, Before: current})
	return nil
}

func (tx *transaction) Touch(h Handle) error {
	if _, ok := tx.state.nodes[h]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityNode, Handle: h}
	}
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionTouch, Handle: h})
	return nil
}

// GetNode returns a node by handle.
func (s *Store) GetNode(h Handle) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.state.nodes[h]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// ListNodes returns all nodes ordered by handle.
func (s *Store) ListNodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListNodes()
}

// GetEdge returns an edge by handle.
func (s *Store) GetEdge(h Handle) (Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.edges[h]
	return e, ok
}

// ListEdges returns all edges ordered by handle.
func (s *Store) ListEdges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListEdges()
}

// GetConnectionSet returns a connection set by handle.
func (s *Store) GetConnectionSet(h Handle) (ConnectionSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.sets[h]
	if !ok {
		return ConnectionSet{}, false
	}
	return cloneConnectionSet(c), true
}

// ListConnectionSets returns all connection sets ordered by handle.
func (s *Store) ListConnectionSets() []ConnectionSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListConnectionSets()
}
