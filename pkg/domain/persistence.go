package domain

import "context"

// Transaction exposes the network operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateNode(Node) (Node, error)
	UpdateNode(h Handle, mutator func(*Node) error) (Node, error)
	DeleteNode(h Handle) error
	CreateEdge(Edge) (Edge, error)
	UpdateEdge(h Handle, mutator func(*Edge) error) (Edge, error)
	DeleteEdge(h Handle) error
	CreateConnectionSet(ConnectionSet) (ConnectionSet, error)
	UpdateConnectionSet(h Handle, mutator func(*ConnectionSet) error) (ConnectionSet, error)
	DeleteConnectionSet(h Handle) error
	// Touch records a dirty marker for the node without changing it.
	Touch(h Handle) error
	FindNode(h Handle) (Node, bool)
	FindEdge(h Handle) (Edge, bool)
	FindConnectionSet(h Handle) (ConnectionSet, bool)
}

// TransactionView provides read-only access to network state.
type TransactionView interface {
	ListNodes() []Node
	ListEdges() []Edge
	ListConnectionSets() []ConnectionSet
	FindNode(h Handle) (Node, bool)
	FindEdge(h Handle) (Edge, bool)
	FindConnectionSet(h Handle) (ConnectionSet, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetNode(h Handle) (Node, bool)
	ListNodes() []Node
	GetEdge(h Handle) (Edge, bool)
	ListEdges() []Edge
	GetConnectionSet(h Handle) (ConnectionSet, bool)
	ListConnectionSets() []ConnectionSet
}
