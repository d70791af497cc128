package session

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"roadcore/internal/infra/persistence/memory"
	"roadcore/pkg/domain"
)

// NodeFile is a permanent node as written in YAML. A node without an
// overrides key has no override container; `overrides: []` is an empty one.
type NodeFile struct {
	Handle    uint64        `yaml:"handle"`
	Marker    bool          `yaml:"marker,omitempty"`
	Overrides *[]RecordFile `yaml:"overrides,omitempty"`
}

// EdgeFile is a permanent edge as written in YAML.
type EdgeFile struct {
	Handle uint64 `yaml:"handle"`
	Start  uint64 `yaml:"start"`
	End    uint64 `yaml:"end"`
}

// ConnectionSetFile is a permanent connection set as written in YAML.
type ConnectionSetFile struct {
	Handle      uint64           `yaml:"handle"`
	Owner       uint64           `yaml:"owner"`
	Connections []ConnectionFile `yaml:"connections,omitempty"`
}

// NetworkFile is the YAML form of the permanent network.
type NetworkFile struct {
	Nodes          []NodeFile          `yaml:"nodes,omitempty"`
	Edges          []EdgeFile          `yaml:"edges,omitempty"`
	ConnectionSets []ConnectionSetFile `yaml:"connection_sets,omitempty"`
}

// LoadNetwork reads a permanent network fixture.
func LoadNetwork(path string) (memory.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("reading network file: %w", err)
	}
	snapshot, err := ParseNetwork(data)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snapshot, nil
}

// ParseNetwork converts a YAML network document into a store snapshot.
func ParseNetwork(data []byte) (memory.Snapshot, error) {
	var f NetworkFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return memory.Snapshot{}, fmt.Errorf("parsing network: %w", err)
	}
	return f.Snapshot()
}

// Snapshot converts the file into a store snapshot.
func (f NetworkFile) Snapshot() (memory.Snapshot, error) {
	out := memory.Snapshot{
		Nodes:          make(map[domain.Handle]domain.Node, len(f.Nodes)),
		Edges:          make(map[domain.Handle]domain.Edge, len(f.Edges)),
		ConnectionSets: make(map[domain.Handle]domain.ConnectionSet, len(f.ConnectionSets)),
	}
	for _, n := range f.Nodes {
		h := domain.Handle(n.Handle)
		if h.IsEmpty() {
			return memory.Snapshot{}, fmt.Errorf("node with empty handle")
		}
		if _, dup := out.Nodes[h]; dup {
			return memory.Snapshot{}, fmt.Errorf("duplicate node %d", n.Handle)
		}
		node := domain.Node{Handle: h, Marker: n.Marker}
		if n.Overrides != nil {
			recs := records(*n.Overrides)
			if recs == nil {
				recs = []domain.OverrideRecord{}
			}
			node.Overrides = &domain.OverrideList{Records: recs}
		}
		out.Nodes[h] = node
	}
	for _, e := range f.Edges {
		h := domain.Handle(e.Handle)
		if h.IsEmpty() {
			return memory.Snapshot{}, fmt.Errorf("edge with empty handle")
		}
		if _, dup := out.Edges[h]; dup {
			return memory.Snapshot{}, fmt.Errorf("duplicate edge %d", e.Handle)
		}
		out.Edges[h] = domain.Edge{Handle: h, Start: domain.Handle(e.Start), End: domain.Handle(e.End)}
	}
	for _, c := range f.ConnectionSets {
		h := domain.Handle(c.Handle)
		if h.IsEmpty() {
			return memory.Snapshot{}, fmt.Errorf("connection set with empty handle")
		}
		if _, dup := out.ConnectionSets[h]; dup {
			return memory.Snapshot{}, fmt.Errorf("duplicate connection set %d", c.Handle)
		}
		conns, err := connections(c.Connections)
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("connection set %d: %w", c.Handle, err)
		}
		if conns == nil {
			conns = []domain.GeneratedConnection{}
		}
		out.ConnectionSets[h] = domain.ConnectionSet{Handle: h, Owner: domain.Handle(c.Owner), Connections: conns}
	}
	return out, nil
}

// MarshalNetwork renders snapshot in the fixture format, ordered by handle.
func MarshalNetwork(snapshot memory.Snapshot) ([]byte, error) {
	var f NetworkFile
	for _, n := range snapshot.Nodes {
		nf := NodeFile{Handle: uint64(n.Handle), Marker: n.Marker}
		if n.Overrides != nil {
			recs := make([]RecordFile, 0, n.Overrides.Len())
			for _, r := range n.Overrides.Records {
				recs = append(recs, RecordFile{Edge: uint64(r.Edge), Lane: r.Lane, ConnectionSet: uint64(r.ConnectionSet)})
			}
			nf.Overrides = &recs
		}
		f.Nodes = append(f.Nodes, nf)
	}
	for _, e := range snapshot.Edges {
		f.Edges = append(f.Edges, EdgeFile{Handle: uint64(e.Handle), Start: uint64(e.Start), End: uint64(e.End)})
	}
	for _, c := range snapshot.ConnectionSets {
		cf := ConnectionSetFile{Handle: uint64(c.Handle), Owner: uint64(c.Owner)}
		for _, conn := range c.Connections {
			cf.Connections = append(cf.Connections, ConnectionFile{
				Source: LaneFile{Edge: uint64(conn.Source.Edge), Lane: conn.Source.Lane},
				Target: LaneFile{Edge: uint64(conn.Target.Edge), Lane: conn.Target.Lane},
				Method: methodList(conn.Method),
				Unsafe: conn.Unsafe,
			})
		}
		f.ConnectionSets = append(f.ConnectionSets, cf)
	}
	sort.Slice(f.Nodes, func(i, j int) bool { return f.Nodes[i].Handle < f.Nodes[j].Handle })
	sort.Slice(f.Edges, func(i, j int) bool { return f.Edges[i].Handle < f.Edges[j].Handle })
	sort.Slice(f.ConnectionSets, func(i, j int) bool { return f.ConnectionSets[i].Handle < f.ConnectionSets[j].Handle })
	return yaml.Marshal(f)
}
