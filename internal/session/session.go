// Package session loads edit sessions and permanent network fixtures from
// YAML files.
package session

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"roadcore/pkg/domain"
)

// LaneFile is a lane reference as written in YAML.
type LaneFile struct {
	Edge uint64 `yaml:"edge"`
	Lane int    `yaml:"lane"`
}

// ConnectionFile is a generated connection as written in YAML. Method names
// are road, track and pedestrian; road is assumed when empty.
type ConnectionFile struct {
	Source LaneFile `yaml:"source"`
	Target LaneFile `yaml:"target"`
	Method []string `yaml:"method,omitempty"`
	Unsafe bool     `yaml:"unsafe,omitempty"`
}

// RecordFile is an override record as written in YAML.
type RecordFile struct {
	Edge          uint64 `yaml:"edge"`
	Lane          int    `yaml:"lane"`
	ConnectionSet uint64 `yaml:"connection_set,omitempty"`
}

// ShadowNodeFile describes a shadow node. Omitting overrides means the node
// has no pending override work; an empty list means it has pending work that
// leaves no records.
type ShadowNodeFile struct {
	Handle      uint64       `yaml:"handle"`
	Flags       []string     `yaml:"flags,omitempty"`
	Predecessor uint64       `yaml:"predecessor,omitempty"`
	Overrides   []RecordFile `yaml:"overrides"`
}

// ShadowEdgeFile describes a shadow edge.
type ShadowEdgeFile struct {
	Handle      uint64   `yaml:"handle"`
	Flags       []string `yaml:"flags,omitempty"`
	Predecessor uint64   `yaml:"predecessor,omitempty"`
	Start       uint64   `yaml:"start"`
	End         uint64   `yaml:"end"`
}

// ShadowConnectionSetFile describes a shadow connection set. Omitting
// connections means the set has no buffer.
type ShadowConnectionSetFile struct {
	Handle      uint64           `yaml:"handle"`
	Flags       []string         `yaml:"flags,omitempty"`
	Predecessor uint64           `yaml:"predecessor,omitempty"`
	Owner       uint64           `yaml:"owner,omitempty"`
	Connections []ConnectionFile `yaml:"connections"`
}

// File is the YAML form of one edit session.
type File struct {
	ID                string                    `yaml:"id"`
	IntersectionEdits []uint64                  `yaml:"intersection_edits,omitempty"`
	Nodes             []ShadowNodeFile          `yaml:"nodes,omitempty"`
	Edges             []ShadowEdgeFile          `yaml:"edges,omitempty"`
	ConnectionSets    []ShadowConnectionSetFile `yaml:"connection_sets,omitempty"`
}

// Load reads the session file at path.
func Load(path string) (*domain.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode reads one session document from r.
func Decode(r io.Reader) (*domain.Session, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	return Parse(data)
}

// Parse converts a YAML session document into a domain session. Handles must
// be non-zero and unique across nodes, edges and connection sets.
func Parse(data []byte) (*domain.Session, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return f.Session()
}

// Session converts the file into a domain session.
func (f File) Session() (*domain.Session, error) {
	s := domain.NewSession(f.ID)
	seen := make(map[uint64]string)
	claim := func(kind string, h uint64) error {
		if h == 0 {
			return fmt.Errorf("%s with empty handle", kind)
		}
		if prev, dup := seen[h]; dup {
			return fmt.Errorf("handle %d used by both %s and %s", h, prev, kind)
		}
		seen[h] = kind
		return nil
	}

	for _, h := range f.IntersectionEdits {
		s.MarkIntersectionEdit(domain.Handle(h))
	}
	for _, n := range f.Nodes {
		if err := claim("node", n.Handle); err != nil {
			return nil, err
		}
		shadow, err := parseShadow(n.Flags, n.Predecessor)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", n.Handle, err)
		}
		s.AddNode(domain.ShadowNode{Handle: domain.Handle(n.Handle), Shadow: shadow, Overrides: records(n.Overrides)})
	}
	for _, e := range f.Edges {
		if err := claim("edge", e.Handle); err != nil {
			return nil, err
		}
		shadow, err := parseShadow(e.Flags, e.Predecessor)
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", e.Handle, err)
		}
		s.AddEdge(domain.ShadowEdge{
			Handle: domain.Handle(e.Handle),
			Shadow: shadow,
			Start:  domain.Handle(e.Start),
			End:    domain.Handle(e.End),
		})
	}
	for _, c := range f.ConnectionSets {
		if err := claim("connection set", c.Handle); err != nil {
			return nil, err
		}
		shadow, err := parseShadow(c.Flags, c.Predecessor)
		if err != nil {
			return nil, fmt.Errorf("connection set %d: %w", c.Handle, err)
		}
		conns, err := connections(c.Connections)
		if err != nil {
			return nil, fmt.Errorf("connection set %d: %w", c.Handle, err)
		}
		s.AddConnectionSet(domain.ShadowConnectionSet{
			Handle:      domain.Handle(c.Handle),
			Shadow:      shadow,
			Owner:       domain.Handle(c.Owner),
			Connections: conns,
		})
	}
	return s, nil
}

func parseShadow(names []string, predecessor uint64) (domain.Shadow, error) {
	flags, err := domain.ParseFlags(names)
	if err != nil {
		return domain.Shadow{}, err
	}
	return domain.Shadow{Flags: flags, Predecessor: domain.Handle(predecessor)}, nil
}

func records(in []RecordFile) []domain.OverrideRecord {
	if in == nil {
		return nil
	}
	out := make([]domain.OverrideRecord, len(in))
	for i, r := range in {
		out[i] = domain.OverrideRecord{Edge: domain.Handle(r.Edge), Lane: r.Lane, ConnectionSet: domain.Handle(r.ConnectionSet)}
	}
	return out
}

func connections(in []ConnectionFile) ([]domain.GeneratedConnection, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]domain.GeneratedConnection, len(in))
	for i, c := range in {
		method, err := parseMethod(c.Method)
		if err != nil {
			return nil, err
		}
		out[i] = domain.GeneratedConnection{
			Source: domain.LaneRef{Edge: domain.Handle(c.Source.Edge), Lane: c.Source.Lane},
			Target: domain.LaneRef{Edge: domain.Handle(c.Target.Edge), Lane: c.Target.Lane},
			Method: method,
			Unsafe: c.Unsafe,
		}
	}
	return out, nil
}

var methodNames = []struct {
	method domain.PathMethod
	name   string
}{
	{domain.MethodRoad, "road"},
	{domain.MethodTrack, "track"},
	{domain.MethodPedestrian, "pedestrian"},
}

func parseMethod(names []string) (domain.PathMethod, error) {
	if len(names) == 0 {
		return domain.MethodRoad, nil
	}
	var out domain.PathMethod
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, m := range methodNames {
			if m.name == name {
				out |= m.method
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown path method %q", raw)
		}
	}
	return out, nil
}

func methodList(m domain.PathMethod) []string {
	if m == domain.MethodRoad {
		return nil
	}
	var out []string
	for _, mn := range methodNames {
		if m&mn.method != 0 {
			out = append(out, mn.name)
		}
	}
	return out
}
