package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"roadcore/internal/archive"
	"roadcore/internal/core"
)

type planJSON struct {
	Session  string         `json:"session"`
	Commands []string       `json:"commands"`
	Dirty    []core.Handle  `json:"dirty"`
	Deleted  []core.Handle  `json:"deleted"`
	Stats    core.PassStats `json:"stats"`
}

func planView(p core.Plan) planJSON {
	view := planJSON{
		Session:  p.SessionID,
		Commands: make([]string, 0, len(p.Commands)),
		Dirty:    p.Dirty,
		Deleted:  p.Deleted,
		Stats:    p.Stats,
	}
	for _, c := range p.Commands {
		view.Commands = append(view.Commands, c.String())
	}
	return view
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func handles(hs []core.Handle) string {
	if len(hs) == 0 {
		return "-"
	}
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = h.String()
	}
	return strings.Join(parts, " ")
}

func printPlan(w io.Writer, p core.Plan) {
	fmt.Fprintf(w, "session %s: %d commands\n", p.SessionID, len(p.Commands))
	for _, c := range p.Commands {
		fmt.Fprintf(w, "  %s\n", c)
	}
	fmt.Fprintf(w, "dirty: %s\n", handles(p.Dirty))
	fmt.Fprintf(w, "deleted: %s\n", handles(p.Deleted))
	s := p.Stats
	fmt.Fprintf(w, "records: created=%d replaced=%d edited=%d deleted=%d skipped=%d (nodes=%d identities=%d)\n",
		s.Created, s.Replaced, s.Edited, s.Deleted, s.Skipped, s.Nodes, s.IdentityEntries)
}

func printOutcome(w io.Writer, out core.Outcome) {
	printPlan(w, out.Plan)
	fmt.Fprintf(w, "applied %d commands, skipped %d\n", out.Replay.Applied, out.Replay.Skipped)
	printViolations(w, out.Result)
}

func printViolations(w io.Writer, res core.Result) {
	for _, v := range res.Violations {
		fmt.Fprintf(w, "%s %s %s %s: %s\n", v.Severity, v.Rule, v.Entity, v.Handle, v.Message)
	}
}

func printManifest(w io.Writer, m archive.Manifest) {
	fmt.Fprintf(w, "%s\t%s\tnodes=%d edges=%d sets=%d\t%s\n",
		m.Key, m.CreatedAt.UTC().Format(time.RFC3339), m.Nodes, m.Edges, m.ConnectionSets, m.Digest)
}
