package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/imoveis/internal/core"
	"github.com/spf13/cobra"
)

// print writes v as indented JSON with --json, otherwise runs human.
func (c *cli) print(cmd *cobra.Command, v any, human func(p *printer)) error {
	if c.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	p := newPrinter(cmd.OutOrStdout())
	human(p)
	return p.flush()
}

// printer renders results as aligned text.
type printer struct {
	tw *tabwriter.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

func (p *printer) flush() error { return p.tw.Flush() }

func (p *printer) line(s string) { fmt.Fprintln(p.tw, s) }

func (p *printer) linef(format string, args ...any) { fmt.Fprintf(p.tw, format+"\n", args...) }

func (p *printer) references(entries []core.ReferenceEntry) {
	p.line("ID\tNAME")
	for _, e := range entries {
		p.linef("%d\t%s", e.ID, e.Name)
	}
}

func (p *printer) hierarchy(h core.Hierarchy) {
	p.linef("record\t%s\t%s\t%s", h.Record.Matricula, h.Record.ID, h.Record.Description)
	if h.Parent != nil {
		p.linef("parent\t%s\t%s\t%s", h.Parent.Matricula, h.Parent.ID, h.Parent.Description)
	} else {
		p.line("parent\t(principal)")
	}
	if len(h.Children) == 0 {
		p.line("children\t(none)")
		return
	}
	for _, c := range h.Children {
		p.linef("child\t%s\t%s\t%s", c.Matricula, c.ID, c.Description)
	}
}

func (p *printer) children(children []core.ChildSummary) {
	p.linef("%d child record(s) block the delete:", len(children))
	for _, c := range children {
		p.linef("  %s\t%s\t%s", c.Matricula, c.ID, c.Description)
	}
	p.line("repeat with --cascade to delete them too")
	p.flush()
}

func (p *printer) dependents(deps []core.Dependent) {
	p.line("TABLE\tCOLUMNS\tAUXILIARY")
	for _, d := range deps {
		p.linef("%s\t%s\t%t", d.Table, strings.Join(d.Columns, ","), d.Auxiliary)
	}
}

// deleteResult lists per-table counts, largest first.
func (p *printer) deleteResult(r core.DeleteResult) {
	tables := make([]string, 0, len(r.DeletedCounts))
	for t := range r.DeletedCounts {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool {
		ci, cj := r.DeletedCounts[tables[i]], r.DeletedCounts[tables[j]]
		if ci != cj {
			return ci > cj
		}
		return tables[i] < tables[j]
	})

	p.linef("deleted %s", r.RecordID)
	for _, t := range tables {
		p.linef("  %s\t%d", t, r.DeletedCounts[t])
	}
	p.linef("  total\t%d", r.Total())
}

func (p *printer) audit(entries []core.AuditEntry) {
	p.line("TIME\tACTION\tRECORD\tACTOR\tROWS")
	for _, e := range entries {
		actor := e.ActorName
		if actor == "" {
			actor = e.ActorID
		}
		p.linef("%s\t%s\t%s\t%s\t%d", e.CreatedAt.Format(time.RFC3339), e.Action, e.RecordID, actor, e.RowsAffected)
	}
}
