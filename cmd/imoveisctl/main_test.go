package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/imoveis/internal/core"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(fn func(p *printer)) string {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	fn(p)
	p.flush()
	return buf.String()
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()

	want := []string{"migrate", "seed", "ping", "resolve", "references", "hierarchy", "dependents", "delete", "audit", "prune-audit"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
		assert.NotNil(t, cmd.RunE, name)
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("json"))
}

func TestDeleteCommand_Flags(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"delete"})
	require.NoError(t, err)

	flag := cmd.Flags().Lookup("cascade")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		args    []string
		wantErr bool
	}{
		{[]string{"resolve", "purpose"}, true},
		{[]string{"hierarchy"}, true},
		{[]string{"delete", "a", "b"}, true},
		{[]string{"dependents", "extra"}, true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			root := newRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)
			err := root.Execute()
			if tt.wantErr {
				assert.Error(t, err)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	conflict := &core.Error{Kind: core.KindConflictHasChildren, Message: "has children"}
	assert.Equal(t, exitConflict, exitCode(conflict))
	assert.Equal(t, exitError, exitCode(&core.Error{Kind: core.KindNotFound}))
	assert.Equal(t, exitError, exitCode(errors.New("boom")))
}

func TestPrinter_References(t *testing.T) {
	out := render(func(p *printer) {
		p.references([]core.ReferenceEntry{{ID: 1, Name: "Não informado"}, {ID: 2, Name: "Lazer"}})
	})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "Não informado")
	assert.Contains(t, lines[2], "Lazer")
}

func TestPrinter_Hierarchy(t *testing.T) {
	parentID := uuid.New()
	h := core.Hierarchy{
		Record: core.RecordSummary{ID: uuid.New(), Matricula: "M-2", Description: "Lote 2", ParentID: &parentID},
		Parent: &core.RecordSummary{ID: parentID, Matricula: "M-1", Description: "Fazenda"},
	}

	out := render(func(p *printer) { p.hierarchy(h) })
	assert.Contains(t, out, "M-2")
	assert.Contains(t, out, "M-1")
	assert.Contains(t, out, "(none)")

	principal := core.Hierarchy{
		Record:   core.RecordSummary{ID: parentID, Matricula: "M-1"},
		Children: []core.ChildSummary{{ID: uuid.New(), Matricula: "M-2"}},
	}
	out = render(func(p *printer) { p.hierarchy(principal) })
	assert.Contains(t, out, "(principal)")
	assert.Contains(t, out, "child")
}

func TestPrinter_DeleteResult(t *testing.T) {
	r := core.DeleteResult{
		RecordID: "abc",
		DeletedCounts: map[string]int64{
			"properties":              2,
			"property_documents":      5,
			"property_infrastructure": 2,
		},
	}

	out := render(func(p *printer) { p.deleteResult(r) })
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "deleted abc")
	assert.Contains(t, lines[1], "property_documents")
	assert.Contains(t, lines[2], "properties")
	assert.Contains(t, lines[3], "property_infrastructure")
	assert.Contains(t, lines[4], "9")
}

func TestPrinter_Children(t *testing.T) {
	out := render(func(p *printer) {
		p.children([]core.ChildSummary{{ID: uuid.New(), Matricula: "C-1", Description: "Casa"}})
	})
	assert.Contains(t, out, "1 child record(s)")
	assert.Contains(t, out, "C-1")
	assert.Contains(t, out, "--cascade")
}

func TestPrinter_AuditFallsBackToActorID(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := render(func(p *printer) {
		p.audit([]core.AuditEntry{{Action: core.ActionRecordDelete, RecordID: "r1", ActorID: "u-7", RowsAffected: 4, CreatedAt: at}})
	})
	assert.Contains(t, out, "2026-03-01T12:00:00Z")
	assert.Contains(t, out, "u-7")
}

func TestPrint_JSON(t *testing.T) {
	c := &cli{jsonOutput: true}
	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	called := false
	err := c.print(cmd, map[string]int{"inserted": 3}, func(p *printer) { called = true })
	require.NoError(t, err)
	assert.False(t, called)
	assert.JSONEq(t, `{"inserted": 3}`, buf.String())
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, `accepts 1 arg(s), received 0`, errorText(errors.New("accepts 1 arg(s), received 0")))

	text := errorText(&core.Error{Kind: core.KindNotFound, Message: "record abc not found"})
	assert.Contains(t, text, "REC004")
	assert.Contains(t, text, "record abc not found")
}
