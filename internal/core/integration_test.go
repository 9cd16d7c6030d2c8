//go:build integration

package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/imoveis/internal/core"
	_ "github.com/JonMunkholm/imoveis/internal/core/references"
	"github.com/JonMunkholm/imoveis/internal/database"
	"github.com/JonMunkholm/imoveis/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func str(s string) *string { return &s }

func newService(t *testing.T, pg *testutil.PostgresContainer, mode core.UpdateMode) *core.Service {
	t.Helper()
	pg.Truncate(t)
	settings := core.DefaultSettings()
	settings.UpdateMode = mode
	return core.NewService(pg.Provider, settings)
}

func create(t *testing.T, svc *core.Service, in core.RecordInput) string {
	t.Helper()
	res, err := svc.CreateRecord(context.Background(), in)
	require.NoError(t, err)
	return res.ID
}

func countRows(t *testing.T, pg *testutil.PostgresContainer, table string) int {
	t.Helper()
	var n int
	err := pg.Pool().QueryRow(context.Background(), "SELECT count(*) FROM "+table).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestIntegration(t *testing.T) {
	pg := testutil.NewPostgresContainer(t)
	ctx := context.Background()

	t.Run("create clamps and resolves defaults", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		id := create(t, svc, core.RecordInput{
			Matricula:    str("  M-100 "),
			Area:         core.Num(2_000_000),
			Latitude:     core.Num(-120),
			PropertyType: str("Galpão"),
		})

		rec, err := svc.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "M-100", rec.Matricula)
		assert.Equal(t, 999999.0, rec.Area)
		assert.Equal(t, -90.0, rec.Latitude)
		assert.Nil(t, rec.PropertyType, "unknown name without fallback stays unset")
		require.NotNil(t, rec.TransferStatus)
		assert.Equal(t, "Pendente", rec.TransferStatus.Name)
		require.NotNil(t, rec.PossessionType)
		assert.Equal(t, "Próprio", rec.PossessionType.Name)
		require.NotNil(t, rec.BuildingUse)
		assert.Equal(t, "Residencial", rec.BuildingUse.Name)
		assert.True(t, rec.IsPrincipal())
	})

	t.Run("resolver synthesizes default once", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		first, err := svc.ResolveReference(ctx, string(core.CategoryTransferStatus), "Inexistente")
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := svc.ResolveReference(ctx, string(core.CategoryTransferStatus), "Outro")
		require.NoError(t, err)
		assert.Equal(t, *first, *second)

		entries, err := svc.ListReferences(ctx, string(core.CategoryTransferStatus))
		require.NoError(t, err)
		assert.Equal(t, []core.ReferenceEntry{{ID: *first, Name: "Pendente"}}, entries)

		none, err := svc.ResolveReference(ctx, string(core.CategoryPurpose), "Lazer")
		require.NoError(t, err)
		assert.Nil(t, none)
		assert.Equal(t, 0, countRows(t, pg, "purposes"))

		blank, err := svc.ResolveReference(ctx, string(core.CategoryBuildingUse), "   ")
		require.NoError(t, err)
		assert.Nil(t, blank)
	})

	t.Run("reject policy refuses out of range", func(t *testing.T) {
		pg.Truncate(t)
		svc := core.NewService(pg.Provider, core.Settings{NumericPolicy: core.NumericReject})

		_, err := svc.CreateRecord(ctx, core.RecordInput{Matricula: str("M-1"), Area: core.Num(-5)})
		assert.Equal(t, core.KindValidation, core.KindOf(err))
		assert.Equal(t, 0, countRows(t, pg, "properties"))
	})

	t.Run("hierarchy", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		parent := create(t, svc, core.RecordInput{Matricula: str("P-1"), Description: str("Fazenda")})
		child := create(t, svc, core.RecordInput{Matricula: str("C-1"), ParentID: str(parent)})

		h, err := svc.GetHierarchy(ctx, parent)
		require.NoError(t, err)
		assert.Nil(t, h.Parent)
		require.Len(t, h.Children, 1)
		assert.Equal(t, child, h.Children[0].ID.String())

		h, err = svc.GetHierarchy(ctx, child)
		require.NoError(t, err)
		require.NotNil(t, h.Parent)
		assert.Equal(t, "Fazenda", h.Parent.Description)

		_, err = svc.CreateRecord(ctx, core.RecordInput{Matricula: str("G-1"), ParentID: str(child)})
		assert.Equal(t, core.KindInvalidReference, core.KindOf(err), "grandchildren are not modeled")

		err = svc.UpdateRecord(ctx, parent, core.RecordInput{ParentID: str(parent)})
		assert.Equal(t, core.KindInvalidReference, core.KindOf(err))

		_, err = svc.CreateRecord(ctx, core.RecordInput{Matricula: str("X-1"), ParentID: str("00000000-0000-0000-0000-000000000001")})
		assert.Equal(t, core.KindInvalidReference, core.KindOf(err))

		list, err := svc.ListRecords(ctx, core.RecordFilter{PrincipalOnly: true})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "P-1", list[0].Matricula)
	})

	t.Run("delete without cascade changes nothing", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		parent := create(t, svc, core.RecordInput{Matricula: str("P-2")})
		create(t, svc, core.RecordInput{Matricula: str("C-2a"), ParentID: str(parent)})
		create(t, svc, core.RecordInput{Matricula: str("C-2b"), ParentID: str(parent)})

		_, err := svc.DeleteRecord(ctx, parent, false)
		require.Error(t, err)
		assert.Equal(t, core.KindConflictHasChildren, core.KindOf(err))
		assert.Len(t, core.ChildrenOf(err), 2)
		assert.Equal(t, 3, countRows(t, pg, "properties"))
	})

	t.Run("cascade delete removes dependents", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		parent := create(t, svc, core.RecordInput{
			Matricula:      str("P-3"),
			Infrastructure: &core.InfrastructureInput{Water: flag(true)},
		})
		child := create(t, svc, core.RecordInput{Matricula: str("C-3"), ParentID: str(parent)})
		_, err := pg.Pool().Exec(ctx,
			"INSERT INTO property_documents (property_id, reference) VALUES ($1, 'escritura'), ($2, 'iptu')",
			parent, child)
		require.NoError(t, err)

		result, err := svc.DeleteRecord(ctx, parent, true)
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.DeletedCounts["properties"])
		assert.Equal(t, int64(2), result.DeletedCounts["property_documents"])
		assert.Equal(t, int64(1), result.DeletedCounts["property_infrastructure"])

		_, err = svc.GetRecord(ctx, parent)
		assert.True(t, errors.Is(err, core.ErrNotFound))
		_, err = svc.GetRecord(ctx, child)
		assert.True(t, errors.Is(err, core.ErrNotFound))

		_, err = svc.DeleteRecord(ctx, parent, true)
		assert.Equal(t, core.KindNotFound, core.KindOf(err))

		require.Eventually(t, func() bool {
			entries, err := svc.AuditLog(ctx, core.AuditLogOptions{RecordID: parent})
			return err == nil && len(entries) > 0 && entries[0].Action == core.ActionRecordCascadeDelete
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("failed dependent delete rolls back", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		id := create(t, svc, core.RecordInput{Matricula: str("P-4")})
		_, err := pg.Pool().Exec(ctx, "INSERT INTO property_documents (property_id, reference) VALUES ($1, 'x')", id)
		require.NoError(t, err)

		_, err = pg.Pool().Exec(ctx, `
			CREATE OR REPLACE FUNCTION refuse_delete() RETURNS trigger AS $$
			BEGIN RAISE EXCEPTION 'refused'; END; $$ LANGUAGE plpgsql;
			CREATE TRIGGER refuse_delete BEFORE DELETE ON property_documents
				FOR EACH ROW EXECUTE FUNCTION refuse_delete();`)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, _ = pg.Pool().Exec(context.Background(), "DROP TRIGGER IF EXISTS refuse_delete ON property_documents")
		})

		_, err = svc.DeleteRecord(ctx, id, false)
		assert.Equal(t, core.KindIntegrityViolation, core.KindOf(err))

		_, err = svc.GetRecord(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, 1, countRows(t, pg, "property_documents"))
	})

	t.Run("failed delete on table without foreign key rolls back", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		id := create(t, svc, core.RecordInput{
			Matricula:      str("P-5"),
			Infrastructure: &core.InfrastructureInput{Water: flag(true)},
		})
		_, err := pg.Pool().Exec(ctx, "INSERT INTO property_documents (property_id, reference) VALUES ($1, 'x')", id)
		require.NoError(t, err)

		_, err = pg.Pool().Exec(ctx, `
			ALTER TABLE property_documents DROP CONSTRAINT property_documents_property_id_fkey;
			CREATE OR REPLACE FUNCTION refuse_delete() RETURNS trigger AS $$
			BEGIN RAISE EXCEPTION 'refused'; END; $$ LANGUAGE plpgsql;
			CREATE TRIGGER refuse_delete BEFORE DELETE ON property_documents
				FOR EACH ROW EXECUTE FUNCTION refuse_delete();`)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, err := pg.Pool().Exec(context.Background(), `
				DROP TRIGGER IF EXISTS refuse_delete ON property_documents;
				DELETE FROM property_documents WHERE property_id NOT IN (SELECT id FROM properties);
				ALTER TABLE property_documents ADD CONSTRAINT property_documents_property_id_fkey
					FOREIGN KEY (property_id) REFERENCES properties(id);`)
			require.NoError(t, err)
		})

		deps, err := svc.DiscoverDependents(ctx)
		require.NoError(t, err)
		var docs *core.Dependent
		for i := range deps {
			if deps[i].Table == "property_documents" {
				docs = &deps[i]
			}
		}
		require.NotNil(t, docs, "allow-listed table is found without a catalog entry")
		assert.True(t, docs.Auxiliary)

		_, err = svc.DeleteRecord(ctx, id, false)
		require.Error(t, err)
		assert.Equal(t, core.KindIntegrityViolation, core.KindOf(err))
		assert.Contains(t, err.Error(), "property_documents")

		rec, err := svc.GetRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec.Infrastructure)
		assert.True(t, rec.Infrastructure.Water)
		assert.Equal(t, 1, countRows(t, pg, "properties"))
		assert.Equal(t, 1, countRows(t, pg, "property_documents"))
		assert.Equal(t, 1, countRows(t, pg, "property_infrastructure"))
	})

	t.Run("infrastructure profile is stored with coerced flags", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		var in core.RecordInput
		require.NoError(t, json.Unmarshal([]byte(`{
			"matricula": "I-1",
			"infrastructure": {"water": "sim", "power": 1, "paving": "não", "sewage": "true"}
		}`), &in))
		id := create(t, svc, in)

		rec, err := svc.GetRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec.Infrastructure)
		assert.Equal(t, core.InfrastructureProfile{Water: true, Sewage: true, Power: true}, *rec.Infrastructure)

		plain := create(t, svc, core.RecordInput{Matricula: str("I-2")})
		rec, err = svc.GetRecord(ctx, plain)
		require.NoError(t, err)
		assert.Nil(t, rec.Infrastructure, "no profile row without flags")
	})

	t.Run("replace overwrites infrastructure profile", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		id := create(t, svc, core.RecordInput{
			Matricula:      str("I-3"),
			Infrastructure: &core.InfrastructureInput{Water: flag(true), Sewage: flag(true)},
		})
		require.NoError(t, svc.UpdateRecord(ctx, id, core.RecordInput{
			Matricula:      str("I-3"),
			Infrastructure: &core.InfrastructureInput{Power: flag(true)},
		}))

		rec, err := svc.GetRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec.Infrastructure)
		assert.Equal(t, core.InfrastructureProfile{Power: true}, *rec.Infrastructure)

		require.NoError(t, svc.UpdateRecord(ctx, id, core.RecordInput{Matricula: str("I-3")}))
		rec, err = svc.GetRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec.Infrastructure)
		assert.Equal(t, core.InfrastructureProfile{}, *rec.Infrastructure, "omitted profile is cleared")
		assert.Equal(t, 1, countRows(t, pg, "property_infrastructure"))
	})

	t.Run("patch merges infrastructure profile", func(t *testing.T) {
		svc := newService(t, pg, core.UpdatePatch)

		id := create(t, svc, core.RecordInput{
			Matricula:      str("I-4"),
			Infrastructure: &core.InfrastructureInput{Water: flag(true), Sewage: flag(true)},
		})
		require.NoError(t, svc.UpdateRecord(ctx, id, core.RecordInput{
			Infrastructure: &core.InfrastructureInput{Paving: flag(true), Sewage: flag(false)},
		}))

		rec, err := svc.GetRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec.Infrastructure)
		assert.Equal(t, core.InfrastructureProfile{Water: true, Paving: true}, *rec.Infrastructure)

		require.NoError(t, svc.UpdateRecord(ctx, id, core.RecordInput{Description: str("novo")}))
		rec, err = svc.GetRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec.Infrastructure)
		assert.Equal(t, core.InfrastructureProfile{Water: true, Paving: true}, *rec.Infrastructure)

		other := create(t, svc, core.RecordInput{Matricula: str("I-5")})
		require.NoError(t, svc.UpdateRecord(ctx, other, core.RecordInput{
			Infrastructure: &core.InfrastructureInput{StreetLighting: flag(true)},
		}))
		rec, err = svc.GetRecord(ctx, other)
		require.NoError(t, err)
		require.NotNil(t, rec.Infrastructure)
		assert.Equal(t, core.InfrastructureProfile{StreetLighting: true}, *rec.Infrastructure)
	})

	t.Run("concurrent duplicate creates", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		var ok, dup atomic.Int32
		var g errgroup.Group
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				_, err := svc.CreateRecord(ctx, core.RecordInput{Matricula: str("DUP-1")})
				switch {
				case err == nil:
					ok.Add(1)
				case core.KindOf(err) == core.KindDuplicateKey:
					dup.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(7), dup.Load())
	})

	t.Run("replace clears omitted fields", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		id := create(t, svc, core.RecordInput{Matricula: str("R-1"), Location: str("Centro"), Area: core.Num(10)})
		require.NoError(t, svc.UpdateRecord(ctx, id, core.RecordInput{Description: str("novo")}))

		rec, err := svc.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "R-1", rec.Matricula)
		assert.Equal(t, "novo", rec.Description)
		assert.Empty(t, rec.Location)
		assert.Zero(t, rec.Area)
	})

	t.Run("patch keeps omitted fields", func(t *testing.T) {
		svc := newService(t, pg, core.UpdatePatch)

		id := create(t, svc, core.RecordInput{Matricula: str("R-2"), Location: str("Centro"), Area: core.Num(10)})
		require.NoError(t, svc.UpdateRecord(ctx, id, core.RecordInput{Description: str("novo")}))

		rec, err := svc.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Centro", rec.Location)
		assert.Equal(t, 10.0, rec.Area)
		assert.Equal(t, "novo", rec.Description)
	})

	t.Run("update to taken matricula", func(t *testing.T) {
		svc := newService(t, pg, core.UpdatePatch)

		create(t, svc, core.RecordInput{Matricula: str("U-1")})
		id := create(t, svc, core.RecordInput{Matricula: str("U-2")})

		err := svc.UpdateRecord(ctx, id, core.RecordInput{Matricula: str("U-1")})
		assert.Equal(t, core.KindDuplicateKey, core.KindOf(err))
	})

	t.Run("dependents discovered from catalog", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		deps, err := svc.DiscoverDependents(ctx)
		require.NoError(t, err)

		tables := make(map[string]bool)
		for _, d := range deps {
			tables[d.Table] = true
		}
		assert.True(t, tables["property_documents"])
		assert.True(t, tables["property_infrastructure"])
	})

	t.Run("reconfigure swaps the pool", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)
		before := pg.Pool()

		require.NoError(t, pg.Provider.Reconfigure(ctx, database.Settings{URL: pg.URL}))
		assert.NotSame(t, before, pg.Pool())

		create(t, svc, core.RecordInput{Matricula: str("AFTER-1")})
	})

	t.Run("prune audit log", func(t *testing.T) {
		svc := newService(t, pg, core.UpdateReplace)

		old := time.Now().UTC().AddDate(0, 0, -400)
		for i := 0; i < 5; i++ {
			_, err := pg.Pool().Exec(ctx,
				"INSERT INTO audit_log (action, severity, record_id, created_at) VALUES ('record_create', 'low', $1, $2)",
				fmt.Sprintf("old-%d", i), old)
			require.NoError(t, err)
		}
		_, err := pg.Pool().Exec(ctx,
			"INSERT INTO audit_log (action, severity, record_id) VALUES ('record_create', 'low', 'recent')")
		require.NoError(t, err)

		n, err := svc.PruneAuditLog(ctx, time.Now().UTC().AddDate(0, 0, -365), 2)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.Equal(t, 1, countRows(t, pg, "audit_log"))
	})

	t.Run("records work without infrastructure table", func(t *testing.T) {
		svc := newService(t, pg, core.UpdatePatch)

		_, err := pg.Pool().Exec(ctx, "DROP TABLE property_infrastructure")
		require.NoError(t, err)
		t.Cleanup(func() {
			_, err := database.EnsureSchema(context.Background(), pg.Pool())
			require.NoError(t, err)
		})

		parent := create(t, svc, core.RecordInput{
			Matricula:      str("N-1"),
			Infrastructure: &core.InfrastructureInput{Water: flag(true)},
		})
		child := create(t, svc, core.RecordInput{Matricula: str("N-2"), ParentID: str(parent)})

		require.NoError(t, svc.UpdateRecord(ctx, parent, core.RecordInput{
			Description:    str("sem infraestrutura"),
			Infrastructure: &core.InfrastructureInput{Power: flag(true)},
		}))

		rec, err := svc.GetRecord(ctx, parent)
		require.NoError(t, err)
		assert.Equal(t, "sem infraestrutura", rec.Description)
		assert.Nil(t, rec.Infrastructure)

		deps, err := svc.DiscoverDependents(ctx)
		require.NoError(t, err)
		for _, d := range deps {
			assert.NotEqual(t, "property_infrastructure", d.Table)
		}

		result, err := svc.DeleteRecord(ctx, parent, true)
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.DeletedCounts["properties"])
		assert.NotContains(t, result.DeletedCounts, "property_infrastructure")

		_, err = svc.GetRecord(ctx, child)
		assert.True(t, errors.Is(err, core.ErrNotFound))
	})
}

func flag(b bool) *core.Flag {
	f := core.Flag(b)
	return &f
}
