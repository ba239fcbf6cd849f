// Package transfer copies the relational graph in and out of the store:
// full snapshots for backup and restore, and the campus merge routine that
// walks the same dependency order.
package transfer

import (
	"fmt"
	"slices"
)

// MergePolicy says what happens to a campus reference when its campus is
// merged into another.
type MergePolicy int

const (
	// Repoint moves the reference to the surviving campus.
	Repoint MergePolicy = iota
	// Drop deletes the referencing row.
	Drop
)

// ForeignKey is a column holding the primary key of another table.
type ForeignKey struct {
	Column     string
	References string
}

// CampusRef is a column pointing at a campus, either by id or by name.
type CampusRef struct {
	Column  string
	ByName  bool
	OnMerge MergePolicy
}

// Table declares one table of the graph.
type Table struct {
	Name        string
	Columns     []string
	PrimaryKey  string
	ForeignKeys []ForeignKey
	CampusRefs  []CampusRef
}

func (t Table) columnIndex(name string) int {
	return slices.Index(t.Columns, name)
}

// Graph is the dependency declaration shared by restore and campus merge.
type Graph struct {
	tables  map[string]Table
	forward []string
}

// NewGraph validates the declarations and computes a stable topological
// order: among tables whose parents are placed, declaration order wins.
func NewGraph(tables ...Table) (*Graph, error) {
	g := &Graph{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if _, dup := g.tables[t.Name]; dup {
			return nil, fmt.Errorf("table %s declared twice", t.Name)
		}
		if t.columnIndex(t.PrimaryKey) < 0 {
			return nil, fmt.Errorf("table %s: primary key %s is not a column", t.Name, t.PrimaryKey)
		}
		g.tables[t.Name] = t
	}

	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if _, ok := g.tables[fk.References]; !ok {
				return nil, fmt.Errorf("table %s: %s references unknown table %s", t.Name, fk.Column, fk.References)
			}
			if t.columnIndex(fk.Column) < 0 {
				return nil, fmt.Errorf("table %s: foreign key %s is not a column", t.Name, fk.Column)
			}
		}
		for _, ref := range t.CampusRefs {
			if t.columnIndex(ref.Column) < 0 {
				return nil, fmt.Errorf("table %s: campus reference %s is not a column", t.Name, ref.Column)
			}
		}
	}

	placed := make(map[string]bool, len(tables))
	for len(g.forward) < len(tables) {
		progressed := false
		for _, t := range tables {
			if placed[t.Name] || !parentsPlaced(t, placed) {
				continue
			}
			placed[t.Name] = true
			g.forward = append(g.forward, t.Name)
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle among tables")
		}
	}

	return g, nil
}

func parentsPlaced(t Table, placed map[string]bool) bool {
	for _, fk := range t.ForeignKeys {
		if fk.References != t.Name && !placed[fk.References] {
			return false
		}
	}
	return true
}

// ForwardOrder lists tables parents first; used for inserts.
func (g *Graph) ForwardOrder() []string {
	return slices.Clone(g.forward)
}

// DeletionOrder lists tables children first; used for deletes.
func (g *Graph) DeletionOrder() []string {
	order := slices.Clone(g.forward)
	slices.Reverse(order)
	return order
}

// Table returns the declaration of name.
func (g *Graph) Table(name string) (Table, bool) {
	t, ok := g.tables[name]
	return t, ok
}

// CampusTable is the table campus references point at.
const CampusTable = "campuses"

// DefaultGraph declares the ledger schema. Activity logs are deliberately
// absent: they are never exported and never cleared.
func DefaultGraph() *Graph {
	g, err := NewGraph(
		Table{
			Name:       "settings",
			Columns:    []string{"key", "value", "updated_at"},
			PrimaryKey: "key",
		},
		Table{
			Name:       "benefit_slabs",
			Columns:    []string{"id", "referral_count", "year_fee_benefit_percent", "long_term_extra_percent", "base_long_term_percent"},
			PrimaryKey: "id",
		},
		Table{
			Name:       "fee_records",
			Columns:    []string{"id", "campus_name", "grade", "academic_year", "amount"},
			PrimaryKey: "id",
			CampusRefs: []CampusRef{{Column: "campus_name", ByName: true, OnMerge: Drop}},
		},
		Table{
			Name:       CampusTable,
			Columns:    []string{"id", "name", "city", "is_active"},
			PrimaryKey: "id",
		},
		Table{
			Name:        "admins",
			Columns:     []string{"id", "name", "email", "role", "campus_id"},
			PrimaryKey:  "id",
			ForeignKeys: []ForeignKey{{Column: "campus_id", References: CampusTable}},
			CampusRefs:  []CampusRef{{Column: "campus_id"}},
		},
		Table{
			Name: "ambassadors",
			Columns: []string{
				"id", "mobile", "name", "role", "campus_id", "confirmed_referral_count",
				"year_fee_benefit_percent", "long_term_benefit_percent", "is_five_star_member",
				"student_fee", "benefit_status", "last_active_year", "version", "created_at", "updated_at",
			},
			PrimaryKey:  "id",
			ForeignKeys: []ForeignKey{{Column: "campus_id", References: CampusTable}},
			CampusRefs:  []CampusRef{{Column: "campus_id"}},
		},
		Table{
			Name:       "students",
			Columns:    []string{"id", "ambassador_id", "campus_id", "name", "grade", "academic_year"},
			PrimaryKey: "id",
			ForeignKeys: []ForeignKey{
				{Column: "ambassador_id", References: "ambassadors"},
				{Column: "campus_id", References: CampusTable},
			},
			CampusRefs: []CampusRef{{Column: "campus_id"}},
		},
		Table{
			Name: "leads",
			Columns: []string{
				"id", "ambassador_id", "campus_id", "student_name", "parent_mobile", "grade",
				"lead_status", "confirmed_date", "created_at", "updated_at",
			},
			PrimaryKey: "id",
			ForeignKeys: []ForeignKey{
				{Column: "ambassador_id", References: "ambassadors"},
				{Column: "campus_id", References: CampusTable},
			},
			CampusRefs: []CampusRef{{Column: "campus_id"}},
		},
		Table{
			Name: "settlements",
			Columns: []string{
				"id", "ambassador_id", "amount", "status", "bank_reference", "payout_date",
				"remarks", "created_by", "processed_by", "created_at", "updated_at",
			},
			PrimaryKey:  "id",
			ForeignKeys: []ForeignKey{{Column: "ambassador_id", References: "ambassadors"}},
		},
		Table{
			Name:        "notifications",
			Columns:     []string{"id", "ambassador_id", "title", "body", "is_read", "created_at"},
			PrimaryKey:  "id",
			ForeignKeys: []ForeignKey{{Column: "ambassador_id", References: "ambassadors"}},
		},
		Table{
			Name:       "tickets",
			Columns:    []string{"id", "ambassador_id", "campus_id", "subject", "status", "created_at"},
			PrimaryKey: "id",
			ForeignKeys: []ForeignKey{
				{Column: "ambassador_id", References: "ambassadors"},
				{Column: "campus_id", References: CampusTable},
			},
			CampusRefs: []CampusRef{{Column: "campus_id"}},
		},
	)
	if err != nil {
		panic(err)
	}
	return g
}
