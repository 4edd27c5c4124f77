package ledger

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Derived aggregates are always recomputed from the full set of related
// transactions. Summation is order-independent, so replaying an event or
// recomputing twice converges to the same value.

// Balance returns Σ(income - expense) over txs.
func Balance(txs []Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range txs {
		sum = sum.Add(t.Net())
	}
	return sum
}

// StatsOf returns count, total income and total expense over txs.
func StatsOf(txs []Transaction) CategoryStats {
	s := CategoryStats{TotalIncome: decimal.Zero, TotalExpense: decimal.Zero}
	for _, t := range txs {
		s.Count++
		s.TotalIncome = s.TotalIncome.Add(t.Income)
		s.TotalExpense = s.TotalExpense.Add(t.Expense)
	}
	return s
}

// MatchRule tells how a transaction was attributed to a project.
type MatchRule int

const (
	MatchNone MatchRule = iota
	MatchExactID
	MatchName
	MatchCodeSuffix
)

func (r MatchRule) String() string {
	switch r {
	case MatchExactID:
		return "exact_id"
	case MatchName:
		return "name"
	case MatchCodeSuffix:
		return "code_suffix"
	default:
		return "none"
	}
}

type resolverProject struct {
	id   string
	code string
	name string // normalized
}

// Resolver attributes transactions to projects. Rules are tried in order:
// exact project id, project name contained in the transaction's project
// name, transaction project id ending in the project code. The first rule
// matching any project wins.
type Resolver struct {
	projects []resolverProject
}

func NewResolver(projects []Project) *Resolver {
	r := &Resolver{projects: make([]resolverProject, 0, len(projects))}
	for _, p := range projects {
		r.projects = append(r.projects, resolverProject{
			id:   p.ID,
			code: strings.TrimSpace(p.Code),
			name: normalizeName(p.Name),
		})
	}
	sort.Slice(r.projects, func(i, j int) bool { return r.projects[i].id < r.projects[j].id })
	return r
}

// Resolve returns the id of the project t belongs to.
func (r *Resolver) Resolve(t Transaction) (string, MatchRule) {
	if t.ProjectID != "" {
		for _, p := range r.projects {
			if p.id == t.ProjectID {
				return p.id, MatchExactID
			}
		}
	}

	if name := normalizeName(t.ProjectName); name != "" {
		// the longest contained name is the most specific match
		best := -1
		for i, p := range r.projects {
			if p.name == "" || !strings.Contains(name, p.name) {
				continue
			}
			if best < 0 || len(p.name) > len(r.projects[best].name) {
				best = i
			}
		}
		if best >= 0 {
			return r.projects[best].id, MatchName
		}
	}

	if t.ProjectID != "" {
		for _, p := range r.projects {
			if p.code != "" && strings.HasSuffix(t.ProjectID, p.code) {
				return p.id, MatchCodeSuffix
			}
		}
	}

	return "", MatchNone
}

// ResolveRefs resolves the project of a prior reference snapshot.
func (r *Resolver) ResolveRefs(refs TransactionRefs) (string, MatchRule) {
	return r.Resolve(Transaction{ProjectID: refs.ProjectID, ProjectName: refs.ProjectName})
}

// ProjectSpend returns Σ expense of the transactions attributed to each
// project. Every project is present in the result, with zero if nothing
// is attributed to it.
func ProjectSpend(txs []Transaction, projects []Project) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(projects))
	for _, p := range projects {
		out[p.ID] = decimal.Zero
	}
	r := NewResolver(projects)
	for _, t := range txs {
		if id, rule := r.Resolve(t); rule != MatchNone {
			out[id] = out[id].Add(t.Expense)
		}
	}
	return out
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}
