package router

import (
	"fmt"
	"regexp"
	"strings"

	"queryflow/pkg/types"
)

// Placeholder texts recorded for failed matches.
const (
	InvalidFormatText = "Invalid query format"
	UnknownTableText  = "No matching query found"
)

// selectPattern accepts Unicode space separators as well as ASCII whitespace.
var selectPattern = regexp.MustCompile(`(?i)^select[\s\p{Zs}]+\*[\s\p{Zs}]+from[\s\p{Zs}]+(\w+)`)

// Policy decides what an unmatched, non-empty query produces.
type Policy string

const (
	// PolicyStrict records a placeholder and reports the failure.
	PolicyStrict Policy = "strict"
	// PolicyGeneric answers with the generic example dataset.
	PolicyGeneric Policy = "generic"
)

// ParsePolicy converts a configuration value into a Policy. Empty means strict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyGeneric:
		return PolicyGeneric, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Status classifies the outcome of Run.
type Status string

const (
	StatusMatched       Status = "matched"
	StatusGeneric       Status = "generic"
	StatusInvalidFormat Status = "invalid_format"
	StatusUnknownTable  Status = "unknown_table"
	StatusEmpty         Status = "empty"
)

// Result is the outcome of running one query. Err is nil for matched and
// generic results and one of the package's sentinel errors otherwise.
type Result struct {
	Record types.QueryRecord
	Status Status
	Table  string
	Err    error
}

// OK reports whether the query produced a usable result set.
func (r Result) OK() bool {
	return r.Err == nil
}

// Router resolves free-text queries against a fixed catalog.
// It holds no per-session state and is safe for concurrent use.
type Router struct {
	catalog *Catalog
	policy  Policy
}

// NewRouter creates a router over catalog using the given fallback policy.
func NewRouter(catalog *Catalog, policy Policy) *Router {
	if policy == "" {
		policy = PolicyStrict
	}
	return &Router{
		catalog: catalog,
		policy:  policy,
	}
}

// Catalog returns the router's catalog.
func (r *Router) Catalog() *Catalog {
	return r.catalog
}

// Policy returns the fallback policy in effect.
func (r *Router) Policy() Policy {
	return r.policy
}

// Run resolves input and returns the result together with the history that
// results from it. history itself is left untouched.
//
// Blank input is rejected without touching the history. Any other input,
// matched or not, is pushed onto the head of the returned history.
func (r *Router) Run(input string, history History) (Result, History) {
	if strings.TrimSpace(input) == "" {
		return Result{Status: StatusEmpty, Err: ErrEmptyQuery}, history
	}

	res := r.resolve(input)
	return res, history.Push(res.Record)
}

func (r *Router) resolve(input string) Result {
	table, ok := ExtractTable(input)
	if !ok {
		if r.policy == PolicyGeneric {
			return Result{Record: genericRecord(strings.TrimSpace(input)), Status: StatusGeneric}
		}
		return Result{
			Record: placeholder(InvalidFormatText),
			Status: StatusInvalidFormat,
			Err:    ErrInvalidFormat,
		}
	}

	if rec, found := r.catalog.Lookup(table); found {
		return Result{Record: rec, Status: StatusMatched, Table: table}
	}

	if r.policy == PolicyGeneric {
		return Result{Record: genericRecord(strings.TrimSpace(input)), Status: StatusGeneric, Table: table}
	}
	return Result{
		Record: placeholder(UnknownTableText),
		Status: StatusUnknownTable,
		Table:  table,
		Err:    ErrUnknownTable,
	}
}

// Select returns the catalog record with the given ID.
func (r *Router) Select(id int) (types.QueryRecord, error) {
	rec, ok := r.catalog.ByID(id)
	if !ok {
		return types.QueryRecord{}, fmt.Errorf("%w: id %d", ErrQueryNotFound, id)
	}
	return rec, nil
}

// ExtractTable returns the lowercase table name of a "select * from <table>"
// query. Case, surrounding whitespace and anything after the table name are
// ignored.
func ExtractTable(text string) (string, bool) {
	m := selectPattern.FindStringSubmatch(normalize(text))
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func placeholder(text string) types.QueryRecord {
	return types.QueryRecord{
		ID:      types.SyntheticID,
		Text:    text,
		Columns: []string{},
		Rows:    []types.Row{},
	}
}
