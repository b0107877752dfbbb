// Package tegdb is TegDB's top-level facade (spec §4.I): open/close a
// database handle, run ad hoc or prepared statements, and manage explicit
// transactions, all against the single-writer storage engine underneath.
package tegdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/minifish-org/tegdb/pkg/catalog"
	"github.com/minifish-org/tegdb/pkg/config"
	"github.com/minifish-org/tegdb/pkg/engine"
	"github.com/minifish-org/tegdb/pkg/extension"
	"github.com/minifish-org/tegdb/pkg/sql/ast"
	"github.com/minifish-org/tegdb/pkg/sql/exec"
	"github.com/minifish-org/tegdb/pkg/sql/parser"
	"github.com/minifish-org/tegdb/pkg/sql/plan"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/telemetry/log"
	"github.com/minifish-org/tegdb/pkg/types"
)

// Options configures Open beyond the engine's size/compaction defaults.
type Options struct {
	Engine   config.EngineConfig
	Embedder extension.Embedder // nil installs extension.NoEmbedder
}

// Database is one open handle: the storage engine, the in-memory catalog,
// the extension registry, and a cache of prepared statements. It is not
// safe for concurrent use from multiple goroutines — the single-writer
// model is enforced by the caller owning one handle at a time, the same
// way the underlying engine.Engine does.
type Database struct {
	eng      *engine.Engine
	cat      *catalog.Catalog
	reg      *extension.Registry
	ex       *exec.Executor
	path     string
	prepared map[string]*Stmt
}

// resolveBackend strips a recognized protocol prefix from identifier and
// returns the local path it names. `file://` and bare paths both resolve
// to a local log; `rpc://` names a remote log daemon that this core does
// not implement.
func resolveBackend(identifier string) (string, error) {
	switch {
	case strings.HasPrefix(identifier, "file://"):
		return strings.TrimPrefix(identifier, "file://"), nil
	case strings.HasPrefix(identifier, "rpc://"):
		return "", tegerr.New(tegerr.KindUnsupportedProtocol, "rpc:// backend is not implemented by this core")
	case strings.Contains(identifier, "://"):
		return "", tegerr.New(tegerr.KindUnsupportedProtocol, "unrecognized protocol in identifier "+identifier)
	default:
		return identifier, nil
	}
}

// Open resolves identifier's backend protocol, opens (or creates) the log,
// rebuilds the in-memory engine index and catalog, and wires an extension
// registry pre-loaded with the built-in function set.
func Open(identifier string, opts Options) (*Database, error) {
	path, err := resolveBackend(identifier)
	if err != nil {
		return nil, err
	}

	eng, err := engine.Open(path, opts.Engine)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.LoadAll(eng)
	if err != nil {
		eng.Close()
		return nil, err
	}

	reg := extension.NewRegistry(opts.Embedder)

	log.WithComponent("tegdb").Info().Str("path", path).Msg("opened database")

	return &Database{
		eng:      eng,
		cat:      cat,
		reg:      reg,
		ex:       exec.New(cat, reg),
		path:     path,
		prepared: make(map[string]*Stmt),
	}, nil
}

// Close flushes and releases the underlying log file.
func (db *Database) Close() error {
	return db.eng.Close()
}

// RegisterExtension merges ext's scalar/aggregate functions into the
// registry shared by every statement this handle runs.
func (db *Database) RegisterExtension(ext extension.Extension) {
	db.reg.RegisterExtension(ext)
}

// Rows is the public cursor over a SELECT's result set.
type Rows struct {
	it *exec.RowIter
}

// Next advances to the next row.
func (r *Rows) Next() bool { return r.it.Next() }

// Columns returns the output column/alias names in select-list order.
func (r *Rows) Columns() []string { return r.it.Columns() }

// Value returns the current row's value for column name.
func (r *Rows) Value(column string) (types.Value, bool) {
	v, ok := r.it.Row()[column]
	return v, ok
}

// Close releases the iterator's backing transaction. Safe to call more
// than once or before exhausting Next.
func (r *Rows) Close() error { return r.it.Close() }

func compileAndPlan(cat *catalog.Catalog, sql string) (ast.Statement, plan.Plan, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, nil, err
	}
	p, err := plan.Build(cat, stmt)
	if err != nil {
		return nil, nil, err
	}
	return stmt, p, nil
}

// Execute parses, plans, and runs sql inside an implicit transaction that
// commits on success and rolls back on any error, returning the number of
// rows the statement affected.
func (db *Database) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	_, p, err := compileAndPlan(db.cat, sql)
	if err != nil {
		return 0, err
	}
	params, err := toValues(args)
	if err != nil {
		return 0, err
	}
	return db.execPlan(ctx, p, params)
}

func (db *Database) execPlan(ctx context.Context, p plan.Plan, params []types.Value) (int64, error) {
	tx := db.eng.BeginTransaction()
	defer tx.Close()

	result, err := db.ex.Exec(ctx, tx, p, params, nil)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return result.RowsAffected, nil
}

// Query parses, plans, and runs sql as a read path: the opened transaction
// stays alive until the returned Rows is exhausted or Closed, at which
// point it commits (a read-only fast path per engine.Tx.Commit).
func (db *Database) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	_, p, err := compileAndPlan(db.cat, sql)
	if err != nil {
		return nil, err
	}
	params, err := toValues(args)
	if err != nil {
		return nil, err
	}
	return db.queryPlan(ctx, p, params)
}

func (db *Database) queryPlan(ctx context.Context, p plan.Plan, params []types.Value) (*Rows, error) {
	tx := db.eng.BeginTransaction()
	result, err := db.ex.Exec(ctx, tx, p, params, tx.Commit)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if result.Rows == nil {
		tx.Rollback()
		return nil, tegerr.New(tegerr.KindPlanError, "statement does not produce a row stream")
	}
	return &Rows{it: result.Rows}, nil
}

// Stmt is a parsed and planned statement, cached by its exact SQL text.
type Stmt struct {
	id         uuid.UUID
	sql        string
	plan       plan.Plan
	paramCount int
}

// ParamCount returns the highest `?`/`?N` placeholder index stmt
// references, which is the number of positional arguments it needs.
func (s *Stmt) ParamCount() int { return s.paramCount }

// Prepare parses and plans sql once, caching the result keyed by the exact
// SQL text — calling Prepare again with the same text returns the cached
// Stmt rather than re-parsing.
func (db *Database) Prepare(sql string) (*Stmt, error) {
	if cached, ok := db.prepared[sql]; ok {
		return cached, nil
	}
	stmt, p, err := compileAndPlan(db.cat, sql)
	if err != nil {
		return nil, err
	}
	s := &Stmt{id: uuid.New(), sql: sql, plan: p, paramCount: countParams(stmt)}
	db.prepared[sql] = s
	return s, nil
}

// ExecutePrepared binds args positionally into s's cached plan and runs it
// as an implicit transaction.
func (db *Database) ExecutePrepared(ctx context.Context, s *Stmt, args ...any) (int64, error) {
	params, err := toValues(args)
	if err != nil {
		return 0, err
	}
	if err := checkParamCount(s, params); err != nil {
		return 0, err
	}
	return db.execPlan(ctx, s.plan, params)
}

// QueryPrepared binds args positionally into s's cached plan and runs it
// as a read path.
func (db *Database) QueryPrepared(ctx context.Context, s *Stmt, args ...any) (*Rows, error) {
	params, err := toValues(args)
	if err != nil {
		return nil, err
	}
	if err := checkParamCount(s, params); err != nil {
		return nil, err
	}
	return db.queryPlan(ctx, s.plan, params)
}

func checkParamCount(s *Stmt, params []types.Value) error {
	if len(params) < s.paramCount {
		return tegerr.New(tegerr.KindOther, fmt.Sprintf("statement expects %d parameters, got %d", s.paramCount, len(params)))
	}
	return nil
}

// Tx is an explicit, caller-controlled transaction (spec §4.I
// begin_transaction): it exposes the same Execute/Query surface as
// Database, sharing the same prepared-statement cache, but against one
// long-lived engine.Tx instead of a fresh one per call.
type Tx struct {
	db *Database
	tx *engine.Tx
}

// BeginTransaction opens an explicit transaction. Closing it without a
// prior Commit rolls it back.
func (db *Database) BeginTransaction() *Tx {
	return &Tx{db: db, tx: db.eng.BeginTransaction()}
}

// Execute runs sql against t's transaction without committing it.
func (t *Tx) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	_, p, err := compileAndPlan(t.db.cat, sql)
	if err != nil {
		return 0, err
	}
	params, err := toValues(args)
	if err != nil {
		return 0, err
	}
	result, err := t.db.ex.Exec(ctx, t.tx, p, params, nil)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected, nil
}

// Query runs sql against t's transaction; the returned Rows does not
// commit on Close, since t's lifecycle is the caller's responsibility.
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	_, p, err := compileAndPlan(t.db.cat, sql)
	if err != nil {
		return nil, err
	}
	params, err := toValues(args)
	if err != nil {
		return nil, err
	}
	result, err := t.db.ex.Exec(ctx, t.tx, p, params, nil)
	if err != nil {
		return nil, err
	}
	if result.Rows == nil {
		return nil, tegerr.New(tegerr.KindPlanError, "statement does not produce a row stream")
	}
	return &Rows{it: result.Rows}, nil
}

// ExecutePrepared/QueryPrepared mirror Database's, against t's transaction.
func (t *Tx) ExecutePrepared(ctx context.Context, s *Stmt, args ...any) (int64, error) {
	params, err := toValues(args)
	if err != nil {
		return 0, err
	}
	if err := checkParamCount(s, params); err != nil {
		return 0, err
	}
	result, err := t.db.ex.Exec(ctx, t.tx, s.plan, params, nil)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected, nil
}

func (t *Tx) QueryPrepared(ctx context.Context, s *Stmt, args ...any) (*Rows, error) {
	params, err := toValues(args)
	if err != nil {
		return nil, err
	}
	if err := checkParamCount(s, params); err != nil {
		return nil, err
	}
	result, err := t.db.ex.Exec(ctx, t.tx, s.plan, params, nil)
	if err != nil {
		return nil, err
	}
	if result.Rows == nil {
		return nil, tegerr.New(tegerr.KindPlanError, "statement does not produce a row stream")
	}
	return &Rows{it: result.Rows}, nil
}

// Commit makes t's writes durable.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback discards t's writes.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// toValues converts positional Go arguments into bound parameter Values.
func toValues(args []any) ([]types.Value, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]types.Value, len(args))
	for i, a := range args {
		v, err := toValue(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func toValue(a any) (types.Value, error) {
	switch v := a.(type) {
	case nil:
		return types.NullValue, nil
	case types.Value:
		return v, nil
	case int:
		return types.IntValue(int64(v)), nil
	case int64:
		return types.IntValue(v), nil
	case float64:
		return types.RealValue(v), nil
	case string:
		return types.TextValue(v), nil
	case []byte:
		return types.BlobValue(v), nil
	case []float64:
		return types.VectorValue(v), nil
	default:
		return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("unsupported parameter type %T", a))
	}
}

// countParams walks stmt's full expression tree, returning the highest
// `?N` index referenced (bare `?` placeholders are
// numbered by the parser in traversal order, so the highest Index already
// equals the declared parameter count).
func countParams(stmt ast.Statement) int {
	max := 0
	note := func(e ast.Expr) { walkExpr(e, &max) }

	switch s := stmt.(type) {
	case *ast.Insert:
		for _, row := range s.Rows {
			for _, e := range row {
				note(e)
			}
		}
	case *ast.Update:
		for _, a := range s.Assignments {
			note(a.Value)
		}
		note(s.Where)
	case *ast.Delete:
		note(s.Where)
	case *ast.Select:
		for _, it := range s.Items {
			note(it.Expr)
		}
		note(s.Where)
	}
	return max
}

func walkExpr(e ast.Expr, max *int) {
	if e == nil {
		return
	}
	switch v := e.(type) {
	case *ast.Param:
		if v.Index > *max {
			*max = v.Index
		}
	case *ast.UnaryExpr:
		walkExpr(v.X, max)
	case *ast.BinaryExpr:
		walkExpr(v.L, max)
		walkExpr(v.R, max)
	case *ast.BetweenExpr:
		walkExpr(v.X, max)
		walkExpr(v.Lo, max)
		walkExpr(v.Hi, max)
	case *ast.IsNullExpr:
		walkExpr(v.X, max)
	case *ast.FuncCall:
		for _, a := range v.Args {
			walkExpr(a, max)
		}
	case *ast.VectorLiteral:
		for _, el := range v.Elements {
			walkExpr(el, max)
		}
	}
}
