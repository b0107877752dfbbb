// Package extension implements the scalar/aggregate function registry
// (spec §4.J): name lookup, argument-kind checking with coercion, and the
// built-in function set.
package extension

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/types"
)

// ArgKind is one of the argument-shape categories a scalar function can
// declare for one of its parameters.
type ArgKind int

const (
	ArgAny ArgKind = iota
	ArgNumeric
	ArgTextLike
	ArgExact
)

// ArgSpec is one parameter's accepted shape.
type ArgSpec struct {
	Kind  ArgKind
	Exact types.DataType // only meaningful when Kind == ArgExact
}

func Any() ArgSpec               { return ArgSpec{Kind: ArgAny} }
func Numeric() ArgSpec           { return ArgSpec{Kind: ArgNumeric} }
func TextLike() ArgSpec          { return ArgSpec{Kind: ArgTextLike} }
func Exact(dt types.DataType) ArgSpec { return ArgSpec{Kind: ArgExact, Exact: dt} }

// ScalarFunc is a pure, name-dispatched scalar function.
type ScalarFunc struct {
	Name    string
	Args    []ArgSpec // shape of declared parameters; the last entry repeats for variadic extra args
	MinArgs int
	MaxArgs int // -1 means unbounded
	Return  types.DataType
	Eval    func(ctx context.Context, args []types.Value) (types.Value, error)
}

// AggState is opaque accumulator state threaded through Accumulate calls.
type AggState any

// AggregateFunc consumes a row stream and produces one value.
type AggregateFunc struct {
	Name       string
	Init       func() AggState
	Accumulate func(state AggState, args []types.Value) (AggState, error)
	Finalize   func(state AggState) (types.Value, error)
}

// Embedder is the external collaborator EMBED() delegates to (spec §6).
type Embedder interface {
	Embed(ctx context.Context, text string, model string) ([]float64, error)
}

// NoEmbedder is the default Embedder: it always fails. Wiring a real
// embedding service is out of scope for the core (§1 Non-goals list
// external ML collaborators); NoEmbedder keeps EMBED's grammar and
// dispatch path fully exercised without one.
type NoEmbedder struct{}

func (NoEmbedder) Embed(ctx context.Context, text, model string) ([]float64, error) {
	return nil, tegerr.New(tegerr.KindFunctionError, "no embedding collaborator configured")
}

// Extension groups a named bundle of scalar/aggregate functions that
// RegisterExtension merges into a Registry (spec §4.I register_extension).
type Extension interface {
	Scalars() []ScalarFunc
	Aggregates() []AggregateFunc
}

// Registry performs case-insensitive name lookup, arity and argument-kind
// checking, and dispatch for every scalar/aggregate function known to a
// database handle.
type Registry struct {
	scalars    map[string]ScalarFunc
	aggregates map[string]AggregateFunc
	embedder   Embedder
}

// NewRegistry returns a registry pre-loaded with the built-in function set.
// A nil embedder installs NoEmbedder.
func NewRegistry(embedder Embedder) *Registry {
	if embedder == nil {
		embedder = NoEmbedder{}
	}
	r := &Registry{
		scalars:    make(map[string]ScalarFunc),
		aggregates: make(map[string]AggregateFunc),
		embedder:   embedder,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) RegisterScalar(f ScalarFunc) {
	r.scalars[strings.ToLower(f.Name)] = f
}

func (r *Registry) RegisterAggregate(f AggregateFunc) {
	r.aggregates[strings.ToLower(f.Name)] = f
}

// RegisterExtension merges ext's functions into the registry, the way
// Database.RegisterExtension (§4.I) extends J at runtime.
func (r *Registry) RegisterExtension(ext Extension) {
	for _, f := range ext.Scalars() {
		r.RegisterScalar(f)
	}
	for _, f := range ext.Aggregates() {
		r.RegisterAggregate(f)
	}
}

func (r *Registry) LookupScalar(name string) (ScalarFunc, bool) {
	f, ok := r.scalars[strings.ToLower(name)]
	return f, ok
}

func (r *Registry) LookupAggregate(name string) (AggregateFunc, bool) {
	f, ok := r.aggregates[strings.ToLower(name)]
	return f, ok
}

// IsAggregate reports whether name is a known aggregate, used by the
// planner/executor to distinguish a FuncCall that folds a row stream from
// one evaluated per row.
func (r *Registry) IsAggregate(name string) bool {
	_, ok := r.aggregates[strings.ToLower(name)]
	return ok
}

// CallScalar checks arity and argument kinds, coerces, and invokes name.
func (r *Registry) CallScalar(ctx context.Context, name string, args []types.Value) (types.Value, error) {
	f, ok := r.LookupScalar(name)
	if !ok {
		return types.Value{}, tegerr.New(tegerr.KindFunctionError, "unknown function "+name)
	}
	coerced, err := checkArgs(f, args)
	if err != nil {
		return types.Value{}, err
	}
	return f.Eval(ctx, coerced)
}

// LoadExtension handles `CREATE EXTENSION name` (spec §4.F/§4.I): the core
// ships no real extension bodies, only a minimal recognized-name contract
// (SPEC_FULL supplement 7) so the statement is fully executable.
func (r *Registry) LoadExtension(name string) error {
	switch strings.ToLower(name) {
	case "vector", "stats":
		return nil
	default:
		return tegerr.New(tegerr.KindFunctionError, "unknown extension "+name)
	}
}

func checkArgs(f ScalarFunc, args []types.Value) ([]types.Value, error) {
	if len(args) < f.MinArgs || (f.MaxArgs >= 0 && len(args) > f.MaxArgs) {
		return nil, tegerr.New(tegerr.KindFunctionError, fmt.Sprintf("%s: wrong number of arguments", f.Name))
	}
	coerced := make([]types.Value, len(args))
	for i, a := range args {
		spec := f.Args[len(f.Args)-1]
		if i < len(f.Args) {
			spec = f.Args[i]
		}
		v, err := coerceArg(f.Name, spec, a)
		if err != nil {
			return nil, err
		}
		coerced[i] = v
	}
	return coerced, nil
}

func coerceArg(fname string, spec ArgSpec, v types.Value) (types.Value, error) {
	switch spec.Kind {
	case ArgAny:
		return v, nil
	case ArgNumeric:
		if v.Type == types.Integer || v.Type == types.Real {
			return v, nil
		}
		return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, fname+": expected a numeric argument")
	case ArgTextLike:
		if v.Type == types.Text {
			return v, nil
		}
		return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, fname+": expected a text argument")
	case ArgExact:
		if v.Type == spec.Exact {
			return v, nil
		}
		return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, fmt.Sprintf("%s: expected a %s argument", fname, spec.Exact))
	default:
		return v, nil
	}
}

func (r *Registry) registerBuiltins() {
	r.RegisterScalar(ScalarFunc{
		Name: "ABS", Args: []ArgSpec{Numeric()}, MinArgs: 1, MaxArgs: 1, Return: types.Real,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			v := args[0]
			if v.Type == types.Integer {
				if v.I < 0 {
					return types.IntValue(-v.I), nil
				}
				return v, nil
			}
			return types.RealValue(math.Abs(v.F)), nil
		},
	})
	r.RegisterScalar(ScalarFunc{
		Name: "SQRT", Args: []ArgSpec{Numeric()}, MinArgs: 1, MaxArgs: 1, Return: types.Real,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			return types.RealValue(math.Sqrt(args[0].AsFloat64())), nil
		},
	})
	r.RegisterScalar(ScalarFunc{
		Name: "ROUND", Args: []ArgSpec{Numeric(), Numeric()}, MinArgs: 1, MaxArgs: 2, Return: types.Real,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			prec := 0
			if len(args) == 2 {
				prec = int(args[1].I)
			}
			mult := math.Pow(10, float64(prec))
			return types.RealValue(math.Round(args[0].AsFloat64()*mult) / mult), nil
		},
	})

	r.RegisterScalar(ScalarFunc{
		Name: "UPPER", Args: []ArgSpec{TextLike()}, MinArgs: 1, MaxArgs: 1, Return: types.Text,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			return types.TextValue(strings.ToUpper(args[0].S)), nil
		},
	})
	r.RegisterScalar(ScalarFunc{
		Name: "LOWER", Args: []ArgSpec{TextLike()}, MinArgs: 1, MaxArgs: 1, Return: types.Text,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			return types.TextValue(strings.ToLower(args[0].S)), nil
		},
	})
	r.RegisterScalar(ScalarFunc{
		Name: "LENGTH", Args: []ArgSpec{TextLike()}, MinArgs: 1, MaxArgs: 1, Return: types.Integer,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			return types.IntValue(int64(len(args[0].S))), nil
		},
	})
	r.RegisterScalar(ScalarFunc{
		Name: "REPEAT", Args: []ArgSpec{TextLike(), Numeric()}, MinArgs: 2, MaxArgs: 2, Return: types.Text,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			n := args[1].I
			if n < 0 {
				return types.Value{}, tegerr.New(tegerr.KindFunctionError, "REPEAT: negative count")
			}
			return types.TextValue(strings.Repeat(args[0].S, int(n))), nil
		},
	})

	r.RegisterScalar(ScalarFunc{
		Name: "COSINE_SIMILARITY", Args: []ArgSpec{Exact(types.Vector), Exact(types.Vector)}, MinArgs: 2, MaxArgs: 2, Return: types.Real,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			d, err := types.CosineSimilarity(args[0].Vec, args[1].Vec)
			if err != nil {
				return types.Value{}, tegerr.Wrap(tegerr.KindDimensionMismatch, "COSINE_SIMILARITY", err)
			}
			return types.RealValue(d), nil
		},
	})
	r.RegisterScalar(ScalarFunc{
		Name: "EUCLIDEAN_DISTANCE", Args: []ArgSpec{Exact(types.Vector), Exact(types.Vector)}, MinArgs: 2, MaxArgs: 2, Return: types.Real,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			d, err := types.EuclideanDistance(args[0].Vec, args[1].Vec)
			if err != nil {
				return types.Value{}, tegerr.Wrap(tegerr.KindDimensionMismatch, "EUCLIDEAN_DISTANCE", err)
			}
			return types.RealValue(d), nil
		},
	})
	r.RegisterScalar(ScalarFunc{
		Name: "DOT_PRODUCT", Args: []ArgSpec{Exact(types.Vector), Exact(types.Vector)}, MinArgs: 2, MaxArgs: 2, Return: types.Real,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			d, err := types.DotProduct(args[0].Vec, args[1].Vec)
			if err != nil {
				return types.Value{}, tegerr.Wrap(tegerr.KindDimensionMismatch, "DOT_PRODUCT", err)
			}
			return types.RealValue(d), nil
		},
	})
	r.RegisterScalar(ScalarFunc{
		Name: "EMBED", Args: []ArgSpec{TextLike(), TextLike()}, MinArgs: 1, MaxArgs: 2, Return: types.Vector,
		Eval: func(ctx context.Context, args []types.Value) (types.Value, error) {
			model := ""
			if len(args) == 2 {
				model = args[1].S
			}
			vec, err := r.embedder.Embed(ctx, args[0].S, model)
			if err != nil {
				return types.Value{}, tegerr.Wrap(tegerr.KindFunctionError, "EMBED", err)
			}
			return types.VectorValue(vec), nil
		},
	})

	r.registerAggregateBuiltins()
}

type minMaxState struct {
	value types.Value
	set   bool
}

func (r *Registry) registerAggregateBuiltins() {
	r.RegisterAggregate(AggregateFunc{
		Name: "COUNT",
		Init: func() AggState { return int64(0) },
		Accumulate: func(state AggState, args []types.Value) (AggState, error) {
			n := state.(int64)
			if len(args) == 0 || !args[0].IsNull() {
				n++
			}
			return n, nil
		},
		Finalize: func(state AggState) (types.Value, error) { return types.IntValue(state.(int64)), nil },
	})

	r.RegisterAggregate(AggregateFunc{
		Name: "SUM",
		Init: func() AggState { return types.NullValue },
		Accumulate: func(state AggState, args []types.Value) (AggState, error) {
			v := args[0]
			if v.IsNull() {
				return state, nil
			}
			acc := state.(types.Value)
			if acc.IsNull() {
				return v, nil
			}
			if acc.Type == types.Integer && v.Type == types.Integer {
				return types.IntValue(acc.I + v.I), nil
			}
			return types.RealValue(acc.AsFloat64() + v.AsFloat64()), nil
		},
		Finalize: func(state AggState) (types.Value, error) { return state.(types.Value), nil },
	})

	r.RegisterAggregate(AggregateFunc{
		Name: "AVG",
		Init: func() AggState { return [2]float64{0, 0} }, // sum, count
		Accumulate: func(state AggState, args []types.Value) (AggState, error) {
			v := args[0]
			acc := state.([2]float64)
			if v.IsNull() {
				return acc, nil
			}
			return [2]float64{acc[0] + v.AsFloat64(), acc[1] + 1}, nil
		},
		Finalize: func(state AggState) (types.Value, error) {
			acc := state.([2]float64)
			if acc[1] == 0 {
				return types.NullValue, nil
			}
			return types.RealValue(acc[0] / acc[1]), nil
		},
	})

	r.RegisterAggregate(AggregateFunc{
		Name: "MIN",
		Init: func() AggState { return &minMaxState{} },
		Accumulate: func(state AggState, args []types.Value) (AggState, error) {
			s := state.(*minMaxState)
			v := args[0]
			if v.IsNull() {
				return s, nil
			}
			if !s.set || v.Compare(s.value) < 0 {
				s.value, s.set = v, true
			}
			return s, nil
		},
		Finalize: func(state AggState) (types.Value, error) {
			s := state.(*minMaxState)
			if !s.set {
				return types.NullValue, nil
			}
			return s.value, nil
		},
	})

	r.RegisterAggregate(AggregateFunc{
		Name: "MAX",
		Init: func() AggState { return &minMaxState{} },
		Accumulate: func(state AggState, args []types.Value) (AggState, error) {
			s := state.(*minMaxState)
			v := args[0]
			if v.IsNull() {
				return s, nil
			}
			if !s.set || v.Compare(s.value) > 0 {
				s.value, s.set = v, true
			}
			return s, nil
		},
		Finalize: func(state AggState) (types.Value, error) {
			s := state.(*minMaxState)
			if !s.set {
				return types.NullValue, nil
			}
			return s.value, nil
		},
	})
}
