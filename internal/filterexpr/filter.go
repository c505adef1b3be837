// Package filterexpr wires github.com/hashicorp/go-bexpr into an optional
// operator debug knob: a boolean expression over a block's summary fields,
// evaluated per block so an operator can ask "log me every block where
// ShredCount > 500" without redeploying. This is the only teacher
// dependency the pack left with no usage example to copy; the expression
// struct tags below follow go-bexpr's documented "FilterableFields" pattern.
package filterexpr

import (
	"github.com/hashicorp/go-bexpr"
)

// summary is the struct go-bexpr evaluates expressions against. Field names
// are the bexpr selector names (e.g. "Number > 1000 and ShredCount > 10").
type summary struct {
	Number           int64 `bexpr:"Number"`
	ShredCount       int64 `bexpr:"ShredCount"`
	TransactionCount int64 `bexpr:"TransactionCount"`
	Persisted        bool  `bexpr:"Persisted"`
}

// Summarizable is implemented by both shred.Block and chainmodel.Block
// wrappers that want filter support.
type Summarizable interface {
	FilterSummary() (number, shredCount, txCount int64, persisted bool)
}

// BlockFilter wraps a compiled bexpr evaluator.
type BlockFilter struct {
	eval *bexpr.Evaluator
}

// Compile parses expr once; pass the result to shred.NewManager or
// writer.Pool.SetFilter. An empty expr yields a nil *BlockFilter (no filtering).
func Compile(expr string) (*BlockFilter, error) {
	if expr == "" {
		return nil, nil
	}
	ev, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, err
	}
	return &BlockFilter{eval: ev}, nil
}

// Match evaluates the filter against b. b must implement Summarizable.
func (f *BlockFilter) Match(b Summarizable) (bool, error) {
	if f == nil {
		return false, nil
	}
	num, shredCount, txCount, persisted := b.FilterSummary()
	s := summary{Number: num, ShredCount: shredCount, TransactionCount: txCount, Persisted: persisted}
	return f.eval.Evaluate(s)
}
