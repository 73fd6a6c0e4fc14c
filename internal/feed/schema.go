package feed

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed feature.cue
var featureSchema []byte

// schema validates raw response pages against #Collection.
//
// cue.Context is not safe for concurrent use, so validation is serialized.
type schema struct {
	mu         sync.Mutex
	ctx        *cue.Context
	collection cue.Value
}

func newSchema() (*schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(featureSchema, cue.Filename("feature.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile feature schema: %w", err)
	}
	collection := v.LookupPath(cue.ParsePath("#Collection"))
	if err := collection.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Collection: %w", err)
	}
	return &schema{ctx: ctx, collection: collection}, nil
}

// validate checks a JSON page. The returned error carries the first CUE
// violation with its path.
func (s *schema) validate(body []byte) error {
	expr, err := cuejson.Extract("page.json", body)
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := s.ctx.BuildExpr(expr)
	if err := page.Err(); err != nil {
		return firstCUEError(err)
	}
	if err := s.collection.Unify(page).Validate(cue.Concrete(true)); err != nil {
		return firstCUEError(err)
	}
	return nil
}

func firstCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	return errs[0]
}
