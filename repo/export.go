package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/tabkeep/codec"
	"github.com/unkn0wn-root/tabkeep/entity"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExportCodec encodes an Export snapshot. Encoding is deterministic, so two
// exports of unchanged data are byte-equal.
var ExportCodec = codec.NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })

// Export collects the user's synced records into one Struct keyed by kind,
// each value in its JSON shape. Absent singletons are omitted. The auth token
// is never exported.
func (r *Repo) Export(ctx context.Context, userID string) (*structpb.Struct, error) {
	if err := requireOwner("export", userID); err != nil {
		return nil, err
	}
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value)}

	drinks, err := r.Drinks.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	plans, err := r.Plans.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := exportField(out, entity.KindDrinks, drinks); err != nil {
		return nil, err
	}
	if err := exportField(out, entity.KindPlans, plans); err != nil {
		return nil, err
	}

	if err := exportOne(ctx, out, entity.KindProfile, userID, r.Profiles); err != nil {
		return nil, err
	}
	if err := exportOne(ctx, out, entity.KindSettings, userID, r.Settings); err != nil {
		return nil, err
	}
	if err := exportOne(ctx, out, entity.KindAssessment, userID, r.Assessments); err != nil {
		return nil, err
	}
	if err := exportOne(ctx, out, entity.KindBudget, userID, r.Budgets.Singleton); err != nil {
		return nil, err
	}
	return out, nil
}

func exportOne[T entity.Record[T]](ctx context.Context, out *structpb.Struct, kind, userID string, s *Singleton[T]) error {
	v, ok, err := s.Get(ctx, userID)
	if err != nil || !ok {
		return err
	}
	return exportField(out, kind, v)
}

func exportField(out *structpb.Struct, kind string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("export %s: %w", kind, err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return fmt.Errorf("export %s: %w", kind, err)
	}
	pv, err := structpb.NewValue(generic)
	if err != nil {
		return fmt.Errorf("export %s: %w", kind, err)
	}
	out.Fields[kind] = pv
	return nil
}
