package connector

import (
	"context"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MatchFunc compares a POS field value with an internal field value
type MatchFunc func(remote, internal string) bool

// AutoMatcherConfig configures a FieldAutoMatcher
type AutoMatcherConfig struct {
	EntityType connector.EntityType
	// RemoteField is read on the POS record
	RemoteField string
	// InternalField is read on the internal record values
	InternalField string
	// Compare defaults to equality
	Compare MatchFunc
}

// FieldAutoMatcher binds unbound POS records to internal records holding the same key
type FieldAutoMatcher struct {
	cfg AutoMatcherConfig
}

// NewAutoMatcher creates an auto-matching importer
func NewAutoMatcher(cfg AutoMatcherConfig) *FieldAutoMatcher {
	if cfg.Compare == nil {
		cfg.Compare = func(remote, internal string) bool { return remote == internal }
	}
	return &FieldAutoMatcher{cfg: cfg}
}

// AutoMatcherFactory registers a FieldAutoMatcher
func AutoMatcherFactory(cfg AutoMatcherConfig) Factory {
	return func(*Environment) (any, error) {
		return NewAutoMatcher(cfg), nil
	}
}

// Run matches every POS record of the entity type
func (m *FieldAutoMatcher) Run(ctx context.Context, w *WorkContext) (MatchReport, error) {
	var report MatchReport
	env := w.Env()
	started := env.now()
	et := m.cfg.EntityType

	adapter, err := w.Adapter(et)
	if err != nil {
		return report, err
	}
	binder, err := env.Registry.Binder(env, et)
	if err != nil {
		return report, err
	}

	ids, err := adapter.Search(ctx, connector.Filters{})
	if err != nil {
		return report, &connector.BatchSearchError{Resource: adapter.Resource(), Err: err}
	}
	if len(ids) == 0 {
		return report, &connector.BatchSearchError{Resource: adapter.Resource()}
	}

	candidates, err := w.Store().Records().FindAll(ctx, et)
	if err != nil {
		return report, err
	}
	taken := make(map[uuid.UUID]bool)

	for _, id := range ids {
		binding, _, err := binder.ToInternal(ctx, w, id, false)
		if err != nil {
			return report, err
		}
		if binding != nil {
			report.AlreadyMapped++
			taken[binding.InternalRef] = true
			continue
		}
		record, err := adapter.Read(ctx, id, nil)
		if err != nil {
			return report, err
		}
		remote := record.String(m.cfg.RemoteField)
		ref, ok, err := m.findCandidate(ctx, w, binder, candidates, taken, remote)
		if err != nil {
			return report, err
		}
		if !ok {
			report.NotMapped++
			continue
		}
		if _, err := binder.Bind(ctx, w, id, ref); err != nil {
			return report, err
		}
		taken[ref] = true
		report.Mapped++
	}

	report.Duration = env.now().Sub(started)
	w.Logger().Info("Auto matching finished",
		zap.String("entity_type", et.String()),
		zap.Int("already_mapped", report.AlreadyMapped),
		zap.Int("mapped", report.Mapped),
		zap.Int("not_mapped", report.NotMapped),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (m *FieldAutoMatcher) findCandidate(ctx context.Context, w *WorkContext, binder Binder, candidates []connector.InternalRecord, taken map[uuid.UUID]bool, remote string) (uuid.UUID, bool, error) {
	if remote == "" {
		return uuid.Nil, false, nil
	}
	for i := range candidates {
		c := &candidates[i]
		if taken[c.ID] || !m.cfg.Compare(remote, c.Values.String(m.cfg.InternalField)) {
			continue
		}
		externalID, _, err := binder.ToExternal(ctx, w, c.ID, false)
		if err != nil {
			return uuid.Nil, false, err
		}
		if externalID != "" {
			taken[c.ID] = true
			continue
		}
		return c.ID, true, nil
	}
	return uuid.Nil, false, nil
}

var _ AutoMatcher = (*FieldAutoMatcher)(nil)
