package entities

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	gocache "github.com/patrickmn/go-cache"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/store"
)

// MinContainsLength is the shortest folded query, in runes, allowed to use
// a contains match.
const MinContainsLength = 4

// Resolver maps names to entity references.
type Resolver struct {
	store       store.Store
	policies    map[Kind]Policy
	corrections Corrections
	cache       *gocache.Cache
	observe     func(Ref)
	logger      logging.Logger
}

// ResolverOption configures the resolver.
type ResolverOption func(*Resolver)

// WithPolicies overrides the per-kind policies. Kinds not listed keep
// their defaults.
func WithPolicies(policies map[Kind]Policy) ResolverOption {
	return func(r *Resolver) {
		for k, p := range policies {
			r.policies[k] = p
		}
	}
}

// WithCorrections sets the name correction table.
func WithCorrections(c Corrections) ResolverOption {
	return func(r *Resolver) {
		r.corrections = c
	}
}

// WithObserver registers a callback invoked after every resolution.
func WithObserver(fn func(Ref)) ResolverOption {
	return func(r *Resolver) {
		r.observe = fn
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger logging.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over s. Positive lookups are cached for
// the life of the resolver, which is one import run.
func NewResolver(s store.Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    s,
		policies: DefaultPolicies(),
		cache:    gocache.New(gocache.NoExpiration, 10*time.Minute),
		logger:   logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logging.Component("entity_resolver"))
	return r
}

// Policy returns the policy in force for kind.
func (r *Resolver) Policy(kind Kind) Policy {
	return r.policies[kind]
}

// cacheKey keys a resolution by the name as spelled, so a new spelling
// goes back through the store and reports how it matched.
func cacheKey(kind Kind, mode MatchMode, name string) string {
	return string(kind) + "|" + mode.String() + "|" + name
}

// Resolve maps rawName to an entity of kind using the kind's policy.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, rawName string) (Ref, error) {
	return r.ResolveWith(ctx, kind, rawName, r.policies[kind])
}

// ResolveWith maps rawName to an entity of kind under an explicit policy.
// Lookup tries exact, then case-insensitive unless the policy is
// MatchExact, then contains if the policy allows it. A blank name returns a not-found Ref. Under StrictLookup a miss
// is a not-found Ref with a nil error.
func (r *Resolver) ResolveWith(ctx context.Context, kind Kind, rawName string, policy Policy) (Ref, error) {
	name := strings.Join(strings.Fields(rawName), " ")
	if name == "" {
		return Ref{Kind: kind, Source: SourceMiss}, nil
	}
	name = r.corrections.Apply(kind, name)
	key := cacheKey(kind, policy.Match, name)

	if cached, ok := r.cache.Get(key); ok {
		ref := cached.(Ref)
		ref.Source = SourceCache
		ref.Created = false
		r.notify(ref)
		return ref, nil
	}

	ref, err := r.lookup(ctx, kind, name, policy.Match)
	if err != nil {
		return Ref{}, err
	}
	if ref.Found {
		r.remember(key, ref)
		r.notify(ref)
		return ref, nil
	}

	if policy.OnMiss != CreateIfMissing {
		r.logger.Debug("Entity not found",
			logging.F("kind", string(kind)),
			logging.F("name", name))
		ref = Ref{Kind: kind, Name: name, Source: SourceMiss}
		r.notify(ref)
		return ref, nil
	}

	ref, err = r.create(ctx, kind, name, policy)
	if err != nil {
		return Ref{}, err
	}
	r.remember(key, ref)
	r.notify(ref)
	return ref, nil
}

func (r *Resolver) lookup(ctx context.Context, kind Kind, name string, mode MatchMode) (Ref, error) {
	matches, err := r.store.FindEntities(ctx, kind, name, MatchExact)
	if err != nil {
		return Ref{}, fmt.Errorf("exact lookup %s %q: %w", kind, name, err)
	}
	if len(matches) > 0 {
		return found(matches[0], SourceExact), nil
	}
	if mode == MatchExact {
		return Ref{Kind: kind, Name: name}, nil
	}

	matches, err = r.store.FindEntities(ctx, kind, name, MatchCaseInsensitive)
	if err != nil {
		return Ref{}, fmt.Errorf("case-insensitive lookup %s %q: %w", kind, name, err)
	}
	if len(matches) > 0 {
		return found(matches[0], SourceCaseInsensitive), nil
	}

	if mode != MatchContains {
		return Ref{Kind: kind, Name: name}, nil
	}

	folded := NormalizeName(name)
	if utf8.RuneCountInString(folded) < MinContainsLength {
		return Ref{Kind: kind, Name: name}, nil
	}
	matches, err = r.store.FindEntities(ctx, kind, name, MatchContains)
	if err != nil {
		return Ref{}, fmt.Errorf("contains lookup %s %q: %w", kind, name, err)
	}
	if best, ok := closest(folded, matches); ok {
		r.logger.Debug("Fuzzy entity match",
			logging.F("kind", string(kind)),
			logging.F("query", name),
			logging.F("matched", best.Name))
		return found(best, SourceContains), nil
	}
	return Ref{Kind: kind, Name: name}, nil
}

// closest picks the candidate whose folded name length is nearest the
// query's; candidates arrive in ID order so ties go to the lowest ID.
func closest(folded string, candidates []store.Entity) (store.Entity, bool) {
	qlen := utf8.RuneCountInString(folded)
	bestDiff := -1
	var best store.Entity
	for _, c := range candidates {
		diff := utf8.RuneCountInString(NormalizeName(c.Name)) - qlen
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = c, diff
		}
	}
	return best, bestDiff >= 0
}

func (r *Resolver) create(ctx context.Context, kind Kind, name string, policy Policy) (Ref, error) {
	e, err := r.store.CreateEntity(ctx, kind, name, nil)
	if err == nil {
		r.logger.Info("Entity created",
			logging.F("kind", string(kind)),
			logging.F("id", e.ID),
			logging.F("name", e.Name))
		ref := found(e, SourceCreated)
		ref.Created = true
		return ref, nil
	}
	if !recerrors.IsConflict(err) {
		return Ref{}, fmt.Errorf("create %s %q: %w", kind, name, err)
	}

	// Another writer took the name between lookup and insert.
	ref, lookupErr := r.lookup(ctx, kind, name, policy.Match)
	if lookupErr != nil {
		return Ref{}, lookupErr
	}
	if !ref.Found {
		return Ref{}, fmt.Errorf("create %s %q: conflict and retry lookup missed: %w", kind, name, err)
	}
	ref.Source = SourceRetry
	return ref, nil
}

func found(e store.Entity, source Source) Ref {
	return Ref{Kind: e.Kind, ID: e.ID, Name: e.Name, Found: true, Source: source}
}

func (r *Resolver) remember(key string, ref Ref) {
	r.cache.Set(key, ref, gocache.NoExpiration)
}

func (r *Resolver) notify(ref Ref) {
	if r.observe != nil {
		r.observe(ref)
	}
}

// Forget drops every cached reference of kind. Call it after entities of
// that kind are merged or deleted.
func (r *Resolver) Forget(kind Kind) {
	prefix := string(kind) + "|"
	for key := range r.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Delete(key)
		}
	}
}
