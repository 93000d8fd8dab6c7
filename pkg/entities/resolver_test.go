package entities

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
	"github.com/otherjamesbrown/dealbook/pkg/store"
	"github.com/otherjamesbrown/dealbook/pkg/store/memstore"
)

func newTestResolver(s store.Store, opts ...ResolverOption) *Resolver {
	opts = append([]ResolverOption{WithResolverLogger(logging.NewNopLogger())}, opts...)
	return NewResolver(s, opts...)
}

func seed(t *testing.T, s store.Store, kind Kind, names ...string) []store.Entity {
	t.Helper()
	var out []store.Entity
	for _, n := range names {
		e, err := s.CreateEntity(context.Background(), kind, n, nil)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestResolve_ExactThenCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	seeded := seed(t, s, KindBank, "First Horizon Bank")
	r := newTestResolver(s)

	ref, err := r.Resolve(ctx, KindBank, "First Horizon Bank")
	require.NoError(t, err)
	assert.True(t, ref.Found)
	assert.Equal(t, SourceExact, ref.Source)
	assert.Equal(t, seeded[0].ID, ref.ID)

	ref, err = r.Resolve(ctx, KindBank, "  first   HORIZON bank ")
	require.NoError(t, err)
	assert.Equal(t, SourceCaseInsensitive, ref.Source)
	assert.Equal(t, seeded[0].ID, ref.ID)

	// A new spelling goes back to the store.
	ref, err = r.Resolve(ctx, KindBank, "FIRST HORIZON BANK")
	require.NoError(t, err)
	assert.Equal(t, SourceCaseInsensitive, ref.Source)
	assert.Equal(t, seeded[0].ID, ref.ID)

	ref, err = r.Resolve(ctx, KindBank, "first HORIZON   bank")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, ref.Source)
	assert.Equal(t, seeded[0].ID, ref.ID)
}

func TestResolve_MatchExactPolicy(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	seeded := seed(t, s, KindBank, "First Horizon Bank")

	tests := []struct {
		name      string
		policy    Policy
		query     string
		wantFound bool
		wantID    int64
		wantSrc   Source
	}{
		{
			name:      "exact spelling found",
			policy:    Policy{OnMiss: StrictLookup, Match: MatchExact},
			query:     "First Horizon Bank",
			wantFound: true,
			wantID:    seeded[0].ID,
			wantSrc:   SourceExact,
		},
		{
			name:    "case variant misses",
			policy:  Policy{OnMiss: StrictLookup, Match: MatchExact},
			query:   "first horizon bank",
			wantSrc: SourceMiss,
		},
		{
			name:      "case variant under case-insensitive",
			policy:    Policy{OnMiss: StrictLookup, Match: MatchCaseInsensitive},
			query:     "first horizon bank",
			wantFound: true,
			wantID:    seeded[0].ID,
			wantSrc:   SourceCaseInsensitive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := newTestResolver(s).ResolveWith(ctx, KindBank, tt.query, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, ref.Found)
			assert.Equal(t, tt.wantSrc, ref.Source)
			if tt.wantFound {
				assert.Equal(t, tt.wantID, ref.ID)
			}
		})
	}
}

func TestResolve_MatchExactCreatesCaseVariant(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	seeded := seed(t, s, KindBank, "First Horizon Bank")
	r := newTestResolver(s)
	exact := Policy{OnMiss: CreateIfMissing, Match: MatchExact}

	ref, err := r.ResolveWith(ctx, KindBank, "FIRST HORIZON BANK", exact)
	require.NoError(t, err)
	assert.True(t, ref.Created)
	assert.NotEqual(t, seeded[0].ID, ref.ID)

	// The same spelling under a looser policy is not served from the
	// exact-policy cache entry.
	loose, err := r.Resolve(ctx, KindBank, "FIRST HORIZON BANK")
	require.NoError(t, err)
	assert.Equal(t, SourceExact, loose.Source)
	assert.Equal(t, ref.ID, loose.ID)

	banks, err := s.ListEntities(ctx, KindBank)
	require.NoError(t, err)
	assert.Len(t, banks, 2)
}

func TestResolve_BlankNameIsMiss(t *testing.T) {
	r := newTestResolver(memstore.New(nil))
	ref, err := r.Resolve(context.Background(), KindBank, "   ")
	require.NoError(t, err)
	assert.False(t, ref.Found)
	assert.True(t, ref.Value().IsAbsent())
}

func TestResolve_StrictMiss(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	r := newTestResolver(s)

	ref, err := r.Resolve(ctx, KindProject, "Unknown Tower")
	require.NoError(t, err)
	assert.False(t, ref.Found)
	assert.Equal(t, SourceMiss, ref.Source)
	assert.Equal(t, "Unknown Tower", ref.Name)

	projects, err := s.ListEntities(ctx, KindProject)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestResolve_CreateIfMissing(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	r := newTestResolver(s)

	ref, err := r.Resolve(ctx, KindBank, "Pinnacle Bank")
	require.NoError(t, err)
	assert.True(t, ref.Found)
	assert.True(t, ref.Created)
	assert.Equal(t, SourceCreated, ref.Source)

	again, err := r.Resolve(ctx, KindBank, "PINNACLE BANK")
	require.NoError(t, err)
	assert.Equal(t, ref.ID, again.ID)
	assert.False(t, again.Created)

	banks, err := s.ListEntities(ctx, KindBank)
	require.NoError(t, err)
	assert.Len(t, banks, 1)
}

func TestResolve_ContainsPolicy(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	seeded := seed(t, s, KindProject, "Harbor View Apartments Phase II", "Harbor View Apartments", "Oak")
	strict := Policy{OnMiss: StrictLookup, Match: MatchContains}
	r := newTestResolver(s)

	ref, err := r.ResolveWith(ctx, KindProject, "harbor view", strict)
	require.NoError(t, err)
	require.True(t, ref.Found)
	assert.Equal(t, SourceContains, ref.Source)
	assert.Equal(t, seeded[1].ID, ref.ID, "closest length wins")

	// Query containing a stored name also matches.
	ref, err = r.ResolveWith(ctx, KindProject, "The Harbor View Apartments (Nashville)", strict)
	require.NoError(t, err)
	require.True(t, ref.Found)
	assert.Equal(t, seeded[1].ID, ref.ID)

	// Queries under four runes never fuzzy match.
	ref, err = r.ResolveWith(ctx, KindProject, "Oa", strict)
	require.NoError(t, err)
	assert.False(t, ref.Found)

	// Without the contains policy, no fuzzy match.
	ref, err = r.ResolveWith(ctx, KindProject, "harbor", Policy{OnMiss: StrictLookup, Match: MatchCaseInsensitive})
	require.NoError(t, err)
	assert.False(t, ref.Found)
}

func TestResolve_ContainsTieGoesToLowestID(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	seeded := seed(t, s, KindBank, "Regions North", "Regions South")
	r := newTestResolver(s)

	ref, err := r.ResolveWith(ctx, KindBank, "regions", Policy{OnMiss: StrictLookup, Match: MatchContains})
	require.NoError(t, err)
	assert.Equal(t, seeded[0].ID, ref.ID)
}

func TestResolve_Corrections(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	seeded := seed(t, s, KindProject, "WaterPointe")
	r := newTestResolver(s, WithCorrections(Corrections{
		KindProject: {"Water Pointe": "WaterPointe"},
	}))

	ref, err := r.Resolve(ctx, KindProject, "water  pointe")
	require.NoError(t, err)
	assert.True(t, ref.Found)
	assert.Equal(t, seeded[0].ID, ref.ID)
	assert.Equal(t, SourceExact, ref.Source)
}

// racingStore simulates another writer inserting the same name between the
// resolver's lookup and its insert.
type racingStore struct {
	*memstore.Store
	vanish bool
}

func (s *racingStore) CreateEntity(ctx context.Context, kind Kind, name string, fields store.Row) (store.Entity, error) {
	if !s.vanish {
		if _, err := s.Store.CreateEntity(ctx, kind, name, fields); err != nil {
			return store.Entity{}, err
		}
	}
	return store.Entity{}, fmt.Errorf("insert %s: %w", name, recerrors.ErrConflict)
}

func TestResolve_ConflictRetriesLookup(t *testing.T) {
	ctx := context.Background()
	s := &racingStore{Store: memstore.New(nil)}
	r := newTestResolver(s)

	ref, err := r.Resolve(ctx, KindBank, "Truist")
	require.NoError(t, err)
	assert.True(t, ref.Found)
	assert.Equal(t, SourceRetry, ref.Source)
}

func TestResolve_ConflictRetryMissSurfaces(t *testing.T) {
	s := &racingStore{Store: memstore.New(nil), vanish: true}
	r := newTestResolver(s)

	_, err := r.Resolve(context.Background(), KindBank, "Truist")
	assert.True(t, recerrors.IsConflict(err))
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(nil)
	seed(t, s, KindBank, "Regions")
	seed(t, s, KindPerson, "Jane Doe")

	var sources []Source
	r := newTestResolver(s, WithObserver(func(ref Ref) { sources = append(sources, ref.Source) }))

	for i := 0; i < 2; i++ {
		_, err := r.Resolve(ctx, KindBank, "Regions")
		require.NoError(t, err)
		_, err = r.Resolve(ctx, KindPerson, "Jane Doe")
		require.NoError(t, err)
	}
	r.Forget(KindBank)
	_, err := r.Resolve(ctx, KindBank, "Regions")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, KindPerson, "Jane Doe")
	require.NoError(t, err)

	assert.Equal(t, []Source{
		SourceExact, SourceExact,
		SourceCache, SourceCache,
		SourceExact, SourceCache,
	}, sources)
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseMissPolicy("create")
	require.NoError(t, err)
	assert.Equal(t, CreateIfMissing, p)
	_, err = ParseMissPolicy("maybe")
	assert.Error(t, err)

	m, err := ParseMatchMode("contains")
	require.NoError(t, err)
	assert.Equal(t, MatchContains, m)
	m, err = ParseMatchMode("exact")
	require.NoError(t, err)
	assert.Equal(t, MatchExact, m)
	_, err = ParseMatchMode("soundex")
	assert.Error(t, err)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, NormalizeName("First Horizon Bank"), NormalizeName("  FIRST HORIZON   BANK"))
}
