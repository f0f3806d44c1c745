package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/gridsync/gridsync/internal/sor"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func companiesTable() sor.Table {
	return sor.Table{
		ID:             "tbl2",
		Name:           "Companies",
		PrimaryFieldID: "fldCo",
		Fields:         []sor.Field{{ID: "fldCo", Name: "Company", Type: sor.FieldText}},
	}
}

func newResolverFixture(t *testing.T) (*Resolver, *sor.Client, *fakeSOR) {
	t.Helper()

	fake := newFakeSOR(t, []sor.Table{companiesTable()}, map[string][]sor.Record{
		"tbl2": {
			{ID: "rec201", Fields: map[string]any{"Company": "Acme"}},
			{ID: "rec202", Fields: map[string]any{"Company": "Globex"}},
		},
	})

	client := sor.NewClient(fake.srv.URL, http.DefaultClient, staticToken("tok"),
		rate.NewLimiter(rate.Limit(1000), 1000), discardLogger())

	return NewResolver(time.Minute, discardLogger()), client, fake
}

func TestResolveIDsToNames(t *testing.T) {
	r, client, fake := newResolverFixture(t)
	ctx := context.Background()

	res, err := r.ResolveIDsToNames(ctx, client, "base1", "tbl2", []string{"rec201", "rec202"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Globex"}, res.Resolved)
	assert.Empty(t, res.Missing)

	callsAfterFirst := fake.listCalls

	// Second resolution is served from cache.
	_, err = r.ResolveIDsToNames(ctx, client, "base1", "tbl2", []string{"rec201"}, false)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, fake.listCalls)
}

func TestResolveIDsToNamesUnknownID(t *testing.T) {
	r, client, _ := newResolverFixture(t)
	ctx := context.Background()

	t.Run("lenient passes the ID through", func(t *testing.T) {
		res, err := r.ResolveIDsToNames(ctx, client, "base1", "tbl2", []string{"rec999"}, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"rec999"}, res.Resolved)
		assert.NotEmpty(t, res.Warnings)
	})

	t.Run("strict reports it missing", func(t *testing.T) {
		res, err := r.ResolveIDsToNames(ctx, client, "base1", "tbl2", []string{"rec999"}, true)
		require.NoError(t, err)
		assert.Empty(t, res.Resolved)
		assert.Equal(t, []string{"rec999"}, res.Missing)
	})
}

func TestResolveNamesToIDs(t *testing.T) {
	r, client, _ := newResolverFixture(t)
	ctx := context.Background()

	res, err := r.ResolveNamesToIDs(ctx, client, "base1", "tbl2", []string{"acme", "GLOBEX"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec201", "rec202"}, res.Resolved, "name matching is case-insensitive")
}

func TestResolveNamesToIDsMissingWithoutCreate(t *testing.T) {
	r, client, fake := newResolverFixture(t)

	res, err := r.ResolveNamesToIDs(context.Background(), client, "base1", "tbl2", []string{"Initech"}, false)
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	assert.Equal(t, []string{"Initech"}, res.Missing)
	assert.Equal(t, 0, fake.createCalls)
}

func TestResolveNamesToIDsCreatesMissing(t *testing.T) {
	r, client, fake := newResolverFixture(t)
	ctx := context.Background()

	res, err := r.ResolveNamesToIDs(ctx, client, "base1", "tbl2", []string{"Initech"}, true)
	require.NoError(t, err)
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, res.Resolved, res.Created)
	assert.Equal(t, 1, fake.createCalls)

	rec := fake.recordByID("tbl2", res.Resolved[0])
	require.NotNil(t, rec)
	assert.Equal(t, "Initech", rec.Fields["Company"])

	// The created record is immediately resolvable without a reload.
	callsBefore := fake.listCalls
	res, err = r.ResolveNamesToIDs(ctx, client, "base1", "tbl2", []string{"initech"}, false)
	require.NoError(t, err)
	assert.Len(t, res.Resolved, 1)
	assert.Equal(t, callsBefore, fake.listCalls)
}

func TestResolverConcurrentLookupsAndCreates(t *testing.T) {
	r, client, _ := newResolverFixture(t)
	ctx := context.Background()

	require.NoError(t, r.PreloadTable(ctx, client, "base1", "tbl2"))

	// ID lookups race against on-demand creates on the same cached
	// table; run under -race to catch unsynchronized map access.
	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			res, err := r.ResolveIDsToNames(ctx, client, "base1", "tbl2", []string{"rec201", "rec202"}, false)
			assert.NoError(t, err)
			assert.Len(t, res.Resolved, 2)
		}()

		go func() {
			defer wg.Done()

			name := fmt.Sprintf("Vendor %d", i)
			res, err := r.ResolveNamesToIDs(ctx, client, "base1", "tbl2", []string{name}, true)
			assert.NoError(t, err)
			assert.Len(t, res.Resolved, 1)
		}()
	}

	wg.Wait()
}

func TestResolverCacheExpires(t *testing.T) {
	r, client, fake := newResolverFixture(t)
	ctx := context.Background()

	now := time.Now()
	r.nowFunc = func() time.Time { return now }

	require.NoError(t, r.PreloadTable(ctx, client, "base1", "tbl2"))
	callsAfterLoad := fake.listCalls

	now = now.Add(2 * time.Minute)

	_, err := r.ResolveIDsToNames(ctx, client, "base1", "tbl2", []string{"rec201"}, false)
	require.NoError(t, err)
	assert.Greater(t, fake.listCalls, callsAfterLoad, "expired cache triggers a reload")
}

func TestResolverInvalidate(t *testing.T) {
	r, client, fake := newResolverFixture(t)
	ctx := context.Background()

	require.NoError(t, r.PreloadTable(ctx, client, "base1", "tbl2"))
	callsAfterLoad := fake.listCalls

	r.Invalidate("base1", "tbl2")

	require.NoError(t, r.PreloadTable(ctx, client, "base1", "tbl2"))
	assert.Greater(t, fake.listCalls, callsAfterLoad)
}

func TestChunked(t *testing.T) {
	var batches [][]int
	for batch := range chunked(7, 3) {
		batches = append(batches, batch)
	}

	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}, {6}}, batches)

	batches = nil
	for batch := range chunked(0, 3) {
		batches = append(batches, batch)
	}

	assert.Empty(t, batches)
}
