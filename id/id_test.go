package id_test

import (
	"sort"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/world/id"
)

func TestNewIDHasPrefixAndLength(t *testing.T) {
	g := id.New()
	got := g.NewID(id.Run)
	require.Len(t, got, len(id.Run)+26)
	require.Equal(t, string(id.Run), got[:len(id.Run)])
}

func TestNewIDMonotonicSingleGenerator(t *testing.T) {
	g := id.New()
	const n = 500
	ids := make([]string, n)
	for i := range ids {
		ids[i] = g.NewID(id.Event)
	}
	require.True(t, sort.StringsAreSorted(ids), "ids must be generated in lexicographic order")
}

func TestNewIDMonotonicConcurrent(t *testing.T) {
	g := id.New()
	const workers = 16
	const perWorker = 100
	var wg sync.WaitGroup
	mu := sync.Mutex{}
	var all []string
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, perWorker)
			for i := range local {
				local[i] = g.NewID(id.Chunk)
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, all, workers*perWorker)
	seen := make(map[string]struct{}, len(all))
	for _, v := range all {
		_, dup := seen[v]
		require.False(t, dup, "id %q generated twice", v)
		seen[v] = struct{}{}
	}
	for i := 0; i < len(all); i += perWorker {
		require.True(t, sort.StringsAreSorted(all[i:i+perWorker]), "ids from one caller must increase")
	}
}

func TestLexicographicOrderIsGenerationOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	g := id.New()
	properties.Property("ids generated later sort after ids generated earlier", prop.ForAll(
		func(n int) bool {
			if n <= 0 {
				return true
			}
			prev := g.NewID(id.Message)
			for range n {
				next := g.NewID(id.Message)
				if next <= prev {
					return false
				}
				prev = next
			}
			return true
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
