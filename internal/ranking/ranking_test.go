package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velia-labs/imagematch/internal/descriptor"
)

func setWithHistogram(hist []float64) descriptor.Set {
	return descriptor.Set{
		Histogram:     hist,
		TextureEnergy: []float64{1},
		Circularity:   []float64{0.5},
	}
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	require.Len(t, w, len(Kinds))

	var total float64
	for _, v := range w {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestDistanceIdenticalSetsIsZero(t *testing.T) {
	s := descriptor.Set{
		Histogram:        []float64{10, 20, 30},
		DominantColors:   [][]float64{{255, 0, 0}, {0, 0, 255}},
		GaborDescriptors: []float64{0.1, 0.2, 0.3},
		HuMoments:        []float64{0.01, 0.002},
		TextureEnergy:    []float64{12.5},
		Circularity:      []float64{0.8},
	}
	assert.InDelta(t, 0.0, Distance(s, s, DefaultWeights()), 1e-9)
}

func TestDistanceBoundedAndOrdered(t *testing.T) {
	query := setWithHistogram([]float64{100, 0, 0})
	near := setWithHistogram([]float64{90, 10, 0})
	far := setWithHistogram([]float64{0, 0, 100})

	w := DefaultWeights()
	dNear := Distance(query, near, w)
	dFar := Distance(query, far, w)

	assert.Less(t, dNear, dFar)
	assert.GreaterOrEqual(t, dNear, 0.0)
	assert.LessOrEqual(t, dFar, 1.0)
}

func TestDistanceSkipsMissingKinds(t *testing.T) {
	query := descriptor.Set{Histogram: []float64{1, 2, 3}, TextureEnergy: []float64{5}}
	candidate := descriptor.Set{Histogram: []float64{1, 2, 3}}

	// Only the histogram kind is present on both sides, and it matches.
	assert.InDelta(t, 0.0, Distance(query, candidate, DefaultWeights()), 1e-9)
}

func TestRankAscendingWithTopK(t *testing.T) {
	query := setWithHistogram([]float64{100, 0, 0})
	index := []IndexedImage{
		{Category: "cats", ImageName: "far.jpg", Descriptors: setWithHistogram([]float64{0, 0, 100})},
		{Category: "cats", ImageName: "near.jpg", Descriptors: setWithHistogram([]float64{95, 5, 0})},
		{Category: "dogs", ImageName: "mid.jpg", Descriptors: setWithHistogram([]float64{50, 50, 0})},
		{Category: "dogs", ImageName: "empty.jpg"},
	}

	matches := Rank(query, index, DefaultWeights(), 2)
	require.Len(t, matches, 2)
	assert.Equal(t, "near.jpg", matches[0].ImageName)
	assert.Equal(t, "mid.jpg", matches[1].ImageName)
	assert.Less(t, matches[0].Score, matches[1].Score)
}

func TestRankStableTieBreak(t *testing.T) {
	query := setWithHistogram([]float64{10, 10})
	index := []IndexedImage{
		{ImageName: "b.jpg", Descriptors: setWithHistogram([]float64{10, 10})},
		{ImageName: "a.jpg", Descriptors: setWithHistogram([]float64{10, 10})},
	}

	matches := Rank(query, index, DefaultWeights(), 0)
	require.Len(t, matches, 2)
	assert.Equal(t, "a.jpg", matches[0].ImageName)
}

func TestUpdateWeightsBoostsDiscriminativeKind(t *testing.T) {
	query := descriptor.Set{
		Histogram:     []float64{100, 0},
		TextureEnergy: []float64{10},
	}
	// Relevant example matches the query histogram but not its texture.
	relevant := descriptor.Set{
		Histogram:     []float64{100, 0},
		TextureEnergy: []float64{100},
	}
	// Irrelevant example is the mirror image.
	irrelevant := descriptor.Set{
		Histogram:     []float64{0, 100},
		TextureEnergy: []float64{10},
	}

	before := DefaultWeights()
	after := UpdateWeights(query, []descriptor.Set{relevant}, []descriptor.Set{irrelevant}, before)

	assert.Greater(t, after[KeyHistogram], before[KeyHistogram])
	assert.Less(t, after[KeyTextureEnergy], before[KeyTextureEnergy])

	var total float64
	for _, v := range after {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestUpdateWeightsNoFeedbackKeepsWeights(t *testing.T) {
	before := DefaultWeights()
	after := UpdateWeights(descriptor.Set{}, nil, nil, before)
	assert.Equal(t, before, after)
}

func TestUpdateWeightsOnlyRelevant(t *testing.T) {
	query := descriptor.Set{Histogram: []float64{100, 0}}
	relevant := descriptor.Set{Histogram: []float64{100, 0}}

	after := UpdateWeights(query, []descriptor.Set{relevant}, nil, DefaultWeights())

	// The histogram kind hugged the query, so it should gain share.
	assert.Greater(t, after[KeyHistogram], 1.0/float64(len(Kinds)))
}

func TestNormalizeAllZeroFallsBack(t *testing.T) {
	w := Weights{KeyHistogram: 0, KeyGabor: 0}
	assert.Equal(t, DefaultWeights(), w.Normalize())
}

func TestVectorDistanceProperties(t *testing.T) {
	assert.InDelta(t, 0.0, vectorDistance([]float64{1, 2}, []float64{1, 2}), 1e-9)
	assert.InDelta(t, 1.0, vectorDistance([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, vectorDistance([]float64{0}, []float64{0}))
}

func TestHistogramDistanceScaleInvariant(t *testing.T) {
	a := []float64{10, 20, 30}
	b := []float64{100, 200, 300}
	assert.InDelta(t, 0.0, histogramDistance(a, b), 1e-9)
}
