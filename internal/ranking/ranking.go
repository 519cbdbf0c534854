// Package ranking orders indexed images against a query descriptor set and
// adapts per-descriptor weights from relevance feedback.
package ranking

import (
	"math"
	"sort"

	"github.com/velia-labs/imagematch/internal/descriptor"
)

// Descriptor kind keys as they appear in weights and on the wire.
const (
	KeyHistogram      = "histogram"
	KeyDominantColors = "dominant_colors"
	KeyGabor          = "gabor_descriptors"
	KeyHuMoments      = "hu_moments"
	KeyTextureEnergy  = "texture_energy"
	KeyCircularity    = "circularity"
)

// Kinds lists every weighted descriptor kind.
var Kinds = []string{
	KeyHistogram, KeyDominantColors, KeyGabor, KeyHuMoments, KeyTextureEnergy, KeyCircularity,
}

// Weights maps descriptor kind to its contribution in the combined score.
type Weights map[string]float64

// DefaultWeights starts every kind with an equal share.
func DefaultWeights() Weights {
	w := make(Weights, len(Kinds))
	for _, k := range Kinds {
		w[k] = 1.0 / float64(len(Kinds))
	}
	return w
}

// Normalize scales weights so they sum to 1. All-zero weights fall back to
// the default split.
func (w Weights) Normalize() Weights {
	var total float64
	for _, v := range w {
		total += v
	}
	if total <= 0 {
		return DefaultWeights()
	}
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v / total
	}
	return out
}

// Clone returns an independent copy.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// IndexedImage is one dataset entry with its precomputed descriptors.
type IndexedImage struct {
	Category    string
	ImageName   string
	Descriptors descriptor.Set
}

// Match is one ranked result. Lower score means more similar.
type Match struct {
	Category  string
	ImageName string
	Score     float64
}

// Distance combines per-kind distances into one weighted score in [0,1].
// Kinds missing on either side are skipped and the weight mass of the
// remaining kinds is rescaled, so sparse index entries stay comparable.
func Distance(query, candidate descriptor.Set, w Weights) float64 {
	type kindDistance struct {
		key string
		d   float64
		ok  bool
	}
	distances := []kindDistance{
		{KeyHistogram, histogramDistance(query.Histogram, candidate.Histogram), len(query.Histogram) > 0 && len(candidate.Histogram) > 0},
		{KeyDominantColors, paletteDistance(query.DominantColors, candidate.DominantColors), len(query.DominantColors) > 0 && len(candidate.DominantColors) > 0},
		{KeyGabor, vectorDistance(query.GaborDescriptors, candidate.GaborDescriptors), len(query.GaborDescriptors) > 0 && len(candidate.GaborDescriptors) > 0},
		{KeyHuMoments, vectorDistance(query.HuMoments, candidate.HuMoments), len(query.HuMoments) > 0 && len(candidate.HuMoments) > 0},
		{KeyTextureEnergy, vectorDistance(query.TextureEnergy, candidate.TextureEnergy), len(query.TextureEnergy) > 0 && len(candidate.TextureEnergy) > 0},
		{KeyCircularity, vectorDistance(query.Circularity, candidate.Circularity), len(query.Circularity) > 0 && len(candidate.Circularity) > 0},
	}

	var score, weightMass float64
	for _, kd := range distances {
		if !kd.ok {
			continue
		}
		score += w[kd.key] * kd.d
		weightMass += w[kd.key]
	}
	if weightMass == 0 {
		return 1
	}
	return score / weightMass
}

// Rank scores every indexed image against the query and returns the topK
// closest in ascending score order.
func Rank(query descriptor.Set, index []IndexedImage, w Weights, topK int) []Match {
	matches := make([]Match, 0, len(index))
	for _, img := range index {
		if img.Descriptors.Empty() {
			continue
		}
		matches = append(matches, Match{
			Category:  img.Category,
			ImageName: img.ImageName,
			Score:     Distance(query, img.Descriptors, w),
		})
	}

	// Lower score means more similar; ties break on name for stable output.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score < matches[j].Score
		}
		return matches[i].ImageName < matches[j].ImageName
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// UpdateWeights boosts descriptor kinds under which relevant examples sit
// closer to the query than irrelevant ones, and dampens the opposite, then
// renormalizes. With no relevant examples the current weights are kept.
func UpdateWeights(query descriptor.Set, relevant, irrelevant []descriptor.Set, current Weights) Weights {
	if len(relevant) == 0 && len(irrelevant) == 0 {
		return current.Clone()
	}

	const eps = 1e-6
	updated := current.Clone()
	for _, key := range Kinds {
		relDist, relOK := meanKindDistance(query, relevant, key)
		irrDist, irrOK := meanKindDistance(query, irrelevant, key)

		ratio := 1.0
		switch {
		case relOK && irrOK:
			ratio = (irrDist + eps) / (relDist + eps)
		case relOK:
			// Only relevant examples: reward kinds where they hug the query.
			ratio = 1 / (relDist + 0.5)
		case irrOK:
			ratio = irrDist + 0.5
		}

		if ratio > 4 {
			ratio = 4
		}
		if ratio < 0.25 {
			ratio = 0.25
		}
		updated[key] *= ratio
	}
	return updated.Normalize()
}

func meanKindDistance(query descriptor.Set, sets []descriptor.Set, key string) (float64, bool) {
	var sum float64
	var n int
	for _, s := range sets {
		d, ok := kindDistanceFor(query, s, key)
		if !ok {
			continue
		}
		sum += d
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func kindDistanceFor(query, candidate descriptor.Set, key string) (float64, bool) {
	switch key {
	case KeyHistogram:
		if len(query.Histogram) == 0 || len(candidate.Histogram) == 0 {
			return 0, false
		}
		return histogramDistance(query.Histogram, candidate.Histogram), true
	case KeyDominantColors:
		if len(query.DominantColors) == 0 || len(candidate.DominantColors) == 0 {
			return 0, false
		}
		return paletteDistance(query.DominantColors, candidate.DominantColors), true
	case KeyGabor:
		if len(query.GaborDescriptors) == 0 || len(candidate.GaborDescriptors) == 0 {
			return 0, false
		}
		return vectorDistance(query.GaborDescriptors, candidate.GaborDescriptors), true
	case KeyHuMoments:
		if len(query.HuMoments) == 0 || len(candidate.HuMoments) == 0 {
			return 0, false
		}
		return vectorDistance(query.HuMoments, candidate.HuMoments), true
	case KeyTextureEnergy:
		if len(query.TextureEnergy) == 0 || len(candidate.TextureEnergy) == 0 {
			return 0, false
		}
		return vectorDistance(query.TextureEnergy, candidate.TextureEnergy), true
	case KeyCircularity:
		if len(query.Circularity) == 0 || len(candidate.Circularity) == 0 {
			return 0, false
		}
		return vectorDistance(query.Circularity, candidate.Circularity), true
	}
	return 0, false
}

// histogramDistance is the halved L1 distance of sum-normalized histograms,
// bounded to [0,1].
func histogramDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sumA, sumB := 0.0, 0.0
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	if sumA == 0 || sumB == 0 {
		return 1
	}

	var d float64
	for i := 0; i < n; i++ {
		d += math.Abs(a[i]/sumA - b[i]/sumB)
	}
	return d / 2
}

// paletteDistance averages, over both directions, the distance from each
// color to its nearest counterpart, scaled by the RGB diagonal.
func paletteDistance(a, b [][]float64) float64 {
	maxDist := math.Sqrt(3 * 255 * 255)
	return (directedPalette(a, b) + directedPalette(b, a)) / (2 * maxDist)
}

func directedPalette(from, to [][]float64) float64 {
	if len(from) == 0 || len(to) == 0 {
		return 0
	}
	var sum float64
	for _, c := range from {
		best := math.MaxFloat64
		for _, d := range to {
			dist := colorDistance(c, d)
			if dist < best {
				best = dist
			}
		}
		sum += best
	}
	return sum / float64(len(from))
}

func colorDistance(a, b []float64) float64 {
	var sum float64
	for i := 0; i < 3 && i < len(a) && i < len(b); i++ {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// vectorDistance is the euclidean distance scaled by the magnitudes of both
// vectors, bounded to [0,1].
func vectorDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var diff, magA, magB float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		diff += d * d
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	denom := math.Sqrt(magA) + math.Sqrt(magB)
	if denom == 0 {
		return 0
	}
	d := math.Sqrt(diff) / denom
	if d > 1 {
		d = 1
	}
	return d
}
