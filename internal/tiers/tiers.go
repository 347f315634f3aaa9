// Package tiers assigns each hotel of a bucket to a price tier and writes the
// tier files consumed by the loss run.
package tiers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"hotel-cache-loss/internal/dataset"
)

// Defaults used by the tier build.
const (
	DefaultPercentile = 40
	DefaultClusters   = 4
	MinHotels         = 10
	maxIterations     = 100
)

var (
	// ErrTooFewHotels is returned for buckets that are too small to cluster.
	ErrTooFewHotels = errors.New("tiers: too few hotels to cluster")
	// ErrInvalidPercentile is returned for a percentile outside (0, 100].
	ErrInvalidPercentile = errors.New("tiers: percentile must be in (0, 100]")
)

// Options tune a tier build.
type Options struct {
	Percentile float64
	Clusters   int
	MinHotels  int
}

func (o Options) withDefaults() Options {
	if o.Percentile <= 0 {
		o.Percentile = DefaultPercentile
	}
	if o.Clusters <= 0 {
		o.Clusters = DefaultClusters
	}
	if o.MinHotels <= 0 {
		o.MinHotels = MinHotels
	}
	return o
}

// Assignment is a clustering of hotels: labels index into Centroids.
type Assignment struct {
	Labels    map[string]int
	Centroids []float64
}

// Build collapses every hotel to one representative value and clusters them.
func Build(values map[string][]float64, opts Options) (Assignment, error) {
	opts = opts.withDefaults()
	if opts.Percentile > 100 {
		return Assignment{}, fmt.Errorf("%w: got %v", ErrInvalidPercentile, opts.Percentile)
	}

	hotels := make([]string, 0, len(values))
	points := make([]float64, 0, len(values))
	for hotel, vs := range values {
		if len(vs) == 0 {
			continue
		}
		hotels = append(hotels, hotel)
	}
	sort.Strings(hotels)
	for _, hotel := range hotels {
		points = append(points, math.Trunc(Percentile(values[hotel], opts.Percentile)))
	}

	if len(points) < opts.MinHotels {
		return Assignment{}, fmt.Errorf("%w: %d < %d", ErrTooFewHotels, len(points), opts.MinHotels)
	}

	labels, centroids := KMeans1D(points, opts.Clusters)
	out := Assignment{Labels: make(map[string]int, len(hotels)), Centroids: centroids}
	for i, hotel := range hotels {
		out.Labels[hotel] = labels[i]
	}
	return out, nil
}

// Percentile uses linear interpolation between closest ranks. p is clamped to [0, 100].
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	p = math.Max(0, math.Min(100, p))
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// KMeans1D clusters points into at most k groups with Lloyd iterations seeded at
// evenly spaced quantiles. Centroids are returned in ascending order.
func KMeans1D(points []float64, k int) ([]int, []float64) {
	if len(points) == 0 || k <= 0 {
		return nil, nil
	}

	sorted := append([]float64(nil), points...)
	sort.Float64s(sorted)
	uniq := []float64{sorted[0]}
	for _, v := range sorted[1:] {
		if v != uniq[len(uniq)-1] {
			uniq = append(uniq, v)
		}
	}
	if k > len(uniq) {
		k = len(uniq)
	}

	centroids := make([]float64, k)
	for i := range centroids {
		idx := int((float64(i) + 0.5) / float64(k) * float64(len(uniq)))
		centroids[i] = uniq[idx]
	}

	labels := make([]int, len(points))
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			if best := nearest(centroids, p); best != labels[i] {
				labels[i] = best
				changed = true
			}
		}

		sums := make([]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			sums[labels[i]] += p
			counts[labels[i]]++
		}
		for c := range centroids {
			if counts[c] > 0 {
				centroids[c] = sums[c] / float64(counts[c])
			}
		}

		if !changed && iter > 0 {
			break
		}
	}

	return relabelAscending(labels, centroids)
}

func nearest(centroids []float64, p float64) int {
	best := 0
	bestDist := math.Abs(p - centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := math.Abs(p - centroids[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func relabelAscending(labels []int, centroids []float64) ([]int, []float64) {
	order := make([]int, len(centroids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return centroids[order[a]] < centroids[order[b]] })

	remap := make([]int, len(centroids))
	sorted := make([]float64, len(centroids))
	for newIdx, oldIdx := range order {
		remap[oldIdx] = newIdx
		sorted[newIdx] = centroids[oldIdx]
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = remap[l]
	}
	return out, sorted
}

// LoadBucket reads a bucket file ([{hotel: values}]) into hotel -> values. Values may
// be plain numbers or [timestamp, price] pairs, in which case prices are used.
func LoadBucket(path string) (map[string][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	out := make(map[string][]float64)
	for _, entry := range entries {
		for hotel, raw := range entry {
			vs, err := decodeValues(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: hotel %s: %w", path, hotel, err)
			}
			out[hotel] = vs
		}
	}
	return out, nil
}

func decodeValues(raw json.RawMessage) ([]float64, error) {
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var pairs [][]float64
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, err
	}
	prices := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("expected [timestamp, price], got %d values", len(p))
		}
		prices = append(prices, p[1])
	}
	return prices, nil
}

// WriteTierFile stores the assignment in the [labels, centroids] tier file layout.
func WriteTierFile(path string, a Assignment) error {
	payload, err := dataset.EncodeTiers(a.Labels, a.Centroids)
	if err != nil {
		return fmt.Errorf("encode tiers: %w", err)
	}
	return os.WriteFile(path, payload, 0o644)
}
