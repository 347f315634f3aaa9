package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"hotel-cache-loss/internal/simulator"
)

// DefaultRefreshMinutes is used for hotels that have no tier assignment.
const DefaultRefreshMinutes = 250

// ErrMalformed marks input files that exist but cannot be interpreted.
var ErrMalformed = errors.New("dataset: malformed file")

// HotelSeries is one hotel entry of a vendor file.
type HotelSeries struct {
	Hotel  string
	Series simulator.Series
}

// VendorFile holds every hotel series recorded for one vendor bucket.
type VendorFile struct {
	Vendor string
	Hotels []HotelSeries
}

// TierLookup maps a hotel to the centroid of its price tier.
type TierLookup map[string]float64

// RefreshMinutes returns the hotel's tier centroid, or fallback when the hotel is unassigned.
func (t TierLookup) RefreshMinutes(hotel string, fallback float64) float64 {
	if v, ok := t[hotel]; ok {
		return v
	}
	return fallback
}

// VendorName derives the vendor key from a file path: the base name up to the first dot.
func VendorName(path string) string {
	base := filepath.Base(path)
	if idx := strings.Index(base, "."); idx >= 0 {
		return base[:idx]
	}
	return base
}

// LoadVendorFile reads a vendor file: an array of single-key objects mapping a hotel
// to its [timestamp, price] pairs.
func LoadVendorFile(path string) (VendorFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return VendorFile{}, err
	}
	hotels, err := ParseVendorEntries(raw)
	if err != nil {
		return VendorFile{}, fmt.Errorf("%s: %w", path, err)
	}
	return VendorFile{Vendor: VendorName(path), Hotels: hotels}, nil
}

// ParseVendorEntries decodes the vendor file payload, keeping entry order.
func ParseVendorEntries(raw []byte) ([]HotelSeries, error) {
	var entries []map[string][]samplePair
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	hotels := make([]HotelSeries, 0, len(entries))
	for _, entry := range entries {
		names := make([]string, 0, len(entry))
		for name := range entry {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			pairs := entry[name]
			series := make(simulator.Series, len(pairs))
			for i, p := range pairs {
				series[i] = simulator.Sample(p)
			}
			hotels = append(hotels, HotelSeries{Hotel: name, Series: series})
		}
	}
	return hotels, nil
}

// LoadTierFile reads a tier file and resolves each hotel's cluster label to the
// cluster centroid.
func LoadTierFile(path string) (TierLookup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lookup, err := ParseTiers(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lookup, nil
}

// ParseTiers decodes [{hotel: label}, {label: centroid}] and substitutes labels.
func ParseTiers(raw []byte) (TierLookup, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected [labels, centroids], got %d elements", ErrMalformed, len(parts))
	}

	var labels map[string]int
	if err := json.Unmarshal(parts[0], &labels); err != nil {
		return nil, fmt.Errorf("%w: labels: %v", ErrMalformed, err)
	}
	var centroids map[string]float64
	if err := json.Unmarshal(parts[1], &centroids); err != nil {
		return nil, fmt.Errorf("%w: centroids: %v", ErrMalformed, err)
	}

	lookup := make(TierLookup, len(labels))
	for hotel, label := range labels {
		centroid, ok := centroids[strconv.Itoa(label)]
		if !ok {
			return nil, fmt.Errorf("%w: hotel %q references unknown cluster %d", ErrMalformed, hotel, label)
		}
		lookup[hotel] = centroid
	}
	return lookup, nil
}

// EncodeTiers is the inverse of ParseTiers for a labelled clustering.
func EncodeTiers(labels map[string]int, centroids []float64) ([]byte, error) {
	byLabel := make(map[string]float64, len(centroids))
	for i, c := range centroids {
		byLabel[strconv.Itoa(i)] = c
	}
	return json.MarshalIndent([]any{labels, byLabel}, "", "    ")
}

type samplePair simulator.Sample

func (p *samplePair) UnmarshalJSON(data []byte) error {
	var values []json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return err
	}
	if len(values) != 2 {
		return fmt.Errorf("sample must be [timestamp, price], got %d values", len(values))
	}

	ts, err := parseTimestamp(values[0])
	if err != nil {
		return err
	}
	price, err := values[1].Float64()
	if err != nil {
		return fmt.Errorf("sample price: %w", err)
	}

	p.Timestamp = ts
	p.Price = price
	return nil
}

// parseTimestamp keeps integer timestamps exact; fractional ones are truncated to seconds.
func parseTimestamp(n json.Number) (int64, error) {
	if ts, err := n.Int64(); err == nil {
		return ts, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("sample timestamp: %w", err)
	}
	if math.IsNaN(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("sample timestamp %s out of range", n)
	}
	return int64(f), nil
}

func (p samplePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Timestamp, p.Price})
}

// EncodeVendorEntries renders hotels back into the vendor file layout.
func EncodeVendorEntries(hotels []HotelSeries) ([]byte, error) {
	entries := make([]map[string][]samplePair, 0, len(hotels))
	for _, h := range hotels {
		pairs := make([]samplePair, len(h.Series))
		for i, s := range h.Series {
			pairs[i] = samplePair(s)
		}
		entries = append(entries, map[string][]samplePair{h.Hotel: pairs})
	}
	return json.MarshalIndent(entries, "", "    ")
}
