package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Source supplies vendor series and their tier lookups to the aggregator.
type Source interface {
	Vendors(ctx context.Context) ([]string, error)
	Series(ctx context.Context, vendor string) ([]HotelSeries, error)
	Tiers(ctx context.Context, vendor string) (TierLookup, error)
}

// DirSource reads vendor files from one directory and tier files with the same
// file name from another.
type DirSource struct {
	VendorsDir string
	TiersDir   string

	mu    sync.Mutex
	files map[string]string
}

// NewDirSource builds a file-backed source.
func NewDirSource(vendorsDir, tiersDir string) *DirSource {
	return &DirSource{VendorsDir: vendorsDir, TiersDir: tiersDir}
}

// Vendors lists every *.json vendor file, sorted by vendor name.
func (d *DirSource) Vendors(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.VendorsDir)
	if err != nil {
		return nil, fmt.Errorf("list vendors dir: %w", err)
	}

	files := make(map[string]string)
	vendors := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		vendor := VendorName(e.Name())
		if _, dup := files[vendor]; dup {
			continue
		}
		files[vendor] = e.Name()
		vendors = append(vendors, vendor)
	}
	sort.Strings(vendors)

	d.mu.Lock()
	d.files = files
	d.mu.Unlock()
	return vendors, nil
}

// Series loads the hotel series of a vendor.
func (d *DirSource) Series(ctx context.Context, vendor string) ([]HotelSeries, error) {
	name, err := d.fileName(vendor)
	if err != nil {
		return nil, err
	}
	file, err := LoadVendorFile(filepath.Join(d.VendorsDir, name))
	if err != nil {
		return nil, err
	}
	return file.Hotels, nil
}

// Tiers loads the tier lookup stored under the vendor file's name.
func (d *DirSource) Tiers(ctx context.Context, vendor string) (TierLookup, error) {
	name, err := d.fileName(vendor)
	if err != nil {
		return nil, err
	}
	return LoadTierFile(filepath.Join(d.TiersDir, name))
}

func (d *DirSource) fileName(vendor string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name, ok := d.files[vendor]; ok {
		return name, nil
	}
	return vendor + ".json", nil
}

// MemorySource is an in-memory Source. Missing tier entries surface as errors.
type MemorySource struct {
	SeriesByVendor map[string][]HotelSeries
	TiersByVendor  map[string]TierLookup
	// Failures forces Series to fail for the listed vendors.
	Failures map[string]error
}

// Vendors returns the sorted vendor keys.
func (m *MemorySource) Vendors(ctx context.Context) ([]string, error) {
	vendors := make([]string, 0, len(m.SeriesByVendor))
	for v := range m.SeriesByVendor {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)
	return vendors, nil
}

func (m *MemorySource) Series(ctx context.Context, vendor string) ([]HotelSeries, error) {
	if err, ok := m.Failures[vendor]; ok {
		return nil, err
	}
	hotels, ok := m.SeriesByVendor[vendor]
	if !ok {
		return nil, fmt.Errorf("vendor %s: %w", vendor, os.ErrNotExist)
	}
	return hotels, nil
}

func (m *MemorySource) Tiers(ctx context.Context, vendor string) (TierLookup, error) {
	tiers, ok := m.TiersByVendor[vendor]
	if !ok {
		return nil, fmt.Errorf("tiers for %s: %w", vendor, os.ErrNotExist)
	}
	return tiers, nil
}

var (
	_ Source = (*DirSource)(nil)
	_ Source = (*MemorySource)(nil)
)
