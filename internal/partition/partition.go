// Package partition regroups raw per-key observations into vendor/time-to-trip/
// length-of-stay buckets, one bucket per output file.
package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Key is a parsed "hotel_vendor_ttt_los" observation key.
type Key struct {
	Hotel  string
	Vendor string
	TTT    string
	LOS    string
}

// Bucket is the file name stem shared by every hotel of a vendor/ttt/los combination.
func (k Key) Bucket() string {
	return k.Vendor + "_" + k.TTT + "_" + k.LOS
}

// ParseKey splits a raw key into its four parts.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, "_")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("key %q: expected hotel_vendor_ttt_los", raw)
	}
	for _, p := range parts {
		if p == "" {
			return Key{}, fmt.Errorf("key %q: empty component", raw)
		}
	}
	return Key{Hotel: parts[0], Vendor: parts[1], TTT: parts[2], LOS: parts[3]}, nil
}

// Entry is one single-key object of a bucket file.
type Entry struct {
	Hotel  string
	Values json.RawMessage
}

// MarshalJSON renders the entry as {"hotel": values}.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]json.RawMessage{e.Hotel: e.Values})
}

// Groups maps bucket -> entries sorted by hotel.
type Groups map[string][]Entry

// Group buckets raw observations. Keys that do not parse are returned separately,
// sorted, and do not stop the grouping.
func Group(raw map[string]json.RawMessage) (Groups, []string) {
	groups := make(Groups)
	var rejected []string

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key, err := ParseKey(k)
		if err != nil {
			rejected = append(rejected, k)
			continue
		}
		bucket := key.Bucket()
		groups[bucket] = append(groups[bucket], Entry{Hotel: key.Hotel, Values: raw[k]})
	}

	for bucket := range groups {
		entries := groups[bucket]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Hotel < entries[j].Hotel })
	}
	return groups, rejected
}

// Report counts bucket sizes the way the data-quality check reads them.
type Report struct {
	Files        int
	LessThan10   int
	Over30       int
	Over50       int
	Over50Bucket []string
}

// Check summarises bucket sizes.
func Check(groups Groups) Report {
	r := Report{Files: len(groups)}
	for bucket, entries := range groups {
		n := len(entries)
		if n < 10 {
			r.LessThan10++
		}
		if n > 30 {
			r.Over30++
		}
		if n > 50 {
			r.Over50++
			r.Over50Bucket = append(r.Over50Bucket, bucket)
		}
	}
	sort.Strings(r.Over50Bucket)
	return r
}

// LoadRaw reads the raw observation file: a JSON object keyed by hotel_vendor_ttt_los.
func LoadRaw(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return raw, nil
}

// Write stores every bucket as <dir>/<bucket>.json and returns the written paths.
func Write(dir string, groups Groups) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	buckets := make([]string, 0, len(groups))
	for b := range groups {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)

	paths := make([]string, 0, len(buckets))
	for _, b := range buckets {
		payload, err := json.MarshalIndent(groups[b], "", "    ")
		if err != nil {
			return paths, fmt.Errorf("encode bucket %s: %w", b, err)
		}
		path := filepath.Join(dir, b+".json")
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return paths, fmt.Errorf("write bucket %s: %w", b, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
