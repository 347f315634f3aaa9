package lossmatrix

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
)

// HeaderCorner is the label of the first CSV column.
const HeaderCorner = "Hotel/Vendor"

// Matrix maps vendor -> hotel -> average loss.
type Matrix map[string]map[string]int64

// Set records the loss of a hotel at a vendor.
func (m Matrix) Set(vendor, hotel string, loss int64) {
	hotels, ok := m[vendor]
	if !ok {
		hotels = make(map[string]int64)
		m[vendor] = hotels
	}
	hotels[hotel] = loss
}

// Table is the rectangular hotels × vendors rendering of a Matrix.
type Table struct {
	Vendors []string
	Hotels  []string
	// Cells[i][j] is the loss of Hotels[i] at Vendors[j].
	Cells [][]int64
}

// Export flattens the matrix into a table. Vendors and hotels are sorted and every
// hotel gets a cell for every vendor, zero when the vendor never reported it.
func Export(m Matrix) Table {
	vendors := make([]string, 0, len(m))
	seen := make(map[string]struct{})
	for vendor, hotels := range m {
		vendors = append(vendors, vendor)
		for hotel := range hotels {
			seen[hotel] = struct{}{}
		}
	}
	sort.Strings(vendors)

	hotels := make([]string, 0, len(seen))
	for hotel := range seen {
		hotels = append(hotels, hotel)
	}
	sort.Strings(hotels)

	cells := make([][]int64, len(hotels))
	for i, hotel := range hotels {
		row := make([]int64, len(vendors))
		for j, vendor := range vendors {
			row[j] = m[vendor][hotel]
		}
		cells[i] = row
	}

	return Table{Vendors: vendors, Hotels: hotels, Cells: cells}
}

// Matrix rebuilds a matrix holding every cell of the table, zero cells included.
func (t Table) Matrix() Matrix {
	m := make(Matrix, len(t.Vendors))
	for j, vendor := range t.Vendors {
		for i, hotel := range t.Hotels {
			m.Set(vendor, hotel, t.Cells[i][j])
		}
	}
	return m
}

// WriteCSV writes the table with a "Hotel/Vendor" header row.
func WriteCSV(w io.Writer, t Table) error {
	writer := csv.NewWriter(w)

	header := append([]string{HeaderCorner}, t.Vendors...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, hotel := range t.Hotels {
		record := make([]string, 0, len(t.Vendors)+1)
		record = append(record, hotel)
		for _, loss := range t.Cells[i] {
			record = append(record, strconv.FormatInt(loss, 10))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// VendorMean is the average loss of a vendor column.
type VendorMean struct {
	Vendor string
	Mean   float64
}

// VendorMeans averages each vendor column over every hotel row, highest first.
func VendorMeans(t Table) []VendorMean {
	means := make([]VendorMean, len(t.Vendors))
	for j, vendor := range t.Vendors {
		var sum int64
		for i := range t.Hotels {
			sum += t.Cells[i][j]
		}
		mean := 0.0
		if len(t.Hotels) > 0 {
			mean = float64(sum) / float64(len(t.Hotels))
		}
		means[j] = VendorMean{Vendor: vendor, Mean: mean}
	}

	sort.SliceStable(means, func(a, b int) bool {
		if means[a].Mean != means[b].Mean {
			return means[a].Mean > means[b].Mean
		}
		return means[a].Vendor < means[b].Vendor
	})
	return means
}
