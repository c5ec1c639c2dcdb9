package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/m-mizutani/goerr/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/becomeliminal/chat-gateway/core"
)

// sampleRows is how many rows summaries show.
const sampleRows = 5

// Dataset is a parsed CSV file. Every row has one cell per column.
type Dataset struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// ParseCSV reads a CSV file whose first record is the header.
func ParseCSV(data []byte, name string) (*Dataset, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, goerr.New("csv file is empty", goerr.V("name", name), goerr.T(core.TagUnsupported))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read csv header", goerr.V("name", name), goerr.T(core.TagUnsupported))
	}

	ds := &Dataset{Name: name, Columns: header}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse csv", goerr.V("name", name), goerr.T(core.TagUnsupported))
		}
		row := make([]string, len(header))
		copy(row, record)
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// Shape returns the number of rows and columns.
func (d *Dataset) Shape() (int, int) {
	return len(d.Rows), len(d.Columns)
}

// column returns the non-empty values of column i.
func (d *Dataset) column(i int) []string {
	var out []string
	for _, row := range d.Rows {
		if v := strings.TrimSpace(row[i]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// kind reports "int64", "float64" or "object" for a column's values.
func kind(values []string) string {
	if len(values) == 0 {
		return "object"
	}
	isInt := true
	for _, v := range values {
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			continue
		}
		isInt = false
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "object"
		}
	}
	if isInt {
		return "int64"
	}
	return "float64"
}

// Head renders the first n rows as an aligned table.
func (d *Dataset) Head(n int) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\t"+strings.Join(d.Columns, "\t"))
	for i, row := range d.Rows {
		if i >= n {
			break
		}
		fmt.Fprintf(w, "%d\t%s\n", i, strings.Join(row, "\t"))
	}
	w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

// Info lists each column with its non-null count and type.
func (d *Dataset) Info() string {
	var buf bytes.Buffer
	rows, cols := d.Shape()
	fmt.Fprintf(&buf, "RangeIndex: %d entries\nData columns (total %d columns):\n", rows, cols)

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " #\tColumn\tNon-Null Count\tDtype")
	for i, name := range d.Columns {
		values := d.column(i)
		fmt.Fprintf(w, " %d\t%s\t%d non-null\t%s\n", i, name, len(values), kind(values))
	}
	w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

// Describe summarizes numeric columns with count, mean, std, min, quartiles
// and max.
func (d *Dataset) Describe() string {
	var names []string
	var stats [][]float64
	for i, name := range d.Columns {
		values := d.column(i)
		if k := kind(values); k != "int64" && k != "float64" {
			continue
		}
		nums := make([]float64, len(values))
		for j, v := range values {
			nums[j], _ = strconv.ParseFloat(v, 64)
		}
		names = append(names, name)
		stats = append(stats, describe(nums))
	}
	if len(names) == 0 {
		return "No numeric columns."
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\t"+strings.Join(names, "\t"))
	for row, label := range []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"} {
		cells := make([]string, len(stats))
		for i, s := range stats {
			cells[i] = formatStat(s[row])
		}
		fmt.Fprintf(w, "%s\t%s\n", label, strings.Join(cells, "\t"))
	}
	w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

func describe(nums []float64) []float64 {
	n := float64(len(nums))
	if n == 0 {
		nan := math.NaN()
		return []float64{0, nan, nan, nan, nan, nan, nan, nan}
	}

	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if n < 2 {
		std = math.NaN()
	}

	return []float64{n, mean, std, sorted[0], quantile(sorted, 0.25), quantile(sorted, 0.5), quantile(sorted, 0.75), sorted[len(sorted)-1]}
}

// quantile interpolates linearly between the closest ranks of sorted at
// position q*(n-1). stat.Quantile's Empirical and LinInterp estimators place
// quartiles differently.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// Details is the dataset overview given to the model.
func (d *Dataset) Details() string {
	rows, cols := d.Shape()
	var b strings.Builder
	b.WriteString("=== DATASET OVERVIEW ===\n")
	fmt.Fprintf(&b, "\nDataset Shape: (%d, %d)\n", rows, cols)
	fmt.Fprintf(&b, "\nColumn Names: [%s]\n", strings.Join(d.Columns, ", "))
	b.WriteString("\nDataset Information:\n")
	b.WriteString(d.Info())
	b.WriteString("\n\nSample Data (first 5 rows):\n")
	b.WriteString(d.Head(sampleRows))
	b.WriteString("\n\nStatistical Summary:\n")
	b.WriteString(d.Describe())
	b.WriteString("\n")
	return b.String()
}

// Overview is the plain description returned for "describe the data"
// style questions.
func (d *Dataset) Overview() string {
	rows, cols := d.Shape()
	return fmt.Sprintf("This dataset has %d rows and %d columns.\n\nThe columns are: %s\n\nHere's a sample of the data (first 5 rows):\n%s",
		rows, cols, strings.Join(d.Columns, ", "), d.Head(sampleRows))
}
