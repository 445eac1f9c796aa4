// Package star reads and writes STAR metadata tables, the tabular
// format RELION and related averaging tools use to associate particle
// coordinates and image paths with their source tomograms. Only loop_
// tables are handled; bare name-value pairs inside a data block are
// skipped.
package star

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Table is one loop_ block: an ordered set of column labels and the
// rows beneath them. Cells are kept as the raw whitespace-delimited
// tokens; typed access goes through Float.
type Table struct {
	// Name is the enclosing data block's name with the "data_" prefix
	// stripped; a bare "data_" block has an empty name.
	Name   string
	Labels []string
	Rows   [][]string
}

// MissingColumnError reports a table lacking a column an operation
// requires.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("STAR table is missing required column %s", e.Column)
}

// NewTable creates an empty table with the given block name and
// column labels.
func NewTable(name string, labels ...string) *Table {
	return &Table{Name: name, Labels: labels}
}

// AddRow appends one row. The number of values must match the number
// of labels; the writer materializes the full table before a single
// write, so a malformed row is caught here rather than on disk.
func (t *Table) AddRow(values ...string) error {
	if len(values) != len(t.Labels) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.Labels))
	}
	t.Rows = append(t.Rows, values)
	return nil
}

// HasLabel reports whether the table carries the given column.
func (t *Table) HasLabel(label string) bool {
	return t.index(label) >= 0
}

func (t *Table) index(label string) int {
	for i, l := range t.Labels {
		if l == label {
			return i
		}
	}
	return -1
}

// Value returns the cell at (row, label), or ok == false when the
// column is absent.
func (t *Table) Value(row int, label string) (string, bool) {
	i := t.index(label)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return "", false
	}
	return t.Rows[row][i], true
}

// Float parses the cell at (row, label) as a float, returning def when
// the column is absent.
func (t *Table) Float(row int, label string, def float64) (float64, error) {
	s, ok := t.Value(row, label)
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s row %d: %w", label, row, err)
	}
	return v, nil
}

// Read parses every loop_ table from r. Comment lines and name-value
// pairs are skipped; a blank line or a new data block terminates the
// current loop.
func Read(r io.Reader) ([]*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var tables []*Table
	var cur *Table
	blockName := ""
	inLoop := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			inLoop = false
		case strings.HasPrefix(line, "data_"):
			blockName = strings.TrimPrefix(line, "data_")
			inLoop = false
		case line == "loop_":
			cur = &Table{Name: blockName}
			tables = append(tables, cur)
			inLoop = true
		case strings.HasPrefix(line, "_"):
			if inLoop && len(cur.Rows) == 0 {
				// Column declaration, possibly suffixed "#N".
				cur.Labels = append(cur.Labels, strings.TrimPrefix(strings.Fields(line)[0], "_"))
			}
			// Otherwise a name-value pair; not a loop table.
		default:
			if inLoop && len(cur.Labels) > 0 {
				fields := strings.Fields(line)
				if len(fields) != len(cur.Labels) {
					return nil, fmt.Errorf("row %q has %d values, loop declares %d columns", line, len(fields), len(cur.Labels))
				}
				for i, f := range fields {
					fields[i] = unquote(f)
				}
				cur.Rows = append(cur.Rows, fields)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return tables, nil
}

// ReadFile parses every loop_ table from a file.
func ReadFile(path string) ([]*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tables, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return tables, nil
}

// Particles picks the particle table out of a multi-block file:
// a "particles" block first, then a bare "data_" block, then the first
// table in the file.
func Particles(tables []*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("STAR file contains no loop tables")
	}
	for _, t := range tables {
		if t.Name == "particles" {
			return t, nil
		}
	}
	for _, t := range tables {
		if t.Name == "" {
			return t, nil
		}
	}
	return tables[0], nil
}

// Write emits a table as a single data block.
func Write(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "data_%s\n\nloop_\n", t.Name)
	for i, label := range t.Labels {
		fmt.Fprintf(bw, "_%s #%d\n", label, i+1)
	}
	for _, row := range t.Rows {
		quoted := make([]string, len(row))
		for i, cell := range row {
			quoted[i] = quote(cell)
		}
		fmt.Fprintln(bw, strings.Join(quoted, "\t"))
	}
	fmt.Fprintln(bw)
	return bw.Flush()
}

// quote protects cells that whitespace splitting would otherwise lose.
func quote(cell string) string {
	if cell == "" {
		return `""`
	}
	return cell
}

func unquote(token string) string {
	if len(token) >= 2 && token[0] == '"' && token[len(token)-1] == '"' {
		return token[1 : len(token)-1]
	}
	return token
}

// WriteFile persists a table, creating missing directories and
// overwriting any existing file at path.
func WriteFile(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := Write(f, t); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
