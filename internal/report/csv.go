package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopac/domain/anchor"
)

var failureHeader = []string{
	"n", "p_n", "p_n1", "s", "g", "q", "k_min", "symmetric",
	"factors", "smallest_factor", "residues", "fix_r", "fix_n", "fix_s",
}

// CSVSink writes one row per Law I failure. It is used from the single merge
// goroutine and is not safe for concurrent use.
type CSVSink struct {
	w       *csv.Writer
	started bool
	rows    uint64
}

// NewCSVSink writes to w; call Flush when the run ends.
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

// WriteFailure appends rec.
func (s *CSVSink) WriteFailure(rec anchor.FailureRecord) error {
	if !s.started {
		if err := s.w.Write(failureHeader); err != nil {
			return err
		}
		s.started = true
	}
	a, np := rec.Anchor, rec.Nearest
	row := []string{
		u(a.Index), u(a.Lower), u(a.Upper), u(a.Sum), u(a.Gap),
		u(np.Prime), u(np.Distance), strconv.FormatBool(np.Symmetric),
		factorString(rec.Factors), u(rec.SmallestFactor), residueString(rec.Signatures),
		"", "", "",
	}
	if rec.Fix != nil {
		row[11], row[12], row[13] = u(rec.Fix.Radius), u(rec.Fix.Index), u(rec.Fix.Sum)
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.rows++
	return nil
}

// Rows is the number of failures written.
func (s *CSVSink) Rows() uint64 { return s.rows }

// Flush writes buffered rows and reports any write error.
func (s *CSVSink) Flush() error {
	if !s.started {
		if err := s.w.Write(failureHeader); err != nil {
			return err
		}
		s.started = true
	}
	s.w.Flush()
	return s.w.Error()
}

func u(x uint64) string { return strconv.FormatUint(x, 10) }

// factorString formats 45 as "3^2*5".
func factorString(fs []anchor.Factor) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		if f.Exponent == 1 {
			parts[i] = u(f.Prime)
		} else {
			parts[i] = fmt.Sprintf("%d^%d", f.Prime, f.Exponent)
		}
	}
	return strings.Join(parts, "*")
}

// residueString formats signatures as "6:4 30:4 210:94".
func residueString(sigs []anchor.Signature) string {
	parts := make([]string, len(sigs))
	for i, s := range sigs {
		parts[i] = fmt.Sprintf("%d:%d", s.Modulus, s.Residue)
	}
	return strings.Join(parts, " ")
}
