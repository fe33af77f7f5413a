package report

import (
	"fmt"
	"strconv"
	"strings"

	"gopac/domain/run"
	"gopac/domain/verdict"
	"gopac/internal/analysis"
	"gopac/internal/cfr"
)

// Document is a renderer-neutral report.
type Document struct {
	Title    string
	Sections []Section
}

// Section is a heading followed by paragraphs and tables.
type Section struct {
	Heading    string
	Paragraphs []string
	Tables     []Table
}

// Table is a titled grid of preformatted cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Tables returns every table in document order.
func (d *Document) Tables() []Table {
	var out []Table
	for _, s := range d.Sections {
		out = append(out, s.Tables...)
	}
	return out
}

// Build lays out the report of one run.
func Build(m *run.Manifest, rep *analysis.Report) *Document {
	p := m.Parameters
	doc := &Document{Title: "Primorial Anchor Conjecture report"}

	t := rep.Totals
	doc.Sections = append(doc.Sections, Section{
		Heading: "Run",
		Paragraphs: []string{
			fmt.Sprintf("Run %s tested %s prime pairs starting at n=%d under moduli %s (search bound %d, fix radius %d, %d workers, %s).",
				m.RunID, commas(p.Pairs), p.Offset, joinUints(p.Moduli), p.SearchBound, p.FixRadius, m.Workers, m.CodeVersion),
		},
		Tables: []Table{{
			Title:   "Classifier suite",
			Headers: []string{"Outcome", "Anchors", "Share"},
			Rows: [][]string{
				{"k = 1", commas(t.Unit), pct(share(t.Unit, t.Anchors))},
				{"k prime", commas(t.PrimeK), pct(share(t.PrimeK, t.Anchors))},
				{"k composite (Law I failure)", commas(t.Failures), pct(share(t.Failures, t.Anchors))},
				{"Total", commas(t.Anchors), pct(100)},
			},
		}, {
			Title:   "Extremes",
			Headers: []string{"Measure", "Value", "At n"},
			Rows: [][]string{
				{"Largest k_min", commas(t.MaxK), commas(t.MaxKIndex)},
				{"Largest gap", commas(t.MaxGap), commas(t.MaxGapIndex)},
				{"Symmetric ties", commas(t.Symmetric), ""},
			},
		}},
	})

	doc.Sections = append(doc.Sections, verdictSection(rep.Verdicts))
	doc.Sections = append(doc.Sections, residueSection(rep))
	doc.Sections = append(doc.Sections, kSection(rep))
	if rep.Radius != nil {
		doc.Sections = append(doc.Sections, radiusSection(rep.Radius, rep.Transitions))
	}
	if len(rep.Violations) > 0 {
		doc.Sections = append(doc.Sections, violationSection(rep))
	}
	return doc
}

func verdictSection(s verdict.Summary) Section {
	tbl := Table{Title: "Verdicts", Headers: []string{"Claim", "Status", "Reason", "Evidence"}}
	for _, v := range s.Verdicts {
		tbl.Rows = append(tbl.Rows, []string{v.Claim, string(v.Status), string(v.Reason), commas(v.Evidence)})
	}
	return Section{
		Heading:    "Verdict",
		Paragraphs: []string{fmt.Sprintf("Overall: **%s**.", s.Overall())},
		Tables:     []Table{tbl},
	}
}

func residueSection(rep *analysis.Report) Section {
	sec := Section{
		Heading: "Residue analysis",
		Paragraphs: []string{fmt.Sprintf("Overall average gap %s; average gap of failing anchors %s.",
			num(rep.AverageGap), num(rep.AverageFailureGap))},
	}
	for i, m := range rep.Moduli {
		tbl := Table{
			Title:   fmt.Sprintf("Residues mod %d", m),
			Headers: []string{"S mod P", "Anchors", "Share", "Failures", "Failure rate", "Avg gap", "Gap deviation", "Avg failure gap", "Failure gap deviation"},
		}
		for _, r := range rep.Residues {
			if r.Modulus != m {
				continue
			}
			label := strconv.FormatUint(r.Residue, 10)
			if r.Perfect {
				label += " (perfect)"
			}
			tbl.Rows = append(tbl.Rows, []string{
				label, commas(r.Anchors), pct(r.Share), commas(r.Failures), pct(100 * r.FailureRate),
				num(r.AverageGap), signed(r.GapDeviation), num(r.AverageFailureGap), signed(r.FailureGapDeviation),
			})
		}
		sec.Tables = append(sec.Tables, tbl)

		sp := rep.Spreads[i]
		chi := rep.Independence[i]
		line := fmt.Sprintf("Mod %d: %d classes, class average gap %s ± %s (range %s to %s).",
			m, sp.Classes, num(sp.MeanAverageGap), num(sp.StdDevAverageGap), num(sp.MinAverageGap), num(sp.MaxAverageGap))
		if chi.Valid {
			line += fmt.Sprintf(" Failure independence: χ²=%s, df=%d, p=%s", num(chi.Statistic), chi.DF, sci(chi.PValue))
			if chi.Significant(analysis.SignificanceLevel) {
				line += fmt.Sprintf(", rejected at α=%s.", strconv.FormatFloat(analysis.SignificanceLevel, 'g', -1, 64))
			} else {
				line += fmt.Sprintf(", not rejected at α=%s.", strconv.FormatFloat(analysis.SignificanceLevel, 'g', -1, 64))
			}
		}
		sec.Paragraphs = append(sec.Paragraphs, line)
	}
	return sec
}

func kSection(rep *analysis.Report) Section {
	d := rep.KDistribution
	dist := Table{Title: "Composite k distribution", Headers: []string{"Composite k", "Count", "Percentage"}}
	for _, r := range d.Top {
		dist.Rows = append(dist.Rows, []string{strconv.FormatUint(r.K, 10), commas(r.Count), pct(r.Percent)})
	}
	if d.Other.Count > 0 {
		dist.Rows = append(dist.Rows, []string{"Other k values", commas(d.Other.Count), pct(d.Other.Percent)})
	}
	dist.Rows = append(dist.Rows, []string{"Total", commas(d.Total), pct(share(d.Total, d.Total))})

	gaps := Table{Title: "Failure gap correlation", Headers: []string{"Composite k", "Count", "Avg gap", "Deviation"}}
	for _, g := range rep.KGaps {
		gaps.Rows = append(gaps.Rows, []string{strconv.FormatUint(g.K, 10), commas(g.Count), num(g.AverageGap), signed(g.GapDeviation)})
	}
	classes := Table{
		Title:   fmt.Sprintf("Composite k by residue mod %d", rep.DetailModulus),
		Headers: []string{"Modulus", "S mod P", "Failures", "Distinct k", "Top composite k", "Smallest k seen"},
	}
	for _, c := range rep.ClassK {
		label := strconv.FormatUint(c.Residue, 10)
		if c.Perfect {
			label += " (perfect)"
		}
		top := make([]string, len(c.Top))
		for i, r := range c.Top {
			top[i] = fmt.Sprintf("%d: %s (%s)", r.K, commas(r.Count), pct(r.Percent))
		}
		classes.Rows = append(classes.Rows, []string{
			strconv.FormatUint(c.Modulus, 10), label, commas(c.Failures), strconv.Itoa(c.Distinct),
			strings.Join(top, "; "), joinUints(c.Smallest),
		})
	}
	return Section{Heading: "Law I failures", Tables: []Table{dist, gaps, classes}}
}

func radiusSection(r *analysis.RadiusSummary, tr *analysis.TransitionTable) Section {
	dist := Table{Title: "Law III fix radius", Headers: []string{"Radius", "Count", "Percentage", "Cumulative"}}
	for _, row := range r.Rows {
		dist.Rows = append(dist.Rows, []string{strconv.FormatUint(row.Radius, 10), commas(row.Count), pct(row.Percent), pct(row.Cumulative)})
	}
	classes := Table{Title: "Law III radius by residue", Headers: []string{"Modulus", "S mod P", "Fixed", "Avg radius"}}
	for _, c := range r.Classes {
		classes.Rows = append(classes.Rows, []string{strconv.FormatUint(c.Modulus, 10), strconv.FormatUint(c.Residue, 10), commas(c.Fixed), num(c.AverageRadius())})
	}
	sec := Section{
		Heading: "Law III correction",
		Paragraphs: []string{fmt.Sprintf("%s of %s failures fixed within radius %d (average %s, max %d); %s unfixed.",
			commas(r.Fixed), commas(r.Failures), r.Limit, num(r.AverageRadius), r.MaxRadius, commas(r.Unfixed))},
		Tables: []Table{dist, classes},
	}
	if tr != nil {
		fix := Table{
			Title:   fmt.Sprintf("S_fix residues mod %d", tr.Modulus),
			Headers: []string{"S mod P", "S_fix mod P", "Count", "Percentage"},
		}
		for _, row := range tr.Rows {
			fix.Rows = append(fix.Rows, []string{
				strconv.FormatUint(row.Residue, 10), strconv.FormatUint(row.FixResidue, 10), commas(row.Count), pct(row.Percent),
			})
		}
		sec.Tables = append(sec.Tables, fix)
	}
	return sec
}

func violationSection(rep *analysis.Report) Section {
	tbl := Table{Title: "Violations", Headers: []string{"Modulus", "n", "S", "q", "k", "Gap", "Shared primes"}}
	for _, v := range rep.Violations {
		tbl.Rows = append(tbl.Rows, []string{
			strconv.FormatUint(v.Modulus, 10), commas(v.Index), commas(v.Sum), commas(v.Q),
			strconv.FormatUint(v.K, 10), strconv.FormatUint(v.Gap, 10), joinUints(v.SharedPrimes),
		})
	}
	return Section{Heading: "Violations", Tables: []Table{tbl}}
}

// BuildCFR lays out a composite failure rate survey.
func BuildCFR(res *cfr.Result) *Document {
	v := analysis.CFRVerdict(res)
	tbl := Table{Title: "Composite failure rate", Headers: []string{"Modulus", "Tested", "Failures", "CFR"}}
	for _, r := range res.Rates {
		tbl.Rows = append(tbl.Rows, []string{strconv.FormatUint(r.Modulus, 10), commas(r.Tested), commas(r.Failures), pct(r.Percent())})
	}
	return &Document{
		Title: "Composite failure rate survey",
		Sections: []Section{{
			Heading: "Survey",
			Paragraphs: []string{
				fmt.Sprintf("Surveyed the first %s primes (%s above %d).", commas(res.Primes), commas(res.Tested), cfr.MinPrime),
				fmt.Sprintf("%s: **%s** (%s).", v.Claim, v.Status, v.Reason),
			},
			Tables: []Table{tbl},
		}},
	}
}

func share(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

func commas(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func pct(f float64) string    { return strconv.FormatFloat(f, 'f', 2, 64) + "%" }
func num(f float64) string    { return strconv.FormatFloat(f, 'f', 4, 64) }
func signed(f float64) string { return fmt.Sprintf("%+.4f", f) }
func sci(f float64) string    { return strconv.FormatFloat(f, 'g', 4, 64) }

func joinUints(xs []uint64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatUint(x, 10)
	}
	return strings.Join(parts, ", ")
}
