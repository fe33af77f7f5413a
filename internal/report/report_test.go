package report

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"

	"gopac/domain/anchor"
	"gopac/domain/run"
	"gopac/internal/aggregate"
	"gopac/internal/analysis"
	"gopac/internal/cfr"
	"gopac/internal/correction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDocument(t *testing.T) *Document {
	t.Helper()
	snap := &aggregate.Snapshot{
		Moduli:    []uint64{6, 30},
		NextIndex: 2010,
		Totals: aggregate.Totals{
			Anchors:       2000,
			GapSum:        16000,
			Unit:          900,
			PrimeK:        1000,
			Failures:      100,
			FailureGapSum: 1000,
			MaxK:          35,
			MaxKIndex:     1234,
			MaxGap:        34,
			MaxGapIndex:   1500,
		},
		Classes: []aggregate.ResidueClass{
			{Modulus: 6, Residue: 0, Perfect: true, Anchors: 1000, GapSum: 9000, Failures: 40, FailureGapSum: 480},
			{Modulus: 6, Residue: 2, Anchors: 500, GapSum: 3500, Failures: 30, FailureGapSum: 260},
			{Modulus: 6, Residue: 4, Anchors: 500, GapSum: 3500, Failures: 30, FailureGapSum: 260},
			{Modulus: 30, Residue: 0, Perfect: true, Anchors: 2000, GapSum: 16000, Failures: 100, FailureGapSum: 1000},
		},
		KStats: []aggregate.KStat{{K: 9, Count: 70, GapSum: 700}, {K: 15, Count: 20, GapSum: 200}, {K: 25, Count: 10, GapSum: 100}},
		Histogram: []aggregate.KEntry{
			{Modulus: 6, Residue: 0, K: 9, Count: 10},
			{Modulus: 6, Residue: 0, K: 15, Count: 20},
			{Modulus: 6, Residue: 0, K: 25, Count: 10},
			{Modulus: 6, Residue: 2, K: 9, Count: 30},
			{Modulus: 6, Residue: 4, K: 9, Count: 30},
			{Modulus: 30, Residue: 0, K: 9, Count: 70},
			{Modulus: 30, Residue: 0, K: 15, Count: 20},
			{Modulus: 30, Residue: 0, K: 25, Count: 10},
		},
		Violations: []aggregate.Violation{
			{Modulus: 30, Index: 321, Sum: 4620, Q: 4611, K: 9, Gap: 2, SharedPrimes: []uint64{3}},
		},
		Correction: &correction.Summary{
			Radius:    30,
			Failures:  100,
			Fixed:     100,
			MaxRadius: 2,
			Histogram: []correction.RadiusCount{{Radius: 1, Count: 90}, {Radius: 2, Count: 10}},
			Classes:   []correction.ClassRadius{{Modulus: 6, Residue: 0, Fixed: 40, RadiusSum: 44}},
			Transitions: []correction.Transition{
				{Modulus: 6, Residue: 0, FixResidue: 2, Count: 40},
				{Modulus: 30, Residue: 0, FixResidue: 4, Count: 60},
				{Modulus: 30, Residue: 0, FixResidue: 10, Count: 40},
			},
			Unfixed: []correction.Unfixed{},
		},
	}
	rep, err := analysis.Analyze(snap, analysis.Options{TopK: 2})
	require.NoError(t, err)
	params := run.Parameters{Pairs: 2000, Offset: 10, Moduli: snap.Moduli, SearchBound: 3000, FixRadius: 30}
	return Build(run.NewManifest(params, 4), rep)
}

func TestBuild(t *testing.T) {
	doc := sampleDocument(t)

	var headings []string
	for _, s := range doc.Sections {
		headings = append(headings, s.Heading)
	}
	assert.Equal(t, []string{"Run", "Verdict", "Residue analysis", "Law I failures", "Law III correction", "Violations"}, headings)

	suite := doc.Sections[0].Tables[0]
	assert.Equal(t, []string{"k composite (Law I failure)", "100", "5.00%"}, suite.Rows[2])
	assert.Equal(t, []string{"Total", "2,000", "100.00%"}, suite.Rows[3])
	assert.Equal(t, "Overall: **falsified**.", doc.Sections[1].Paragraphs[0])

	mod6 := doc.Sections[2].Tables[0]
	assert.Equal(t, "Residues mod 6", mod6.Title)
	assert.Equal(t, []string{"0 (perfect)", "1,000", "50.00%", "40", "4.00%", "9.0000", "+1.0000", "12.0000", "+2.0000"}, mod6.Rows[0])

	dist := doc.Sections[3].Tables[0]
	assert.Equal(t, [][]string{
		{"9", "70", "70.00%"},
		{"15", "20", "20.00%"},
		{"Other k values", "10", "10.00%"},
		{"Total", "100", "100.00%"},
	}, dist.Rows)

	byClass := doc.Sections[3].Tables[2]
	assert.Equal(t, "Composite k by residue mod 30", byClass.Title)
	assert.Equal(t, [][]string{
		{"6", "0 (perfect)", "40", "3", "15: 20 (50.00%); 9: 10 (25.00%); 25: 10 (25.00%)", "9, 15, 25"},
		{"30", "0 (perfect)", "100", "3", "9: 70 (70.00%); 15: 20 (20.00%); 25: 10 (10.00%)", "9, 15, 25"},
	}, byClass.Rows)

	radius := doc.Sections[4].Tables[0]
	assert.Equal(t, []string{"2", "10", "10.00%", "100.00%"}, radius.Rows[1])

	fix := doc.Sections[4].Tables[2]
	assert.Equal(t, "S_fix residues mod 30", fix.Title)
	assert.Equal(t, [][]string{
		{"0", "4", "60", "60.00%"},
		{"0", "10", "40", "40.00%"},
	}, fix.Rows)
	assert.Len(t, doc.Tables(), 12)
}

func TestMarkdownAndHTML(t *testing.T) {
	doc := sampleDocument(t)
	md := string(Markdown(doc))
	assert.True(t, strings.HasPrefix(md, "# Primorial Anchor Conjecture report\n"))
	assert.Contains(t, md, "\n## Residue analysis\n")
	assert.Contains(t, md, "| S mod P | Anchors |")
	assert.Contains(t, md, "| --- | ---: |")
	assert.Contains(t, md, "| Other k values | 10 | 10.00% |")

	page := string(HTML(doc))
	assert.Contains(t, page, "<title>Primorial Anchor Conjecture report</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<strong>falsified</strong>")
}

func TestWriteRowEscapesPipes(t *testing.T) {
	var b bytes.Buffer
	writeRow(&b, []string{"a|b", "c"})
	assert.Equal(t, "| a\\|b | c |\n", b.String())
}

func TestWorkbook(t *testing.T) {
	doc := sampleDocument(t)
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteXLSX(path, doc))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	require.Len(t, sheets, len(doc.Tables()))
	assert.Equal(t, "Classifier suite", sheets[0])
	assert.Contains(t, sheets, "Residues mod 30")

	v, err := f.GetCellValue("Classifier suite", "B5")
	require.NoError(t, err)
	assert.Equal(t, "2000", v)
	v, err = f.GetCellValue("Classifier suite", "A4")
	require.NoError(t, err)
	assert.Equal(t, "k composite (Law I failure)", v)
}

func TestCellValue(t *testing.T) {
	assert.Equal(t, uint64(1234567), cellValue("1,234,567"))
	assert.Equal(t, 0.5, cellValue("50.00%"))
	assert.Equal(t, 1.25, cellValue("+1.2500"))
	assert.Equal(t, "0 (perfect)", cellValue("0 (perfect)"))
	assert.Equal(t, "3, 5", cellValue("3, 5"))
}

func TestSheetName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "Residues mod 6", sheetName("Residues mod 6", used))
	assert.Equal(t, "Residues mod 6 2", sheetName("Residues mod 6", used))
	long := sheetName("A very long table title that exceeds the limit", used)
	assert.Len(t, long, maxSheetName)
	again := sheetName("A very long table title that exceeds the limit", used)
	assert.Len(t, again, maxSheetName)
	assert.True(t, strings.HasSuffix(again, " 2"))
	assert.Equal(t, "a-b-c", sheetName("a/b?c", used))
}

func TestCommas(t *testing.T) {
	for in, want := range map[uint64]string{0: "0", 999: "999", 1000: "1,000", 123456: "123,456", 50000000: "50,000,000"} {
		assert.Equal(t, want, commas(in))
	}
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewCSVSink(&buf)
	require.NoError(t, sink.WriteFailure(anchor.FailureRecord{
		Anchor:         anchor.Point{Index: 56, Lower: 263, Upper: 269, Sum: 532, Gap: 6},
		Nearest:        anchor.NearestPrime{Prime: 523, Distance: 9, Symmetric: true},
		Factors:        []anchor.Factor{{Prime: 3, Exponent: 2}},
		SmallestFactor: 3,
		Signatures:     []anchor.Signature{{Modulus: 6, Residue: 4}, {Modulus: 30, Residue: 22}},
		Fix:            &anchor.Fix{Radius: 1, Sum: 520, Index: 55},
	}))
	require.NoError(t, sink.WriteFailure(anchor.FailureRecord{
		Anchor:         anchor.Point{Index: 99, Lower: 523, Upper: 541, Sum: 1064, Gap: 18},
		Nearest:        anchor.NearestPrime{Prime: 1049, Distance: 15},
		Factors:        []anchor.Factor{{Prime: 3, Exponent: 1}, {Prime: 5, Exponent: 1}},
		SmallestFactor: 3,
	}))
	require.NoError(t, sink.Flush())
	assert.Equal(t, uint64(2), sink.Rows())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, failureHeader, rows[0])
	assert.Equal(t, []string{"56", "263", "269", "532", "6", "523", "9", "true", "3^2", "3", "6:4 30:22", "1", "55", "520"}, rows[1])
	assert.Equal(t, []string{"99", "523", "541", "1064", "18", "1049", "15", "false", "3*5", "3", "", "", "", ""}, rows[2])
}

func TestCSVSink_EmptyRunWritesHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewCSVSink(&buf).Flush())
	assert.Equal(t, strings.Join(failureHeader, ",")+"\n", buf.String())
}

func TestBuildCFR(t *testing.T) {
	doc := BuildCFR(&cfr.Result{
		Primes:         1000,
		Tested:         996,
		DecayConfirmed: true,
		Rates:          []cfr.Rate{{Modulus: 30, Failures: 100, Tested: 996}, {Modulus: 210, Failures: 50, Tested: 996}},
	})
	require.Len(t, doc.Sections, 1)
	assert.Contains(t, doc.Sections[0].Paragraphs[1], "**verified**")
	assert.Equal(t, []string{"210", "996", "50", "5.02%"}, doc.Sections[0].Tables[0].Rows[1])
}
