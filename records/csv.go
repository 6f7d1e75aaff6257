package records

import (
	"bufio"
	"io"
	"strings"
	"time"
)

// CSVColumns is the header row of the export
var CSVColumns = []string{
	FieldID,
	FieldTs,
	FieldTechnician,
	FieldMaterial,
	FieldQuantity,
	FieldPO,
	FieldComments,
}

// CSVContentType is the Content-Type of the export
const CSVContentType = "text/csv; charset=utf-8"

var quoteReplacer = strings.NewReplacer(`"`, `""`)

// WriteCSV writes the header and one row per record. The header is bare,
// every data field is quoted. Lines are separated by "\n" and there's no
// newline after the last one.
func WriteCSV(w io.Writer, recs []*Record) error {
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(strings.Join(CSVColumns, ","))
	for _, rec := range recs {
		_ = bw.WriteByte('\n')
		for i, col := range CSVColumns {
			if i > 0 {
				_ = bw.WriteByte(',')
			}
			_ = bw.WriteByte('"')
			_, _ = quoteReplacer.WriteString(bw, rec.Value(col))
			_ = bw.WriteByte('"')
		}
	}
	return bw.Flush()
}

// CSVFileName returns e.g. "despachos_2025-03-14.csv" (UTC date)
func CSVFileName(t time.Time) string {
	return "despachos_" + t.UTC().Format("2006-01-02") + ".csv"
}
