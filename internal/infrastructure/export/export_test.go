package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

func record() domain.ExportRecord {
	return domain.ExportRecord{
		ID:        "exp-1",
		View:      "keydata",
		CreatedAt: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC),
		Columns:   []string{"file_name", "rfcs", "amounts"},
		Rows: [][]string{
			{"factura, enero.xml", "ABC010101AB1", "1500.50; 16.00"},
			{"ticket.png", "", ""},
		},
	}
}

func TestWriteCSVQuotesAndOrders(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, record()); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	want := "file_name,rfcs,amounts\n\"factura, enero.xml\",ABC010101AB1,1500.50; 16.00\nticket.png,,\n"
	if buf.String() != want {
		t.Fatalf("unexpected csv:\n%s", buf.String())
	}
}

func TestWriteCSVEmptyTableHasHeader(t *testing.T) {
	rec := record()
	rec.Rows = nil
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rec); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if buf.String() != "file_name,rfcs,amounts\n" {
		t.Fatalf("unexpected csv %q", buf.String())
	}
}

func TestWriteXLSXRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, record()); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != "keydata" {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	rows, err := f.GetRows("keydata")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 || rows[0][1] != "rfcs" || rows[1][0] != "factura, enero.xml" || rows[1][2] != "1500.50; 16.00" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, record()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	var got domain.ExportRecord
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if got.ID != "exp-1" || len(got.Rows) != 2 {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatCSV {
		t.Fatalf("expected csv default, got %q %v", f, err)
	}
	if f, err := ParseFormat("XLSX"); err != nil || f != FormatXLSX {
		t.Fatalf("expected xlsx, got %q %v", f, err)
	}
	if _, err := ParseFormat("pdf"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if name := FormatXLSX.FileName(record()); name != "summary-keydata.xlsx" {
		t.Fatalf("unexpected file name %q", name)
	}
}
