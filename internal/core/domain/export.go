package domain

import "time"

// ExportRecord is a flat, already-stringified table produced by an export.
type ExportRecord struct {
	ID        string     `json:"id"`
	View      string     `json:"view"`
	CreatedAt time.Time  `json:"created_at"`
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
}

// ExportHeader is an archived export without its rows.
type ExportHeader struct {
	ID        string    `json:"id"`
	View      string    `json:"view"`
	Columns   []string  `json:"columns"`
	RowCount  int       `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
}
