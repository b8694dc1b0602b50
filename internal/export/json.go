package export

import (
	"bytes"
	"encoding/json"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

// JSONEncoder writes merged records as an indented JSON array.
type JSONEncoder struct{}

// Extension implements Encoder.
func (JSONEncoder) Extension() string { return "json" }

// ContentType implements Encoder.
func (JSONEncoder) ContentType() string { return "application/json" }

// Encode implements Encoder. Non-ASCII text is written unescaped.
func (JSONEncoder) Encode(rows []Row) ([]byte, error) {
	records := make([]crawler.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Record)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
