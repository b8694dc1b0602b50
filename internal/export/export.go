// Package export merges crawl results and writes them as JSON and XLSX
// files to a blob store.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/logging"
	"github.com/JakeFAU/placecrawler/internal/storage"
)

// Row is one business in the merged output.
type Row struct {
	Query  string
	Record crawler.Record
}

// NameIndex remembers which business names have been emitted.
type NameIndex struct {
	seen map[string]struct{}
}

// NewNameIndex returns an empty index.
func NewNameIndex() *NameIndex {
	return &NameIndex{seen: make(map[string]struct{})}
}

// Add records name and reports whether it was new.
func (n *NameIndex) Add(name string) bool {
	if _, ok := n.seen[name]; ok {
		return false
	}
	n.seen[name] = struct{}{}
	return true
}

// Len returns the number of distinct names seen.
func (n *NameIndex) Len() int { return len(n.seen) }

// Merge flattens batches in order, keeping the first record for each name.
// Records without a name are dropped.
func Merge(batches []crawler.ExportBatch) []Row {
	index := NewNameIndex()
	var rows []Row
	for _, batch := range batches {
		for _, rec := range batch.Records {
			if !rec.Valid() || !index.Add(rec.Name()) {
				continue
			}
			rows = append(rows, Row{Query: batch.Query, Record: rec})
		}
	}
	return rows
}

// Encoder renders merged rows in one file format.
type Encoder interface {
	Extension() string
	ContentType() string
	Encode(rows []Row) ([]byte, error)
}

// Encoders resolves format names (json, xlsx) to encoders.
func Encoders(formats []string) ([]Encoder, error) {
	if len(formats) == 0 {
		return nil, fmt.Errorf("at least one export format is required")
	}
	encoders := make([]Encoder, 0, len(formats))
	seen := map[string]bool{}
	for _, format := range formats {
		format = strings.ToLower(strings.TrimSpace(format))
		if seen[format] {
			continue
		}
		seen[format] = true
		switch format {
		case "json":
			encoders = append(encoders, JSONEncoder{})
		case "xlsx":
			encoders = append(encoders, XLSXEncoder{})
		default:
			return nil, fmt.Errorf("unknown export format %q", format)
		}
	}
	return encoders, nil
}

// Exporter writes merged results through every encoder into a blob store.
type Exporter struct {
	store    storage.BlobStore
	encoders []Encoder
	logger   *zap.Logger
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithLogger sets the exporter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) {
		e.logger = logging.OrNop(logger).Named("export")
	}
}

// New builds an Exporter.
func New(store storage.BlobStore, encoders []Encoder, opts ...Option) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if len(encoders) == 0 {
		return nil, fmt.Errorf("at least one encoder is required")
	}
	e := &Exporter{store: store, encoders: encoders, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Export merges batches and writes <stem>.<ext> for each encoder. Every
// format is attempted even if an earlier one fails.
func (e *Exporter) Export(ctx context.Context, stem string, batches []crawler.ExportBatch) ([]string, error) {
	if strings.TrimSpace(stem) == "" {
		return nil, fmt.Errorf("export stem is required")
	}
	rows := Merge(batches)
	var (
		written []string
		errs    []error
	)
	for _, enc := range e.encoders {
		name := stem + "." + enc.Extension()
		data, err := enc.Encode(rows)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", name, err))
			continue
		}
		uri, err := e.store.PutObject(ctx, name, enc.ContentType(), bytes.NewReader(data))
		if err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", name, err))
			continue
		}
		e.logger.Info("export written",
			zap.String("uri", uri),
			zap.Int("rows", len(rows)),
			zap.Int("queries", len(batches)),
		)
		written = append(written, uri)
	}
	return written, errors.Join(errs...)
}

// Multi fans one export out to several exporters.
type Multi []crawler.Exporter

// Export runs every exporter and joins their errors.
func (m Multi) Export(ctx context.Context, stem string, batches []crawler.ExportBatch) ([]string, error) {
	var (
		written []string
		errs    []error
	)
	for _, exp := range m {
		paths, err := exp.Export(ctx, stem, batches)
		written = append(written, paths...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return written, errors.Join(errs...)
}
