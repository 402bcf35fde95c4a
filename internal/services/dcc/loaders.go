package dcc

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"cloud.google.com/go/storage"

	"github.com/latticefort/dp-query-service/internal/domain"
)

type tabularConnector struct {
	meta  *domain.Metadata
	view  TabularView
	bytes int64
}

func (c *tabularConnector) Metadata() *domain.Metadata { return c.meta }
func (c *tabularConnector) AsTabular(context.Context) (TabularView, error) { return c.view, nil }
func (c *tabularConnector) ApproxBytes() int64 { return c.bytes }

func newTabularConnector(meta *domain.Metadata, view TabularView) *tabularConnector {
	sz := int64(0)
	for _, row := range view.Rows {
		sz += int64(len(row)) * 16
	}
	return &tabularConnector{meta: meta, view: view, bytes: sz}
}

// pathAccessParams is the AccessParams shape for AccessPath datasets:
// a local filesystem CSV byte stream.
type pathAccessParams struct {
	Path string `json:"path"`
}

// PathLoader treats local disk as an opaque byte-stream fetcher, same
// as GCSLoader.
type PathLoader struct{}

func (PathLoader) Load(ctx context.Context, ds *domain.Dataset, meta *domain.Metadata) (Connector, error) {
	var params pathAccessParams
	if len(ds.AccessParams) > 0 {
		if err := json.Unmarshal(ds.AccessParams, &params); err != nil {
			return nil, fmt.Errorf("dcc: invalid PATH access params for %q: %w", ds.Name, err)
		}
	}
	f, err := os.Open(params.Path)
	if err != nil {
		return nil, fmt.Errorf("dcc: open dataset file: %w", err)
	}
	defer f.Close()
	view, err := parseCSV(f, meta)
	if err != nil {
		return nil, err
	}
	return newTabularConnector(meta, view), nil
}

// s3AccessParams intentionally reuses the S3 access kind's bucket/key
// fields to describe a GCS object, since both are treated as opaque
// object-store fetchers by the core.
type s3AccessParams struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// GCSLoader fetches dataset bytes from Google Cloud Storage for
// AccessS3-tagged datasets, a concrete stand-in for the generic
// object-store fetcher the S3 access kind is really describing.
type GCSLoader struct {
	Client *storage.Client
}

func (l GCSLoader) Load(ctx context.Context, ds *domain.Dataset, meta *domain.Metadata) (Connector, error) {
	if l.Client == nil {
		return nil, fmt.Errorf("dcc: gcs loader not configured")
	}
	var params s3AccessParams
	if err := json.Unmarshal(ds.AccessParams, &params); err != nil {
		return nil, fmt.Errorf("dcc: invalid S3 access params for %q: %w", ds.Name, err)
	}
	rc, err := l.Client.Bucket(params.Bucket).Object(params.Key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("dcc: open gcs object: %w", err)
	}
	defer rc.Close()
	view, err := parseCSV(rc, meta)
	if err != nil {
		return nil, err
	}
	return newTabularConnector(meta, view), nil
}

// InMemoryLoader materializes a connector directly from metadata
// without touching any byte-stream fetcher, used for demo/develop_mode
// datasets seeded at startup.
type InMemoryLoader struct{}

func (InMemoryLoader) Load(_ context.Context, _ *domain.Dataset, meta *domain.Metadata) (Connector, error) {
	return newTabularConnector(meta, TabularView{Columns: meta.ColumnOrder}), nil
}

func parseCSV(r io.Reader, meta *domain.Metadata) (TabularView, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err == io.EOF {
		return TabularView{Columns: meta.ColumnOrder}, nil
	}
	if err != nil {
		return TabularView{}, fmt.Errorf("dcc: read csv header: %w", err)
	}
	view := TabularView{Columns: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return TabularView{}, fmt.Errorf("dcc: read csv row: %w", err)
		}
		row := make([]any, len(record))
		for i, cell := range record {
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				row[i] = f
			} else {
				row[i] = cell
			}
		}
		view.Rows = append(view.Rows, row)
	}
	return view, nil
}
