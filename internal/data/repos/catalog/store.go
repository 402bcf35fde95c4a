package catalog

import (
	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
)

// Store is the MCS-facing interface DCC and ABE depend on.
type Store interface {
	GetDataset(dbc dbctx.Context, name string) (*domain.Dataset, error)
	GetMetadata(dbc dbctx.Context, datasetName string) (*domain.Metadata, error)
	ListDatasets(dbc dbctx.Context) ([]*domain.Dataset, error)
}

type GormStore struct {
	Datasets DatasetRepo
	Metadata MetadataRepo
}

func NewGormStore(datasets DatasetRepo, metadata MetadataRepo) *GormStore {
	return &GormStore{Datasets: datasets, Metadata: metadata}
}

func (s *GormStore) GetDataset(dbc dbctx.Context, name string) (*domain.Dataset, error) {
	return s.Datasets.GetByName(dbc, name)
}

func (s *GormStore) GetMetadata(dbc dbctx.Context, datasetName string) (*domain.Metadata, error) {
	return s.Metadata.GetByDataset(dbc, datasetName)
}

func (s *GormStore) ListDatasets(dbc dbctx.Context) ([]*domain.Dataset, error) {
	return s.Datasets.List(dbc)
}
