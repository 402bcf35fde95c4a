// Package catalog implements the Metadata & Credentials Store (MCS):
// the read-mostly Dataset and Metadata tables.
package catalog

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	pkgerrors "github.com/latticefort/dp-query-service/internal/pkg/errors"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

type DatasetRepo interface {
	GetByName(dbc dbctx.Context, name string) (*domain.Dataset, error)
	Create(dbc dbctx.Context, d *domain.Dataset) (*domain.Dataset, error)
	List(dbc dbctx.Context) ([]*domain.Dataset, error)
}

type MetadataRepo interface {
	GetByDataset(dbc dbctx.Context, datasetName string) (*domain.Metadata, error)
	Upsert(dbc dbctx.Context, m *domain.Metadata) (*domain.Metadata, error)
}

type datasetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDatasetRepo(db *gorm.DB, baseLog *logger.Logger) DatasetRepo {
	return &datasetRepo{db: db, log: baseLog.With("repo", "DatasetRepo")}
}

func (r *datasetRepo) tx(dbc dbctx.Context) *gorm.DB { return dbc.DB(r.db).WithContext(dbc.Ctx) }

func (r *datasetRepo) GetByName(dbc dbctx.Context, name string) (*domain.Dataset, error) {
	var d domain.Dataset
	err := r.tx(dbc).Where("name = ?", name).First(&d).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *datasetRepo) Create(dbc dbctx.Context, d *domain.Dataset) (*domain.Dataset, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if err := r.tx(dbc).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

func (r *datasetRepo) List(dbc dbctx.Context) ([]*domain.Dataset, error) {
	var out []*domain.Dataset
	if err := r.tx(dbc).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type metadataRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMetadataRepo(db *gorm.DB, baseLog *logger.Logger) MetadataRepo {
	return &metadataRepo{db: db, log: baseLog.With("repo", "MetadataRepo")}
}

func (r *metadataRepo) tx(dbc dbctx.Context) *gorm.DB { return dbc.DB(r.db).WithContext(dbc.Ctx) }

func (r *metadataRepo) GetByDataset(dbc dbctx.Context, datasetName string) (*domain.Metadata, error) {
	var m domain.Metadata
	err := r.tx(dbc).Where("dataset_name = ?", datasetName).First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	if err := decodeColumns(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *metadataRepo) Upsert(dbc dbctx.Context, m *domain.Metadata) (*domain.Metadata, error) {
	newID := m.ID
	if newID == uuid.Nil {
		newID = uuid.New()
	}
	// The lookup is by dataset_name alone: a non-zero ID on m would be
	// added to the FirstOrCreate condition and miss the existing row.
	m.ID = uuid.Nil
	if err := encodeColumns(m); err != nil {
		return nil, err
	}
	err := r.tx(dbc).Where("dataset_name = ?", m.DatasetName).
		Attrs(map[string]interface{}{"id": newID}).
		Assign(map[string]interface{}{
			"max_ids": m.MaxIDs,
			"rows":    m.Rows,
			"columns": m.ColumnsJSON,
		}).
		FirstOrCreate(m).Error
	if err != nil {
		return nil, err
	}
	return m, nil
}

type columnsWire struct {
	Order   []string                     `json:"order"`
	Columns map[string]domain.ColumnSpec `json:"columns"`
}

func encodeColumns(m *domain.Metadata) error {
	wire := columnsWire{Order: m.ColumnOrder, Columns: m.Columns}
	raw, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	m.ColumnsJSON = datatypes.JSON(raw)
	return nil
}

func decodeColumns(m *domain.Metadata) error {
	if len(m.ColumnsJSON) == 0 {
		m.Columns = map[string]domain.ColumnSpec{}
		return nil
	}
	var wire columnsWire
	if err := json.Unmarshal(m.ColumnsJSON, &wire); err != nil {
		return err
	}
	m.ColumnOrder = wire.Order
	m.Columns = wire.Columns
	return nil
}
