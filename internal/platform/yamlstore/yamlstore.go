// Package yamlstore is a flat-file AS+MCS implementation for local
// development and tests, selected by ADMIN_DATABASE_DB_TYPE=yaml. The
// whole state lives in one YAML document, loaded once and mutated
// under a single process-wide mutex (no concurrent-writer story is
// needed for a single-node dev database).
package yamlstore

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	pkgerrors "github.com/latticefort/dp-query-service/internal/pkg/errors"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

type yamlUser struct {
	Name     string          `yaml:"user_name"`
	MayQuery bool            `yaml:"may_query"`
	Budgets  []yamlBudget    `yaml:"datasets"`
}

type yamlBudget struct {
	DatasetName    string  `yaml:"dataset_name"`
	InitialEpsilon float64 `yaml:"initial_epsilon"`
	InitialDelta   float64 `yaml:"initial_delta"`
	SpentEpsilon   float64 `yaml:"spent_epsilon"`
	SpentDelta     float64 `yaml:"spent_delta"`
}

type yamlDataset struct {
	Name            string              `yaml:"dataset_name"`
	AccessKind      domain.AccessKind   `yaml:"access_kind"`
	MetadataRef     string              `yaml:"metadata_ref"`
	CredentialsName string              `yaml:"credentials_name,omitempty"`
	MaxIDs          int                 `yaml:"max_ids"`
	Rows            int                 `yaml:"rows"`
	Columns         map[string]domain.ColumnSpec `yaml:"columns"`
	ColumnOrder     []string            `yaml:"column_order"`
}

type yamlArchive struct {
	ID              string              `yaml:"id"`
	JobID           string              `yaml:"job_id"`
	UserName        string              `yaml:"user_name"`
	DatasetName     string              `yaml:"dataset_name"`
	LibraryTag      domain.LibraryTag   `yaml:"library_tag"`
	PayloadHash     string              `yaml:"payload_hash"`
	MeasuredEpsilon float64             `yaml:"measured_epsilon"`
	MeasuredDelta   float64             `yaml:"measured_delta"`
	Status          domain.ArchiveStatus `yaml:"status"`
	CreatedAt       time.Time           `yaml:"created_at"`
}

type document struct {
	Users    []yamlUser    `yaml:"users"`
	Datasets []yamlDataset `yaml:"datasets"`
	Archives []yamlArchive `yaml:"queries_archives"`
}

// Store is a mutex-guarded, file-backed AS+MCS. It satisfies both
// admin.Store and catalog.Store.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
	log  *logger.Logger
}

func Load(path string, log *logger.Logger) (*Store, error) {
	s := &Store{path: path, log: log.With("service", "YamlStore")}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.doc = document{}
			return s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &s.doc); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) persist() error {
	raw, err := yaml.Marshal(s.doc)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}

// --- admin.Store ---

func (s *Store) GetUser(_ dbctx.Context, name string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.doc.Users {
		if u.Name == name {
			return &domain.User{ID: deriveID("user", name), Name: u.Name, MayQuery: u.MayQuery}, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (s *Store) GetBudget(_ dbctx.Context, userID uuid.UUID, datasetName string) (*domain.BudgetEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.doc.Users {
		if deriveID("user", u.Name) != userID {
			continue
		}
		for _, b := range u.Budgets {
			if b.DatasetName == datasetName {
				return &domain.BudgetEntry{
					ID:             deriveID("budget", u.Name+"/"+datasetName),
					UserID:         userID,
					DatasetName:    datasetName,
					InitialEpsilon: b.InitialEpsilon,
					InitialDelta:   b.InitialDelta,
					SpentEpsilon:   b.SpentEpsilon,
					SpentDelta:     b.SpentDelta,
				}, nil
			}
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (s *Store) CASDebit(_ dbctx.Context, budgetID uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error {
	return s.mutateBudget(budgetID, expectSpent, delta.Epsilon, delta.Delta)
}

func (s *Store) CASCredit(_ dbctx.Context, budgetID uuid.UUID, expectSpent domain.Cost, delta domain.Cost) error {
	return s.mutateBudget(budgetID, expectSpent, -delta.Epsilon, -delta.Delta)
}

func (s *Store) mutateBudget(budgetID uuid.UUID, expectSpent domain.Cost, dEps, dDelta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ui := range s.doc.Users {
		u := &s.doc.Users[ui]
		for bi := range u.Budgets {
			b := &u.Budgets[bi]
			if deriveID("budget", u.Name+"/"+b.DatasetName) != budgetID {
				continue
			}
			if b.SpentEpsilon != expectSpent.Epsilon || b.SpentDelta != expectSpent.Delta {
				return pkgerrors.ErrCASConflict
			}
			b.SpentEpsilon += dEps
			b.SpentDelta += dDelta
			return s.persist()
		}
	}
	return pkgerrors.ErrNotFound
}

func (s *Store) AppendArchive(_ dbctx.Context, a *domain.Archive) (*domain.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.doc.Archives = append(s.doc.Archives, yamlArchive{
		ID: a.ID.String(), JobID: a.JobID.String(), UserName: a.UserName, DatasetName: a.DatasetName,
		LibraryTag: a.LibraryTag, PayloadHash: a.PayloadHash, MeasuredEpsilon: a.MeasuredEpsilon,
		MeasuredDelta: a.MeasuredDelta, Status: a.Status, CreatedAt: a.CreatedAt,
	})
	if err := s.persist(); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListArchives(_ dbctx.Context, userName, datasetName string) ([]*domain.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Archive
	for _, a := range s.doc.Archives {
		if a.UserName != userName {
			continue
		}
		if datasetName != "" && a.DatasetName != datasetName {
			continue
		}
		id, _ := uuid.Parse(a.ID)
		jobID, _ := uuid.Parse(a.JobID)
		out = append(out, &domain.Archive{
			ID: id, JobID: jobID, UserName: a.UserName, DatasetName: a.DatasetName,
			LibraryTag: a.LibraryTag, PayloadHash: a.PayloadHash, MeasuredEpsilon: a.MeasuredEpsilon,
			MeasuredDelta: a.MeasuredDelta, Status: a.Status, CreatedAt: a.CreatedAt,
		})
	}
	return out, nil
}

// --- catalog.Store ---

func (s *Store) GetDataset(_ dbctx.Context, name string) (*domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.doc.Datasets {
		if d.Name == name {
			return &domain.Dataset{
				ID: deriveID("dataset", name), Name: d.Name, AccessKind: d.AccessKind,
				MetadataRef: d.MetadataRef, CredentialsName: d.CredentialsName,
			}, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (s *Store) GetMetadata(_ dbctx.Context, datasetName string) (*domain.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.doc.Datasets {
		if d.Name == datasetName {
			return &domain.Metadata{
				ID: deriveID("metadata", datasetName), DatasetName: datasetName,
				MaxIDs: d.MaxIDs, Rows: d.Rows, Columns: d.Columns, ColumnOrder: d.ColumnOrder,
			}, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (s *Store) ListDatasets(_ dbctx.Context) ([]*domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Dataset, 0, len(s.doc.Datasets))
	for _, d := range s.doc.Datasets {
		out = append(out, &domain.Dataset{ID: deriveID("dataset", d.Name), Name: d.Name, AccessKind: d.AccessKind, MetadataRef: d.MetadataRef})
	}
	return out, nil
}

// SeedDemoDataset installs a small demo dataset+user when
// develop_mode is enabled, for quick local startup without a manual
// admin bootstrap step.
func (s *Store) SeedDemoDataset(userName, datasetName string, initial domain.Cost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.doc.Users {
		if u.Name == userName {
			return
		}
	}
	s.doc.Users = append(s.doc.Users, yamlUser{
		Name: userName, MayQuery: true,
		Budgets: []yamlBudget{{DatasetName: datasetName, InitialEpsilon: initial.Epsilon, InitialDelta: initial.Delta}},
	})
	s.doc.Datasets = append(s.doc.Datasets, yamlDataset{
		Name: datasetName, AccessKind: domain.AccessInMemory, MetadataRef: datasetName,
		MaxIDs: 1, Rows: 100,
		Columns: map[string]domain.ColumnSpec{
			"value": {Type: "float", Lower: 0, Upper: 100},
		},
		ColumnOrder: []string{"value"},
	})
	_ = s.persist()
}

// deriveID produces a stable UUID from a namespace+key pair so the
// YAML store's string identities behave like the Postgres store's
// generated UUIDs across process restarts.
func deriveID(namespace, key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+":"+key))
}
