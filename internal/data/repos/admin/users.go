// Package admin implements the Administration Store (AS): user,
// budget and archive persistence, including the compare-and-swap
// budget debit primitive the admission engine relies on.
package admin

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	pkgerrors "github.com/latticefort/dp-query-service/internal/pkg/errors"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

type UserRepo interface {
	GetByName(dbc dbctx.Context, name string) (*domain.User, error)
	Create(dbc dbctx.Context, u *domain.User) (*domain.User, error)
	SetMayQuery(dbc dbctx.Context, name string, mayQuery bool) error
	SetAPIKey(dbc dbctx.Context, name, plaintext string) error
	VerifyAPIKey(dbc dbctx.Context, name, plaintext string) (bool, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) tx(dbc dbctx.Context) *gorm.DB {
	return dbc.DB(r.db).WithContext(dbc.Ctx)
}

func (r *userRepo) GetByName(dbc dbctx.Context, name string) (*domain.User, error) {
	var u domain.User
	err := r.tx(dbc).Where("name = ?", name).First(&u).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) Create(dbc dbctx.Context, u *domain.User) (*domain.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if err := r.tx(dbc).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

func (r *userRepo) SetMayQuery(dbc dbctx.Context, name string, mayQuery bool) error {
	return r.tx(dbc).Model(&domain.User{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{"may_query": mayQuery, "updated_at": time.Now()}).Error
}

// SetAPIKey hashes plaintext with bcrypt and stores it, letting a
// locally-issued API key authenticate a caller without a JWT secret
// shared out of band.
func (r *userRepo) SetAPIKey(dbc dbctx.Context, name, plaintext string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return r.tx(dbc).Model(&domain.User{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{"api_key_hash": string(hash), "updated_at": time.Now()}).Error
}

// VerifyAPIKey reports whether plaintext matches the stored hash for
// name. A user with no key set never verifies, even against an empty
// plaintext.
func (r *userRepo) VerifyAPIKey(dbc dbctx.Context, name, plaintext string) (bool, error) {
	u, err := r.GetByName(dbc, name)
	if err != nil {
		return false, err
	}
	if u.APIKeyHash == "" {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.APIKeyHash), []byte(plaintext)); err != nil {
		return false, nil
	}
	return true, nil
}
