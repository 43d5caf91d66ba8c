package accounts

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the document-store view of account records used by billing.
type Repository interface {
	Get(ctx context.Context, ref Ref) (*Account, error)
	Resolve(ctx context.Context, identity string) (Ref, *Account, error)
	FindByCustomerID(ctx context.Context, customerID string) (*Account, error)
	Update(ctx context.Context, ref Ref, fields map[string]interface{}) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an account repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Migrate creates the accounts table and its lookup index.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Account{}); err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_accounts_provider_customer_id ON accounts (provider_customer_id)`).Error
}

// Get returns the account at ref, or nil when it does not exist yet.
func (r *gormRepository) Get(ctx context.Context, ref Ref) (*Account, error) {
	var a Account
	err := r.db.WithContext(ctx).
		Where("kind = ? AND id = ?", ref.Kind, ref.ID).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", ref, err)
	}
	return &a, nil
}

// Resolve maps an authenticated identity to its account. Organizations take
// precedence; with no record in either partition the individual ref is
// returned together with a nil account so the caller can create it.
func (r *gormRepository) Resolve(ctx context.Context, identity string) (Ref, *Account, error) {
	if identity == "" {
		return Ref{}, nil, errors.New("empty identity")
	}

	orgRef := Ref{Kind: KindOrganization, ID: identity}
	org, err := r.Get(ctx, orgRef)
	if err != nil {
		return Ref{}, nil, err
	}
	if org != nil {
		return orgRef, org, nil
	}

	userRef := Ref{Kind: KindIndividual, ID: identity}
	user, err := r.Get(ctx, userRef)
	if err != nil {
		return Ref{}, nil, err
	}
	return userRef, user, nil
}

// FindByCustomerID scans both partitions for the Stripe customer id.
// Organizations sort first, so they win when both match.
func (r *gormRepository) FindByCustomerID(ctx context.Context, customerID string) (*Account, error) {
	if customerID == "" {
		return nil, nil
	}
	var found []Account
	err := r.db.WithContext(ctx).
		Where("provider_customer_id = ?", customerID).
		Order("kind DESC").
		Limit(1).
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("lookup account by customer %s: %w", customerID, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// Update merges fields into the account, creating the record on first write.
func (r *gormRepository) Update(ctx context.Context, ref Ref, fields map[string]interface{}) error {
	db := r.db.WithContext(ctx)

	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Account{Kind: ref.Kind, ID: ref.ID}).Error; err != nil {
		return fmt.Errorf("create account %s: %w", ref, err)
	}
	if len(fields) == 0 {
		return nil
	}

	if err := db.Model(&Account{}).
		Where("kind = ? AND id = ?", ref.Kind, ref.ID).
		Updates(fields).Error; err != nil {
		return fmt.Errorf("update account %s: %w", ref, err)
	}
	return nil
}
