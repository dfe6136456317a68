package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/iotgrid/user-service/internal/database/models"
	"gorm.io/gorm"
)

// Store is the narrow persistence component under the orchestrators. The
// user-plus-default-role insert runs in one local transaction; no method
// here ever calls the identity provider, so no transaction is held open
// across a network call.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CountByUsernameOrEmail(ctx context.Context, username, email string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count).Error
	return count, err
}

// CreateWithDefaultRole inserts the user row and its default role row as a
// single transaction: either both exist afterwards or neither does. The
// default role is granted by the user's own id.
func (s *Store) CreateWithDefaultRole(ctx context.Context, user *models.User, roleName string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}

		role := models.UserRole{
			UserID:    user.ID,
			RoleName:  roleName,
			GrantedAt: time.Now(),
			GrantedBy: user.ID,
		}
		return tx.Create(&role).Error
	})
}

func (s *Store) ByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "external_id = ?", externalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ByOrganization(ctx context.Context, orgID uuid.UUID) ([]models.User, error) {
	var list []models.User
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

func (s *Store) Save(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

func (s *Store) Roles(ctx context.Context, userID uuid.UUID) ([]models.UserRole, error) {
	var roles []models.UserRole
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("granted_at ASC").
		Find(&roles).Error
	return roles, err
}

func (s *Store) RoleNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	roles, err := s.Roles(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.RoleName)
	}
	return names, nil
}

// FindRole returns nil without an error when no such grant exists.
func (s *Store) FindRole(ctx context.Context, userID uuid.UUID, roleName string) (*models.UserRole, error) {
	var role models.UserRole
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND role_name = ?", userID, roleName).
		First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// Remove hard-deletes a user and its role rows. Only registration rollback
// uses this; the regular lifecycle deactivates and never hard-deletes.
func (s *Store) Remove(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("user_id = ?", userID).Delete(&models.UserRole{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.User{}, "id = ?", userID).Error
	})
}

func (s *Store) AddRole(ctx context.Context, role *models.UserRole) error {
	return s.db.WithContext(ctx).Create(role).Error
}

func (s *Store) DeleteRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND role_name = ?", userID, roleName).
		Delete(&models.UserRole{}).Error
}
