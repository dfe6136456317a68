package orgs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/iotgrid/user-service/internal/database/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("organization not found")

type CreateInput struct {
	Name         string
	Description  string
	ContactEmail string
}

type UpdateInput struct {
	Name         *string
	Description  *string
	ContactEmail *string
	Status       *models.OrganizationStatus
}

type Service struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Organization, error) {
	org := &models.Organization{
		Name:         input.Name,
		Description:  input.Description,
		ContactEmail: input.ContactEmail,
		Status:       models.OrganizationStatusActive,
	}

	if err := s.db.WithContext(ctx).Create(org).Error; err != nil {
		return nil, err
	}

	s.logger.Info("created organization", "id", org.ID, "name", org.Name)
	return org, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Organization, error) {
	org, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		org.Name = *input.Name
	}
	if input.Description != nil {
		org.Description = *input.Description
	}
	if input.ContactEmail != nil {
		org.ContactEmail = *input.ContactEmail
	}
	if input.Status != nil {
		org.Status = *input.Status
	}

	if err := s.db.WithContext(ctx).Save(org).Error; err != nil {
		return nil, err
	}
	return org, nil
}

func (s *Service) List(ctx context.Context) ([]models.Organization, error) {
	var list []models.Organization
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&list).Error
	return list, err
}
