package property

import (
	"context"
	"fmt"

	"github.com/strata-hq/strata/internal/shared"
)

// RepositoryPort abstracts property persistence.
type RepositoryPort interface {
	CreateBuilding(ctx context.Context, in BuildingInput) (Building, error)
	UpdateBuilding(ctx context.Context, id int64, in BuildingInput) (Building, error)
	GetBuilding(ctx context.Context, id int64) (Building, error)
	ListBuildings(ctx context.Context, limit, offset int) ([]Building, error)

	CreateApartment(ctx context.Context, in ApartmentInput) (Apartment, error)
	UpdateApartment(ctx context.Context, id int64, in ApartmentInput) (Apartment, error)
	SetApartmentStatus(ctx context.Context, id int64, status ApartmentStatus) error
	GetApartment(ctx context.Context, id int64) (Apartment, error)
	ListApartments(ctx context.Context, buildingID int64) ([]Apartment, error)

	CreateResident(ctx context.Context, in ResidentInput) (Resident, error)
	UpdateResident(ctx context.Context, id int64, in ResidentInput) (Resident, error)
	DeleteResident(ctx context.Context, id int64) error
	ListResidents(ctx context.Context, apartmentID int64) ([]Resident, error)
	PrimaryEmails(ctx context.Context, apartmentID int64) ([]string, error)
}

// Service manages the building / apartment / resident registry.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the property service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateBuilding(ctx context.Context, in BuildingInput) (Building, error) {
	if in.Name == "" {
		return Building{}, fmt.Errorf("property: building name is required: %w", shared.ErrValidation)
	}
	return s.repo.CreateBuilding(ctx, in)
}

func (s *Service) UpdateBuilding(ctx context.Context, id int64, in BuildingInput) (Building, error) {
	if in.Name == "" {
		return Building{}, fmt.Errorf("property: building name is required: %w", shared.ErrValidation)
	}
	return s.repo.UpdateBuilding(ctx, id, in)
}

func (s *Service) GetBuilding(ctx context.Context, id int64) (Building, error) {
	return s.repo.GetBuilding(ctx, id)
}

func (s *Service) ListBuildings(ctx context.Context, limit, offset int) ([]Building, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListBuildings(ctx, limit, offset)
}

func (s *Service) CreateApartment(ctx context.Context, in ApartmentInput) (Apartment, error) {
	if err := validateApartmentInput(in); err != nil {
		return Apartment{}, err
	}
	return s.repo.CreateApartment(ctx, in)
}

func (s *Service) UpdateApartment(ctx context.Context, id int64, in ApartmentInput) (Apartment, error) {
	if err := validateApartmentInput(in); err != nil {
		return Apartment{}, err
	}
	return s.repo.UpdateApartment(ctx, id, in)
}

func validateApartmentInput(in ApartmentInput) error {
	if in.BuildingID <= 0 {
		return fmt.Errorf("property: apartment requires a building: %w", shared.ErrValidation)
	}
	if in.Number == "" {
		return fmt.Errorf("property: apartment number is required: %w", shared.ErrValidation)
	}
	if in.SubscriptionAmount != nil && !in.SubscriptionAmount.IsPositive() {
		return fmt.Errorf("property: subscription amount must be positive: %w", shared.ErrInvalidAmount)
	}
	return nil
}

// SetApartmentStatus activates or deactivates an apartment. Inactive
// apartments are skipped when expenses are billed.
func (s *Service) SetApartmentStatus(ctx context.Context, id int64, status ApartmentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("property: unknown status %q: %w", status, shared.ErrValidation)
	}
	return s.repo.SetApartmentStatus(ctx, id, status)
}

func (s *Service) GetApartment(ctx context.Context, id int64) (Apartment, error) {
	return s.repo.GetApartment(ctx, id)
}

func (s *Service) ListApartments(ctx context.Context, buildingID int64) ([]Apartment, error) {
	return s.repo.ListApartments(ctx, buildingID)
}

func (s *Service) CreateResident(ctx context.Context, in ResidentInput) (Resident, error) {
	if err := validateResidentInput(in); err != nil {
		return Resident{}, err
	}
	return s.repo.CreateResident(ctx, in)
}

func (s *Service) UpdateResident(ctx context.Context, id int64, in ResidentInput) (Resident, error) {
	if in.Name == "" {
		return Resident{}, fmt.Errorf("property: resident name is required: %w", shared.ErrValidation)
	}
	return s.repo.UpdateResident(ctx, id, in)
}

func validateResidentInput(in ResidentInput) error {
	if in.ApartmentID <= 0 {
		return fmt.Errorf("property: resident requires an apartment: %w", shared.ErrValidation)
	}
	if in.Name == "" {
		return fmt.Errorf("property: resident name is required: %w", shared.ErrValidation)
	}
	return nil
}

func (s *Service) DeleteResident(ctx context.Context, id int64) error {
	return s.repo.DeleteResident(ctx, id)
}

func (s *Service) ListResidents(ctx context.Context, apartmentID int64) ([]Resident, error) {
	return s.repo.ListResidents(ctx, apartmentID)
}

// PrimaryEmails returns the notification recipients for an apartment.
func (s *Service) PrimaryEmails(ctx context.Context, apartmentID int64) ([]string, error) {
	return s.repo.PrimaryEmails(ctx, apartmentID)
}
