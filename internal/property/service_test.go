package property

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strata-hq/strata/internal/shared"
)

type memoryPropertyRepo struct {
	buildings  map[int64]Building
	apartments map[int64]Apartment
	residents  map[int64]Resident
	nextID     int64
}

func newMemoryPropertyRepo() *memoryPropertyRepo {
	return &memoryPropertyRepo{
		buildings:  make(map[int64]Building),
		apartments: make(map[int64]Apartment),
		residents:  make(map[int64]Resident),
	}
}

func (m *memoryPropertyRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryPropertyRepo) CreateBuilding(_ context.Context, in BuildingInput) (Building, error) {
	b := Building{ID: m.id(), Name: in.Name, Address: in.Address}
	m.buildings[b.ID] = b
	return b, nil
}

func (m *memoryPropertyRepo) UpdateBuilding(_ context.Context, id int64, in BuildingInput) (Building, error) {
	b, ok := m.buildings[id]
	if !ok {
		return Building{}, fmt.Errorf("property: building %d: %w", id, shared.ErrNotFound)
	}
	b.Name, b.Address = in.Name, in.Address
	m.buildings[id] = b
	return b, nil
}

func (m *memoryPropertyRepo) GetBuilding(_ context.Context, id int64) (Building, error) {
	b, ok := m.buildings[id]
	if !ok {
		return Building{}, fmt.Errorf("property: building %d: %w", id, shared.ErrNotFound)
	}
	return b, nil
}

func (m *memoryPropertyRepo) ListBuildings(_ context.Context, limit, offset int) ([]Building, error) {
	var out []Building
	for _, b := range m.buildings {
		out = append(out, b)
	}
	return out, nil
}

func (m *memoryPropertyRepo) CreateApartment(_ context.Context, in ApartmentInput) (Apartment, error) {
	a := Apartment{
		ID:                 m.id(),
		BuildingID:         in.BuildingID,
		Number:             in.Number,
		Floor:              in.Floor,
		Status:             StatusActive,
		SubscriptionAmount: in.SubscriptionAmount,
		CachedBalance:      decimal.Zero,
	}
	m.apartments[a.ID] = a
	return a, nil
}

func (m *memoryPropertyRepo) UpdateApartment(_ context.Context, id int64, in ApartmentInput) (Apartment, error) {
	a, ok := m.apartments[id]
	if !ok {
		return Apartment{}, fmt.Errorf("property: apartment %d: %w", id, shared.ErrNotFound)
	}
	a.Number, a.Floor, a.SubscriptionAmount = in.Number, in.Floor, in.SubscriptionAmount
	m.apartments[id] = a
	return a, nil
}

func (m *memoryPropertyRepo) SetApartmentStatus(_ context.Context, id int64, status ApartmentStatus) error {
	a, ok := m.apartments[id]
	if !ok {
		return fmt.Errorf("property: apartment %d: %w", id, shared.ErrNotFound)
	}
	a.Status = status
	m.apartments[id] = a
	return nil
}

func (m *memoryPropertyRepo) GetApartment(_ context.Context, id int64) (Apartment, error) {
	a, ok := m.apartments[id]
	if !ok {
		return Apartment{}, fmt.Errorf("property: apartment %d: %w", id, shared.ErrNotFound)
	}
	return a, nil
}

func (m *memoryPropertyRepo) ListApartments(_ context.Context, buildingID int64) ([]Apartment, error) {
	var out []Apartment
	for _, a := range m.apartments {
		if a.BuildingID == buildingID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryPropertyRepo) CreateResident(_ context.Context, in ResidentInput) (Resident, error) {
	r := Resident{ID: m.id(), ApartmentID: in.ApartmentID, Name: in.Name, Email: in.Email, Phone: in.Phone, IsPrimary: in.IsPrimary}
	m.residents[r.ID] = r
	return r, nil
}

func (m *memoryPropertyRepo) UpdateResident(_ context.Context, id int64, in ResidentInput) (Resident, error) {
	r, ok := m.residents[id]
	if !ok {
		return Resident{}, fmt.Errorf("property: resident %d: %w", id, shared.ErrNotFound)
	}
	r.Name, r.Email, r.Phone, r.IsPrimary = in.Name, in.Email, in.Phone, in.IsPrimary
	m.residents[id] = r
	return r, nil
}

func (m *memoryPropertyRepo) DeleteResident(_ context.Context, id int64) error {
	if _, ok := m.residents[id]; !ok {
		return fmt.Errorf("property: resident %d: %w", id, shared.ErrNotFound)
	}
	delete(m.residents, id)
	return nil
}

func (m *memoryPropertyRepo) ListResidents(_ context.Context, apartmentID int64) ([]Resident, error) {
	var out []Resident
	for _, r := range m.residents {
		if r.ApartmentID == apartmentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryPropertyRepo) PrimaryEmails(_ context.Context, apartmentID int64) ([]string, error) {
	var out []string
	for _, r := range m.residents {
		if r.ApartmentID == apartmentID && r.IsPrimary && r.Email != "" {
			out = append(out, r.Email)
		}
	}
	return out, nil
}

func TestCreateApartmentValidation(t *testing.T) {
	svc := NewService(newMemoryPropertyRepo())

	_, err := svc.CreateApartment(context.Background(), ApartmentInput{BuildingID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	negative := decimal.RequireFromString("-5.00")
	_, err = svc.CreateApartment(context.Background(), ApartmentInput{BuildingID: 1, Number: "12A", SubscriptionAmount: &negative})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	monthly := decimal.RequireFromString("25.00")
	apartment, err := svc.CreateApartment(context.Background(), ApartmentInput{BuildingID: 1, Number: "12A", Floor: 3, SubscriptionAmount: &monthly})
	require.NoError(t, err)
	require.Equal(t, StatusActive, apartment.Status)
	require.True(t, apartment.CachedBalance.IsZero())
}

func TestSetApartmentStatus(t *testing.T) {
	repo := newMemoryPropertyRepo()
	svc := NewService(repo)
	apartment, err := svc.CreateApartment(context.Background(), ApartmentInput{BuildingID: 1, Number: "7"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.SetApartmentStatus(context.Background(), apartment.ID, "DEMOLISHED"), shared.ErrValidation)
	require.NoError(t, svc.SetApartmentStatus(context.Background(), apartment.ID, StatusInactive))

	got, err := svc.GetApartment(context.Background(), apartment.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInactive, got.Status)
}

func TestPrimaryEmailsSkipsSecondaryAndEmpty(t *testing.T) {
	repo := newMemoryPropertyRepo()
	svc := NewService(repo)

	_, err := svc.CreateResident(context.Background(), ResidentInput{ApartmentID: 1, Name: "Ana", Email: "ana@example.com", IsPrimary: true})
	require.NoError(t, err)
	_, err = svc.CreateResident(context.Background(), ResidentInput{ApartmentID: 1, Name: "Boris", Email: "boris@example.com"})
	require.NoError(t, err)
	_, err = svc.CreateResident(context.Background(), ResidentInput{ApartmentID: 1, Name: "Vera", IsPrimary: true})
	require.NoError(t, err)

	emails, err := svc.PrimaryEmails(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"ana@example.com"}, emails)
}

func TestBuildingCRUD(t *testing.T) {
	svc := NewService(newMemoryPropertyRepo())

	_, err := svc.CreateBuilding(context.Background(), BuildingInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	building, err := svc.CreateBuilding(context.Background(), BuildingInput{Name: "Vitosha 12", Address: "Sofia"})
	require.NoError(t, err)

	updated, err := svc.UpdateBuilding(context.Background(), building.ID, BuildingInput{Name: "Vitosha 12A", Address: "Sofia"})
	require.NoError(t, err)
	require.Equal(t, "Vitosha 12A", updated.Name)

	_, err = svc.GetBuilding(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
