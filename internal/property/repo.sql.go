package property

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/shared"
)

// Repository persists the property registry in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateBuilding(ctx context.Context, in BuildingInput) (Building, error) {
	var b Building
	err := r.pool.QueryRow(ctx, `
		INSERT INTO buildings (name, address)
		VALUES ($1, $2)
		RETURNING id, name, address, created_at`,
		in.Name, in.Address).Scan(&b.ID, &b.Name, &b.Address, &b.CreatedAt)
	return b, err
}

func (r *Repository) UpdateBuilding(ctx context.Context, id int64, in BuildingInput) (Building, error) {
	var b Building
	err := r.pool.QueryRow(ctx, `
		UPDATE buildings SET name = $2, address = $3
		WHERE id = $1
		RETURNING id, name, address, created_at`,
		id, in.Name, in.Address).Scan(&b.ID, &b.Name, &b.Address, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return Building{}, fmt.Errorf("property: building %d: %w", id, shared.ErrNotFound)
	}
	return b, err
}

func (r *Repository) GetBuilding(ctx context.Context, id int64) (Building, error) {
	var b Building
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, address, created_at FROM buildings WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Address, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return Building{}, fmt.Errorf("property: building %d: %w", id, shared.ErrNotFound)
	}
	return b, err
}

func (r *Repository) ListBuildings(ctx context.Context, limit, offset int) ([]Building, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, address, created_at FROM buildings ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var buildings []Building
	for rows.Next() {
		var b Building
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.CreatedAt); err != nil {
			return nil, err
		}
		buildings = append(buildings, b)
	}
	return buildings, rows.Err()
}

const apartmentSelectSQL = `
	SELECT id, building_id, number, floor, status, subscription_amount, cached_balance, created_at
	FROM apartments`

func (r *Repository) CreateApartment(ctx context.Context, in ApartmentInput) (Apartment, error) {
	var a Apartment
	err := r.pool.QueryRow(ctx, `
		INSERT INTO apartments (building_id, number, floor, status, subscription_amount, cached_balance)
		VALUES ($1, $2, $3, 'ACTIVE', $4, 0)
		RETURNING id, building_id, number, floor, status, subscription_amount, cached_balance, created_at`,
		in.BuildingID, in.Number, in.Floor, in.SubscriptionAmount).
		Scan(&a.ID, &a.BuildingID, &a.Number, &a.Floor, &a.Status, &a.SubscriptionAmount, &a.CachedBalance, &a.CreatedAt)
	if db.IsUniqueViolation(err, "") {
		return Apartment{}, fmt.Errorf("property: apartment %s already exists in building %d: %w", in.Number, in.BuildingID, shared.ErrValidation)
	}
	return a, err
}

func (r *Repository) UpdateApartment(ctx context.Context, id int64, in ApartmentInput) (Apartment, error) {
	var a Apartment
	err := r.pool.QueryRow(ctx, `
		UPDATE apartments SET number = $2, floor = $3, subscription_amount = $4
		WHERE id = $1
		RETURNING id, building_id, number, floor, status, subscription_amount, cached_balance, created_at`,
		id, in.Number, in.Floor, in.SubscriptionAmount).
		Scan(&a.ID, &a.BuildingID, &a.Number, &a.Floor, &a.Status, &a.SubscriptionAmount, &a.CachedBalance, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return Apartment{}, fmt.Errorf("property: apartment %d: %w", id, shared.ErrNotFound)
	}
	return a, err
}

func (r *Repository) SetApartmentStatus(ctx context.Context, id int64, status ApartmentStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE apartments SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("property: apartment %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *Repository) GetApartment(ctx context.Context, id int64) (Apartment, error) {
	var a Apartment
	err := r.pool.QueryRow(ctx, apartmentSelectSQL+` WHERE id = $1`, id).
		Scan(&a.ID, &a.BuildingID, &a.Number, &a.Floor, &a.Status, &a.SubscriptionAmount, &a.CachedBalance, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return Apartment{}, fmt.Errorf("property: apartment %d: %w", id, shared.ErrNotFound)
	}
	return a, err
}

func (r *Repository) ListApartments(ctx context.Context, buildingID int64) ([]Apartment, error) {
	rows, err := r.pool.Query(ctx, apartmentSelectSQL+` WHERE building_id = $1 ORDER BY id`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var apartments []Apartment
	for rows.Next() {
		var a Apartment
		if err := rows.Scan(&a.ID, &a.BuildingID, &a.Number, &a.Floor, &a.Status, &a.SubscriptionAmount, &a.CachedBalance, &a.CreatedAt); err != nil {
			return nil, err
		}
		apartments = append(apartments, a)
	}
	return apartments, rows.Err()
}

const residentSelectSQL = `
	SELECT id, apartment_id, name, email, phone, is_primary, created_at
	FROM residents`

func (r *Repository) CreateResident(ctx context.Context, in ResidentInput) (Resident, error) {
	var res Resident
	err := r.pool.QueryRow(ctx, `
		INSERT INTO residents (apartment_id, name, email, phone, is_primary)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, apartment_id, name, email, phone, is_primary, created_at`,
		in.ApartmentID, in.Name, in.Email, in.Phone, in.IsPrimary).
		Scan(&res.ID, &res.ApartmentID, &res.Name, &res.Email, &res.Phone, &res.IsPrimary, &res.CreatedAt)
	return res, err
}

func (r *Repository) UpdateResident(ctx context.Context, id int64, in ResidentInput) (Resident, error) {
	var res Resident
	err := r.pool.QueryRow(ctx, `
		UPDATE residents SET name = $2, email = $3, phone = $4, is_primary = $5
		WHERE id = $1
		RETURNING id, apartment_id, name, email, phone, is_primary, created_at`,
		id, in.Name, in.Email, in.Phone, in.IsPrimary).
		Scan(&res.ID, &res.ApartmentID, &res.Name, &res.Email, &res.Phone, &res.IsPrimary, &res.CreatedAt)
	if err == pgx.ErrNoRows {
		return Resident{}, fmt.Errorf("property: resident %d: %w", id, shared.ErrNotFound)
	}
	return res, err
}

func (r *Repository) DeleteResident(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM residents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("property: resident %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *Repository) ListResidents(ctx context.Context, apartmentID int64) ([]Resident, error) {
	rows, err := r.pool.Query(ctx, residentSelectSQL+` WHERE apartment_id = $1 ORDER BY id`, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var residents []Resident
	for rows.Next() {
		var res Resident
		if err := rows.Scan(&res.ID, &res.ApartmentID, &res.Name, &res.Email, &res.Phone, &res.IsPrimary, &res.CreatedAt); err != nil {
			return nil, err
		}
		residents = append(residents, res)
	}
	return residents, rows.Err()
}

// PrimaryEmails lists the primary residents' addresses for an apartment.
func (r *Repository) PrimaryEmails(ctx context.Context, apartmentID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT email FROM residents
		WHERE apartment_id = $1 AND is_primary AND email <> ''
		ORDER BY id`, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
