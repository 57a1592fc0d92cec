package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
)

const profileColumns = `id, username, email, role, country, city, COALESCE(address, ''), COALESCE(avatar_url, ''), is_verified_supplier, updated_at`

type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	defer logger.DeferLogDuration("profile.GetByID", time.Now())()
	p, err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profileRepo.GetByID: %w", err)
	}
	return &p, nil
}

// Upsert создаёт или обновляет профиль. Используется самовосстановлением при отправке сообщения.
func (r *ProfileRepository) Upsert(ctx context.Context, p model.Profile) error {
	defer logger.DeferLogDuration("profile.Upsert", time.Now())()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (id, username, email, role, country, city, address, avatar_url, is_verified_supplier, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   username = EXCLUDED.username,
		   email = EXCLUDED.email,
		   role = EXCLUDED.role,
		   country = EXCLUDED.country,
		   city = EXCLUDED.city,
		   address = COALESCE(EXCLUDED.address, profiles.address),
		   avatar_url = COALESCE(EXCLUDED.avatar_url, profiles.avatar_url),
		   is_verified_supplier = EXCLUDED.is_verified_supplier,
		   updated_at = EXCLUDED.updated_at`,
		p.ID, p.Username, p.Email, p.Role, p.Country, p.City, p.Address, p.AvatarURL, p.IsVerifiedSupplier, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("profileRepo.Upsert: %w", classify(err))
	}
	return nil
}

// ListByIDs возвращает найденные профили; отсутствующие id пропускаются.
func (r *ProfileRepository) ListByIDs(ctx context.Context, ids []string) ([]model.Profile, error) {
	defer logger.DeferLogDuration("profile.ListByIDs", time.Now())()
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.ListByIDs query: %w", err)
	}
	defer rows.Close()
	var out []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("profileRepo.ListByIDs scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profileRepo.ListByIDs rows: %w", err)
	}
	return out, nil
}

func scanProfile(row interface{ Scan(dest ...any) error }) (model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.Role, &p.Country, &p.City, &p.Address, &p.AvatarURL,
		&p.IsVerifiedSupplier, &p.UpdatedAt)
	return p, err
}
