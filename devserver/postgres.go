package devserver

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carimbai/models"
)

// PostgresStore backs the dev server with Postgres when DATABASE_URL is set.
// Schema: staff, customers, cards, idempotency_responses (see schema.sql).
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) StaffByEmail(ctx context.Context, email string) (*Staff, error) {
	var staff Staff
	query := `
		SELECT id, email, password, role, merchant_id
		FROM staff
		WHERE email = $1
	`
	err := p.db.QueryRow(ctx, query, email).Scan(
		&staff.ID,
		&staff.Email,
		&staff.Password,
		&staff.Role,
		&staff.MerchantID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &staff, nil
}

func (p *PostgresStore) FindCustomer(ctx context.Context, req models.CustomerLoginRequest) (*models.Customer, error) {
	var customer models.Customer
	query := `
		SELECT id, name, email, phone, provider_id
		FROM customers
		WHERE (provider_id = $1 AND $1 <> '')
		   OR (email = $2 AND $2 <> '')
		   OR (phone = $3 AND $3 <> '')
		LIMIT 1
	`
	err := p.db.QueryRow(ctx, query, req.ProviderID, req.Email, req.Phone).Scan(
		&customer.CustomerID,
		&customer.Name,
		&customer.Email,
		&customer.Phone,
		&customer.ProviderID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (p *PostgresStore) CreateCustomer(ctx context.Context, req models.CustomerLoginRequest) (*models.Customer, error) {
	var customer models.Customer
	query := `
		INSERT INTO customers (name, email, phone, provider_id)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
		RETURNING id, name, email, phone, provider_id
	`
	err := p.db.QueryRow(ctx, query, req.Name, req.Email, req.Phone, req.ProviderID).Scan(
		&customer.CustomerID,
		&customer.Name,
		&customer.Email,
		&customer.Phone,
		&customer.ProviderID,
	)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (p *PostgresStore) Card(ctx context.Context, cardID int64) (*CardRecord, error) {
	var card CardRecord
	query := `
		SELECT id, customer_id, program_id, program_name, merchant_name, reward_name,
		       stamps_count, stamps_needed, status, has_reward
		FROM cards
		WHERE id = $1
	`
	err := p.db.QueryRow(ctx, query, cardID).Scan(
		&card.CardID,
		&card.CustomerID,
		&card.ProgramID,
		&card.ProgramName,
		&card.MerchantName,
		&card.RewardName,
		&card.StampsCount,
		&card.StampsNeeded,
		&card.Status,
		&card.HasReward,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (p *PostgresStore) CardsByCustomer(ctx context.Context, customerID int64) ([]models.Card, error) {
	query := `
		SELECT id, program_id, program_name, merchant_name, reward_name,
		       stamps_count, stamps_needed, status, has_reward
		FROM cards
		WHERE customer_id = $1
		ORDER BY id
	`
	rows, err := p.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var card models.Card
		err := rows.Scan(
			&card.CardID,
			&card.ProgramID,
			&card.ProgramName,
			&card.MerchantName,
			&card.RewardName,
			&card.StampsCount,
			&card.StampsNeeded,
			&card.Status,
			&card.HasReward,
		)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (p *PostgresStore) AddStamp(ctx context.Context, cardID int64) (*CardRecord, bool, error) {
	card, err := p.Card(ctx, cardID)
	if err != nil {
		return nil, false, err
	}
	if card.Status != models.CardActive {
		return nil, false, ErrCardInactive
	}

	query := `
		UPDATE cards
		SET stamps_count = LEAST(stamps_count + 1, stamps_needed),
		    has_reward = (stamps_count + 1 >= stamps_needed)
		WHERE id = $1
		RETURNING stamps_count, has_reward
	`
	var stamps int
	var hasReward bool
	if err := p.db.QueryRow(ctx, query, cardID).Scan(&stamps, &hasReward); err != nil {
		return nil, false, err
	}

	rewardIssued := hasReward && !card.HasReward
	card.StampsCount = stamps
	card.HasReward = hasReward
	return card, rewardIssued, nil
}

func (p *PostgresStore) RedeemReward(ctx context.Context, cardID int64) (int, error) {
	query := `
		UPDATE cards
		SET has_reward = false, stamps_count = 0
		WHERE id = $1 AND has_reward = true
		RETURNING stamps_count
	`
	var stampsAfter int
	err := p.db.QueryRow(ctx, query, cardID).Scan(&stampsAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either no such card or no reward on it; distinguish the two.
		if _, cardErr := p.Card(ctx, cardID); cardErr != nil {
			return 0, cardErr
		}
		return 0, ErrNoReward
	}
	if err != nil {
		return 0, err
	}
	return stampsAfter, nil
}

func (p *PostgresStore) IdempotentResponse(ctx context.Context, key string) (*StoredResponse, error) {
	var resp StoredResponse
	query := `
		SELECT status, body
		FROM idempotency_responses
		WHERE key = $1
	`
	err := p.db.QueryRow(ctx, query, key).Scan(&resp.Status, &resp.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *PostgresStore) SaveIdempotentResponse(ctx context.Context, key string, resp StoredResponse) error {
	query := `
		INSERT INTO idempotency_responses (key, status, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`
	_, err := p.db.Exec(ctx, query, key, resp.Status, resp.Body)
	return err
}
