package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/jmoiron/sqlx"
)

type OrderOutcomeRepository struct {
	db *sqlx.DB
}

func NewOrderOutcomeRepository(db *sqlx.DB) *OrderOutcomeRepository {
	return &OrderOutcomeRepository{db: db}
}

func (r *OrderOutcomeRepository) Create(ctx context.Context, outcome *entity.OrderOutcome) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(outcome.TableName()).
		Columns(
			"request_id",
			"broker",
			"identity",
			"account",
			"symbol",
			"action",
			"quantity",
			"price",
			"status",
			"error_message",
			"created_at",
		).
		Values(
			outcome.RequestID,
			outcome.Broker,
			outcome.Identity,
			outcome.Account,
			outcome.Symbol,
			outcome.Action,
			outcome.Quantity,
			outcome.Price,
			outcome.Status,
			outcome.ErrorMessage,
			outcome.CreatedAt,
		).
		Suffix("RETURNING id")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	var id string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err != nil {
		return err
	}

	outcome.ID = id

	return err
}

func (r *OrderOutcomeRepository) GetByRequestID(ctx context.Context, requestID string) ([]entity.OrderOutcome, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("order_outcomes").
		Where(sq.Eq{"request_id": requestID}).
		OrderBy("created_at asc")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var outcomes []entity.OrderOutcome
	err = r.db.SelectContext(ctx, &outcomes, query, args...)
	if err != nil {
		return nil, err
	}

	return outcomes, nil
}

func (r *OrderOutcomeRepository) GetByStatus(ctx context.Context, statuses []string) ([]entity.OrderOutcome, error) {
	if len(statuses) == 0 {
		return []entity.OrderOutcome{}, nil
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("order_outcomes").
		Where(sq.Eq{"status": statuses}).
		OrderBy("created_at desc")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var outcomes []entity.OrderOutcome
	err = r.db.SelectContext(ctx, &outcomes, query, args...)
	if err != nil {
		return nil, err
	}

	return outcomes, nil
}
