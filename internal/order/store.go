package order

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// migrationFS はordersテーブルのマイグレーションファイル。
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// Store は注文の永続化を抽象化する。
type Store interface {
	// Save はIDが0なら新規作成してIDを設定し、それ以外は更新する。
	Save(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	// List は注文をID順に返す。customerIDが0より大きければその顧客の注文に絞る。
	List(ctx context.Context, customerID int64) ([]Order, error)
	Delete(ctx context.Context, id int64) error
}

// SQLStore はSQLiteを使ったStoreの実装。
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore は新しいSQLStoreを生成する。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// orderColumns はscanOrderが読み取る列の並び。
var orderColumns = []string{"id", "customer_id", "restaurant_id", "total_amount", "payment_method", "order_time", "status"}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	var (
		o  Order
		at string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &o.TotalAmount, &o.PaymentMethod, &at, &o.Status); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("注文日時の解析に失敗: %w", err)
	}
	o.OrderTime = t
	return &o, nil
}

// Save は注文を保存する。
func (s *SQLStore) Save(ctx context.Context, o *Order) error {
	if o.ID == 0 {
		query, args, err := sq.Insert("orders").
			Columns("customer_id", "restaurant_id", "total_amount", "payment_method", "order_time", "status").
			Values(o.CustomerID, o.RestaurantID, o.TotalAmount, o.PaymentMethod, o.OrderTime.UTC().Format(time.RFC3339Nano), o.Status).
			ToSql()
		if err != nil {
			return fmt.Errorf("INSERT文の生成に失敗: %w", err)
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("注文の保存に失敗: %w", err)
		}
		if o.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("注文IDの取得に失敗: %w", err)
		}
		return nil
	}

	// customer_idとorder_timeは作成後に変更しない
	query, args, err := sq.Update("orders").
		Set("restaurant_id", o.RestaurantID).
		Set("total_amount", o.TotalAmount).
		Set("payment_method", o.PaymentMethod).
		Set("status", o.Status).
		Where(sq.Eq{"id": o.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("UPDATE文の生成に失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("注文の更新に失敗: %w", err)
	}
	return requireAffected(res)
}

// Get はIDで注文を取得する。
func (s *SQLStore) Get(ctx context.Context, id int64) (*Order, error) {
	query, args, err := sq.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("SELECT文の生成に失敗: %w", err)
	}
	o, err := scanOrder(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("注文の取得に失敗: %w", err)
	}
	return o, nil
}

// List は注文一覧を返す。
func (s *SQLStore) List(ctx context.Context, customerID int64) ([]Order, error) {
	builder := sq.Select(orderColumns...).From("orders").OrderBy("id")
	if customerID > 0 {
		builder = builder.Where(sq.Eq{"customer_id": customerID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("SELECT文の生成に失敗: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("注文一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("注文の読み取りに失敗: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// Delete は注文を削除する。
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	query, args, err := sq.Delete("orders").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("DELETE文の生成に失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("注文の削除に失敗: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
