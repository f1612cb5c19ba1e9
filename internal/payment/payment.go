package payment

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// 決済ステータス。
const (
	// StatusSuccess は決済が承認されたことを表す。
	StatusSuccess = "SUCCESS"
	// StatusFailed は決済が拒否されたことを表す。
	StatusFailed = "FAILED"
)

// ErrNotFound は決済が存在しないことを示す。
var ErrNotFound = errors.New("決済が見つかりません")

// migrationFS はpaymentsテーブルのマイグレーションファイル。
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// Payment は決済記録。
type Payment struct {
	// ID は決済の一意識別子。
	ID int64 `json:"id"`
	// OrderID は対象の注文ID。
	OrderID int64 `json:"orderId"`
	// Amount は決済金額。
	Amount float64 `json:"amount"`
	// PaymentMethod は決済手段。
	PaymentMethod string `json:"paymentMethod"`
	// PaymentDate は決済日時。
	PaymentDate time.Time `json:"paymentDate"`
	// Status は決済ステータス。
	Status string `json:"status"`
	// TransactionID は決済処理が発行した取引ID。拒否時は空。
	TransactionID string `json:"transactionId"`
}

// Store は決済記録の永続化を抽象化する。
type Store interface {
	List(ctx context.Context, orderID int64) ([]Payment, error)
	Get(ctx context.Context, id int64) (*Payment, error)
	Create(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
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

// paymentColumns はscanPaymentが読み取る列の並び。
var paymentColumns = []string{"id", "order_id", "amount", "payment_method", "payment_date", "status", "transaction_id"}

// scanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanPayment は1行をPaymentに読み取る。
func scanPayment(row scanner) (*Payment, error) {
	var (
		p    Payment
		date string
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.PaymentMethod, &date, &p.Status, &p.TransactionID); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return nil, fmt.Errorf("決済日時の解析に失敗: %w", err)
	}
	p.PaymentDate = t
	return &p, nil
}

// List は決済記録をID順に返す。orderIDが0より大きければその注文の記録に絞る。
func (s *SQLStore) List(ctx context.Context, orderID int64) ([]Payment, error) {
	builder := sq.Select(paymentColumns...).From("payments").OrderBy("id")
	if orderID > 0 {
		builder = builder.Where(sq.Eq{"order_id": orderID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("SELECT文の生成に失敗: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("決済一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	payments := make([]Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("決済の読み取りに失敗: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// Get はIDで決済記録を取得する。
func (s *SQLStore) Get(ctx context.Context, id int64) (*Payment, error) {
	query, args, err := sq.Select(paymentColumns...).From("payments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("SELECT文の生成に失敗: %w", err)
	}
	p, err := scanPayment(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("決済の取得に失敗: %w", err)
	}
	return p, nil
}

// Create は決済記録を保存し、IDを設定する。
func (s *SQLStore) Create(ctx context.Context, p *Payment) error {
	query, args, err := sq.Insert("payments").
		Columns("order_id", "amount", "payment_method", "payment_date", "status", "transaction_id").
		Values(p.OrderID, p.Amount, p.PaymentMethod, p.PaymentDate.UTC().Format(time.RFC3339Nano), p.Status, p.TransactionID).
		ToSql()
	if err != nil {
		return fmt.Errorf("INSERT文の生成に失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("決済の保存に失敗: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("決済IDの取得に失敗: %w", err)
	}
	return nil
}

// Update は決済記録を更新する。決済日時は変更しない。
func (s *SQLStore) Update(ctx context.Context, p *Payment) error {
	query, args, err := sq.Update("payments").
		Set("order_id", p.OrderID).
		Set("amount", p.Amount).
		Set("payment_method", p.PaymentMethod).
		Set("status", p.Status).
		Set("transaction_id", p.TransactionID).
		Where(sq.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("UPDATE文の生成に失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("決済の更新に失敗: %w", err)
	}
	return requireAffected(res)
}

// Delete は決済記録を削除する。
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	query, args, err := sq.Delete("payments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("DELETE文の生成に失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("決済の削除に失敗: %w", err)
	}
	return requireAffected(res)
}

// requireAffected は1行も更新されなかった場合にErrNotFoundを返す。
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
