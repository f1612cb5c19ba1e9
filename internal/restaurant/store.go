package restaurant

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// StatusActive は営業中を表すステータス。
const StatusActive = "ACTIVE"

// ErrNotFound はレストランが存在しないことを示す。
var ErrNotFound = errors.New("レストランが見つかりません")

// migrationFS はrestaurantsテーブルのマイグレーションファイル。
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// Restaurant はレストラン。
type Restaurant struct {
	// ID はレストランの一意識別子。
	ID int64 `json:"id"`
	// Name は店名。
	Name string `json:"name"`
	// Location は所在地。
	Location string `json:"location"`
	// Cuisine は料理の種類。
	Cuisine string `json:"cuisine"`
	// Status は営業状態（ACTIVE, CLOSEDなど）。
	Status string `json:"status"`
}

// Store はレストランの永続化を抽象化する。
type Store interface {
	List(ctx context.Context) ([]Restaurant, error)
	Get(ctx context.Context, id int64) (*Restaurant, error)
	Create(ctx context.Context, r *Restaurant) error
	Update(ctx context.Context, r *Restaurant) error
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

// restaurantColumns はレストランの列の並び。
var restaurantColumns = []string{"id", "name", "location", "cuisine", "status"}

// List は全レストランをID順に返す。
func (s *SQLStore) List(ctx context.Context) ([]Restaurant, error) {
	query, args, err := sq.Select(restaurantColumns...).From("restaurants").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("SELECT文の生成に失敗: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("レストラン一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	restaurants := make([]Restaurant, 0)
	for rows.Next() {
		var r Restaurant
		if err := rows.Scan(&r.ID, &r.Name, &r.Location, &r.Cuisine, &r.Status); err != nil {
			return nil, fmt.Errorf("レストランの読み取りに失敗: %w", err)
		}
		restaurants = append(restaurants, r)
	}
	return restaurants, rows.Err()
}

// Get はIDでレストランを取得する。
func (s *SQLStore) Get(ctx context.Context, id int64) (*Restaurant, error) {
	query, args, err := sq.Select(restaurantColumns...).From("restaurants").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("SELECT文の生成に失敗: %w", err)
	}

	var r Restaurant
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&r.ID, &r.Name, &r.Location, &r.Cuisine, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("レストランの取得に失敗: %w", err)
	}
	return &r, nil
}

// Create はレストランを保存し、IDを設定する。
func (s *SQLStore) Create(ctx context.Context, r *Restaurant) error {
	query, args, err := sq.Insert("restaurants").
		Columns("name", "location", "cuisine", "status").
		Values(r.Name, r.Location, r.Cuisine, r.Status).
		ToSql()
	if err != nil {
		return fmt.Errorf("INSERT文の生成に失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("レストランの保存に失敗: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("レストランIDの取得に失敗: %w", err)
	}
	return nil
}

// Update はレストランを更新する。
func (s *SQLStore) Update(ctx context.Context, r *Restaurant) error {
	query, args, err := sq.Update("restaurants").
		Set("name", r.Name).
		Set("location", r.Location).
		Set("cuisine", r.Cuisine).
		Set("status", r.Status).
		Where(sq.Eq{"id": r.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("UPDATE文の生成に失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("レストランの更新に失敗: %w", err)
	}
	return requireAffected(res)
}

// Delete はレストランを削除する。
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	query, args, err := sq.Delete("restaurants").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("DELETE文の生成に失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("レストランの削除に失敗: %w", err)
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
