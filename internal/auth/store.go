package auth

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/nao1215/fooddelivery/pkg/sqlitedb"
)

// migrationFS はusersテーブルのマイグレーションファイル。
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLStore はSQLiteを使ったCredentialStoreの実装。
type SQLStore struct {
	// db はデータベース接続。
	db *sql.DB
}

// NewSQLStore は新しいSQLStoreを生成する。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (s *SQLStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, sq.Eq{"email": email})
}

// FindByID はIDでユーザーを検索する。
func (s *SQLStore) FindByID(ctx context.Context, id int64) (*User, error) {
	return s.findOne(ctx, sq.Eq{"id": id})
}

// findOne は条件に一致する1件のユーザーを検索する共通処理。
func (s *SQLStore) findOne(ctx context.Context, cond sq.Eq) (*User, error) {
	query, args, err := sq.Select("id", "name", "email", "password_hash", "role", "created_at").
		From("users").
		Where(cond).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("SELECT文の生成に失敗: %w", err)
	}

	var (
		u         User
		createdAt string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗: %w", err)
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("登録日時の解析に失敗: %w", err)
	}
	return &u, nil
}

// Create はユーザーを保存する。
func (s *SQLStore) Create(ctx context.Context, u *User) error {
	query, args, err := sq.Insert("users").
		Columns("name", "email", "password_hash", "role", "created_at").
		Values(u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt.UTC().Format(time.RFC3339)).
		ToSql()
	if err != nil {
		return fmt.Errorf("INSERT文の生成に失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if sqlitedb.IsUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("ユーザーの保存に失敗: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("ユーザーIDの取得に失敗: %w", err)
	}
	return nil
}
