package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/event"
	"github.com/nao1215/fooddelivery/pkg/messaging"
	"github.com/nao1215/fooddelivery/pkg/token"
)

// TokenEncoder はクレームを署名付きトークンに変換する。
// *token.Codec が実装する。
type TokenEncoder interface {
	Encode(claims token.Claims) (string, error)
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	// Name はユーザーの表示名。
	Name string
	// Email はメールアドレス。
	Email string
	// Password は平文のパスワード。
	Password string
	// Role は要求されたロール。セルフ登録では無視してDefaultRoleを使う。
	Role string
}

// Issuer はログイン時の認証とトークン発行、ユーザー登録を行う。
type Issuer struct {
	// store は認証情報の保存先。
	store CredentialStore
	// hasher はパスワードのハッシュ化と照合に使う。
	hasher PasswordHasher
	// encoder はトークンの生成に使う。
	encoder TokenEncoder
	// publisher はドメインイベントの送信先。
	publisher messaging.Publisher
	// ttl は発行するトークンの有効期間。
	ttl time.Duration
	// lookupTimeout は認証情報の検索に許す最大時間。
	lookupTimeout time.Duration
	// logger はロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。
	now func() time.Time
}

// IssuerConfig はIssuerの設定。
type IssuerConfig struct {
	// TTL は発行するトークンの有効期間。
	TTL time.Duration
	// LookupTimeout は認証情報の検索に許す最大時間。
	LookupTimeout time.Duration
}

// NewIssuer は新しいIssuerを生成する。
func NewIssuer(store CredentialStore, hasher PasswordHasher, encoder TokenEncoder, publisher messaging.Publisher, cfg IssuerConfig, logger *zap.Logger) *Issuer {
	return &Issuer{
		store:         store,
		hasher:        hasher,
		encoder:       encoder,
		publisher:     publisher,
		ttl:           cfg.TTL,
		lookupTimeout: cfg.LookupTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// normalizeEmail はメールアドレスを比較用に正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login はメールアドレスとパスワードを照合し、成功したらトークンを返す。
// ユーザーが存在しない場合もパスワードが誤っている場合もErrInvalidCredentialsを返す。
func (i *Issuer) Login(ctx context.Context, email, password string) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, i.lookupTimeout)
	defer cancel()

	u, err := i.store.FindByEmail(lookupCtx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		i.logger.Warn("ログインに失敗しました", zap.String("reason", "unknown_email"))
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("認証情報の検索に失敗: %w", err)
	}

	if err := i.hasher.Compare(u.PasswordHash, password); err != nil {
		if errors.Is(err, errPasswordMismatch) {
			i.logger.Warn("ログインに失敗しました", zap.String("reason", "password_mismatch"), zap.Int64("user_id", u.ID))
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	// トークンの日時は秒単位で表現されるため、発行時点で切り捨てておく
	now := i.now().Truncate(time.Second)
	tok, err := i.encoder.Encode(token.Claims{
		SubjectID:    u.ID,
		SubjectLabel: u.Email,
		Roles:        []string{u.Role},
		IssuedAt:     now,
		ExpiresAt:    now.Add(i.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("トークンの生成に失敗: %w", err)
	}

	i.logger.Info("ログインに成功しました", zap.Int64("user_id", u.ID))
	return tok, nil
}

// Register はユーザーを登録する。ロールは要求にかかわらずDefaultRoleになる。
// 登録してもトークンは発行しない。
func (i *Issuer) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" || name == "" || in.Password == "" {
		return nil, ErrMissingField
	}
	if in.Role != "" && !strings.EqualFold(in.Role, DefaultRole) {
		i.logger.Warn("セルフ登録で要求されたロールを無視します", zap.String("requested_role", in.Role))
	}

	lookupCtx, cancel := context.WithTimeout(ctx, i.lookupTimeout)
	_, err := i.store.FindByEmail(lookupCtx, email)
	cancel()
	switch {
	case err == nil:
		return nil, ErrDuplicateEmail
	case !errors.Is(err, ErrUserNotFound):
		return nil, fmt.Errorf("認証情報の検索に失敗: %w", err)
	}

	hash, err := i.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         DefaultRole,
		CreatedAt:    i.now().UTC(),
	}
	if err := i.store.Create(ctx, u); err != nil {
		return nil, err
	}
	i.logger.Info("ユーザーを登録しました", zap.Int64("user_id", u.ID), zap.String("role", u.Role))

	i.emit(ctx, u)
	return u, nil
}

// emit はUserRegisteredイベントを送信する。失敗してもログに記録するだけで登録は成功とする。
func (i *Issuer) emit(ctx context.Context, u *User) {
	e, err := event.New(event.AggregateTypeUser, u.ID, event.TypeUserRegistered, event.UserRegisteredData{
		Email: u.Email,
		Role:  u.Role,
	})
	if err != nil {
		i.logger.Error("イベントの生成に失敗しました", zap.Error(err))
		return
	}
	if err := i.publisher.Publish(ctx, e); err != nil {
		i.logger.Error("イベントの送信に失敗しました", zap.String("event_type", string(e.EventType)), zap.Error(err))
	}
}
