package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/migration"
	"github.com/nao1215/fooddelivery/pkg/sqlitedb"
)

// newTestStore はインメモリSQLiteを使うSQLStoreを生成する。
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	db, err := sqlitedb.Open(context.Background(), sqlitedb.Memory)
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migration.Run(context.Background(), db, migrationFS, "migrations", zap.NewNop()); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	return NewSQLStore(db)
}

func TestSQLStore(t *testing.T) {
	t.Parallel()

	t.Run("IDが0なら新規作成しそれ以外は更新すること", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		ctx := context.Background()
		o := &Order{CustomerID: 42, RestaurantID: 201, TotalAmount: 1500, PaymentMethod: "CARD", OrderTime: fixedNow, Status: StatusPending}
		if err := store.Save(ctx, o); err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}
		if o.ID == 0 {
			t.Fatal("IDが採番されていない")
		}

		o.Status = StatusPaymentInitiated
		if err := store.Save(ctx, o); err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}

		got, err := store.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if got.Status != StatusPaymentInitiated || !got.OrderTime.Equal(fixedNow) || got.CustomerID != 42 {
			t.Errorf("Get() = %+v", got)
		}
		list, _ := store.List(ctx, 0)
		if len(list) != 1 {
			t.Errorf("件数 = %d, want 1", len(list))
		}
	})

	t.Run("更新で顧客IDと注文日時は変わらないこと", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		ctx := context.Background()
		o := &Order{CustomerID: 42, RestaurantID: 201, TotalAmount: 10, PaymentMethod: "CARD", OrderTime: fixedNow, Status: StatusPending}
		_ = store.Save(ctx, o)

		o.CustomerID = 7
		o.OrderTime = fixedNow.Add(time.Hour)
		o.TotalAmount = 20
		if err := store.Save(ctx, o); err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}
		got, _ := store.Get(ctx, o.ID)
		if got.CustomerID != 42 || !got.OrderTime.Equal(fixedNow) || got.TotalAmount != 20 {
			t.Errorf("Get() = %+v", got)
		}
	})

	t.Run("存在しない注文の更新と削除はErrNotFoundになること", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		ctx := context.Background()
		if err := store.Save(ctx, &Order{ID: 9, OrderTime: fixedNow}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Save() error = %v, want ErrNotFound", err)
		}
		if err := store.Delete(ctx, 9); !errors.Is(err, ErrNotFound) {
			t.Errorf("Delete() error = %v, want ErrNotFound", err)
		}
		if _, err := store.Get(ctx, 9); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("顧客IDで絞り込めること", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		ctx := context.Background()
		for _, customer := range []int64{1, 2, 1} {
			_ = store.Save(ctx, &Order{CustomerID: customer, RestaurantID: 1, TotalAmount: 1, PaymentMethod: "CASH", OrderTime: fixedNow, Status: StatusPending})
		}
		list, err := store.List(ctx, 1)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(list) != 2 || list[0].ID >= list[1].ID {
			t.Errorf("List() = %+v", list)
		}
	})
}

func TestNormalizeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		want  string
		known bool
	}{
		{in: "delivered", want: "DELIVERED", known: true},
		{in: " PAYMENT_FAILED ", want: "PAYMENT_FAILED", known: true},
		{in: "teleported", want: "TELEPORTED", known: false},
		{in: "", want: "", known: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, known := NormalizeStatus(tt.in)
			if got != tt.want || known != tt.known {
				t.Errorf("NormalizeStatus(%q) = %q, %v, want %q, %v", tt.in, got, known, tt.want, tt.known)
			}
		})
	}
}
