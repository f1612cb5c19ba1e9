// Package tokentest はテストでトークンを発行するためのヘルパーを提供する。
package tokentest

import (
	"fmt"
	"testing"
	"time"

	"github.com/nao1215/fooddelivery/pkg/token"
)

// Secret はテスト用の共有秘密鍵。
const Secret = "tokentest-shared-secret-0123456789abcdef"

// NewCodec はテスト用の秘密鍵でCodecを生成する。
func NewCodec(t testing.TB) *token.Codec {
	t.Helper()

	codec, err := token.NewCodec(Secret)
	if err != nil {
		t.Fatalf("NewCodec()でエラーが発生: %v", err)
	}
	return codec
}

// Issue はsubjectIDとrolesを持つ1時間有効なトークンを発行する。
func Issue(t testing.TB, codec *token.Codec, subjectID int64, roles ...string) string {
	t.Helper()

	now := time.Now()
	tok, err := codec.Encode(token.Claims{
		SubjectID:    subjectID,
		SubjectLabel: fmt.Sprintf("user%d@example.com", subjectID),
		Roles:        roles,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Encode()でエラーが発生: %v", err)
	}
	return tok
}
