package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not a tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil tx for wrong type in context")
	}
}

func TestInTx_NoConnection(t *testing.T) {
	err := InTx(context.Background(), nil, func(ctx context.Context) error {
		t.Fatal("fn must not run without a connection")
		return nil
	})
	if err == nil {
		t.Fatal("expected error when no connection is available")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

type failingBeginner struct{}

func (failingBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("pool exhausted")
}

func TestInTx_BeginError(t *testing.T) {
	err := InTx(context.Background(), failingBeginner{}, func(ctx context.Context) error {
		t.Fatal("fn must not run when begin fails")
		return nil
	})
	if err == nil {
		t.Fatal("expected begin error")
	}
}
