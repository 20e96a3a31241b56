package txn_test

import (
	"context"
	"errors"
	"testing"

	"github.com/memberhub-app/memberhub/internal/app/system/txn"
	"github.com/memberhub-app/memberhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestIsNotSupported_CommandErrors(t *testing.T) {
	unsupported := []mongo.CommandError{
		{Code: 20, Message: "Transaction numbers are only allowed on a replica set member"},
		{Code: 51, Message: "Illegal operation"},
		{Code: 263, Message: "Cannot run in a multi-document transaction"},
	}
	for _, ce := range unsupported {
		if !txn.IsNotSupported(ce) {
			t.Errorf("code %d should read as unsupported", ce.Code)
		}
	}

	if txn.IsNotSupported(mongo.CommandError{Code: 11000, Message: "duplicate key"}) {
		t.Error("an unrelated command error must not trigger the fallback")
	}
}

func TestIsNotSupported_MessageHeuristics(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), false},
		{errors.New("transaction numbers are only allowed on a replica set member"), true},
		{errors.New("Transaction Session error"), true},
		{errors.New("illegal operation during transaction"), true},
		{errors.New("sessions are not supported by this server"), true},
		{errors.New("transaction failed"), false},
	}
	for _, tt := range tests {
		if got := txn.IsNotSupported(tt.err); got != tt.want {
			t.Errorf("IsNotSupported(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// On a standalone server (local dev, CI) the wrapper must fall back to a
// plain run rather than failing the write unit.
func TestWithTransaction_RunsWriteUnit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	err := txn.WithTransaction(ctx, db.Client(), func(ctx context.Context) error {
		_, err := db.Collection("txn_probe").InsertOne(ctx, bson.M{"n": 1})
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}

	count, err := db.Collection("txn_probe").CountDocuments(ctx, bson.M{})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 document committed, got %d", count)
	}
}

func TestWithTransaction_PropagatesCallerError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	boom := errors.New("write unit failed")
	err := txn.WithTransaction(ctx, db.Client(), func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the caller's error back, got %v", err)
	}
}
