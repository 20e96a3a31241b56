// internal/app/system/txn/txn.go

// Package txn runs multi-document write units inside a MongoDB transaction
// when the deployment supports them, falling back to plain sequential
// writes on standalone servers (local development, CI). Callers order their
// writes so the fallback degrades safely.
package txn

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// Mongo error codes seen when multi-document transactions are unavailable
// on the deployment.
const (
	codeIllegalOperation    = 20
	codeCommandNotSupported = 51
	codeNotInTransaction    = 263
)

// IsNotSupported reports whether err means the deployment cannot run
// multi-document transactions (standalone server, old wire version).
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case codeIllegalOperation, codeCommandNotSupported, codeNotInTransaction:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "transaction") {
		if strings.Contains(msg, "replica set") ||
			strings.Contains(msg, "session") ||
			strings.Contains(msg, "illegal operation") {
			return true
		}
	}
	if strings.Contains(msg, "session") && strings.Contains(msg, "not supported") {
		return true
	}
	return false
}

// WithTransaction runs fn inside a transaction. When the deployment rejects
// transactions, fn runs once more outside one; any other error propagates.
func WithTransaction(ctx context.Context, client *mongo.Client, fn func(ctx context.Context) error) error {
	sess, err := client.StartSession()
	if err != nil {
		if IsNotSupported(err) {
			return fn(ctx)
		}
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		return fn(ctx)
	}
	return err
}
