package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// ErrTxConflict marks a transaction attempt that lost a write conflict and may be retried.
var ErrTxConflict = errors.New("transaction write conflict")

const (
	labelTransientTransaction = "TransientTransactionError"
	labelUnknownCommitResult  = "UnknownTransactionCommitResult"
	codeWriteConflict         = 112
	maxCommitAttempts         = 3
)

// TxRunner runs a function inside a single MongoDB transaction attempt.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}

type mongoTxRunner struct {
	client        *mongo.Client
	timeout       time.Duration
	maxCommitTime time.Duration
}

// NewMongoTxRunner builds a runner. timeout bounds one attempt end to end,
// maxCommitTime bounds the commit on the server.
func NewMongoTxRunner(client *mongo.Client, timeout, maxCommitTime time.Duration) TxRunner {
	return &mongoTxRunner{client: client, timeout: timeout, maxCommitTime: maxCommitTime}
}

// WithTransaction runs fn once with snapshot reads and majority writes. It does
// not retry the body; a conflict comes back wrapping ErrTxConflict so the
// caller owns the retry budget.
func (r *mongoTxRunner) WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(context.Background())

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary())
	if r.maxCommitTime > 0 {
		txOpts.SetMaxCommitTime(&r.maxCommitTime)
	}

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(txOpts); err != nil {
			return err
		}
		if err := fn(sc); err != nil {
			_ = sc.AbortTransaction(context.Background())
			return err
		}
		return commitWithRetry(sc)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTxConflict) {
		return err
	}
	if IsTransientTxError(err) {
		return fmt.Errorf("%w: %v", ErrTxConflict, err)
	}
	return err
}

func commitWithRetry(sc mongo.SessionContext) error {
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		err = sc.CommitTransaction(sc)
		if err == nil {
			return nil
		}
		var se mongo.ServerError
		if !errors.As(err, &se) || !se.HasErrorLabel(labelUnknownCommitResult) || sc.Err() != nil {
			return err
		}
	}
	return err
}

// IsTransientTxError reports a write conflict or any error MongoDB labels as
// safe to retry the whole transaction on.
func IsTransientTxError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTxConflict) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel(labelTransientTransaction) || se.HasErrorCode(codeWriteConflict)
	}
	return false
}

// IsDuplicateKey reports a unique index violation.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
