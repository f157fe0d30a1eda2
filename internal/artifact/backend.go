package artifact

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key (or index value) has no record.
var ErrNotFound = errors.New("artifact not found")

// ErrAlreadyConsumed is returned by ConsumeOnce when the marker is already set.
var ErrAlreadyConsumed = errors.New("artifact already consumed")

// Index names a secondary lookup column.
type Index string

const (
	IndexUID      Index = "uid"
	IndexGrantID  Index = "grant_id"
	IndexUserCode Index = "user_code"
)

// Backend is the physical table. Implementations must make MarkConsumed a
// single conditional write that fails with ErrNotFound for a missing key.
// MarkConsumedOnce additionally requires the marker to be unset, failing
// with ErrAlreadyConsumed otherwise.
type Backend interface {
	Get(ctx context.Context, kind Kind, id string) (*Record, error)
	// QueryIndex returns the first record of kind whose index column equals value.
	QueryIndex(ctx context.Context, kind Kind, index Index, value string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	MarkConsumed(ctx context.Context, kind Kind, id string, at int64) error
	MarkConsumedOnce(ctx context.Context, kind Kind, id string, at int64) error
	Delete(ctx context.Context, kind Kind, id string) error
	// GrantPage lists up to limit primary keys carrying grantID, after cursor.
	// next is "" when there are no further pages.
	GrantPage(ctx context.Context, grantID, cursor string, limit int) (keys []string, next string, err error)
	BatchDelete(ctx context.Context, keys []string) error
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}
