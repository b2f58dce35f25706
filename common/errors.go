package common

import "golang.org/x/xerrors"

var (
	// ErrDeserialize wraps all failures to decode a stored record
	ErrDeserialize = xerrors.New("failed deserializing database record")

	ErrNotAllBytesConsumed = xerrors.Errorf("serialization error: not all bytes were consumed: %w", ErrDeserialize)

	// ErrDBUnavailable implementations of KV storage may choose to panic with this error in case the
	// underlying storage is closed or unavailable
	ErrDBUnavailable = xerrors.New("database is closed or unavailable")
)
