package db

import (
	"context"
)

const setLockTimeout = `-- name: SetLockTimeout :exec
SELECT set_config('lock_timeout', $1, true)
`

// SetLockTimeout bounds row lock waits for the rest of the current transaction.
func (q *Queries) SetLockTimeout(ctx context.Context, timeout string) error {
	_, err := q.db.Exec(ctx, setLockTimeout, timeout)
	return err
}
