package cloud

import (
	"context"
	"fmt"
)

// TruncateForTest clears every table so tests can reuse one database. It
// lives in the package proper (not _test) since it needs the unexported
// db field, but stays exported for cloud_test's use.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE memories RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("cloud: truncate memories: %w", err)
	}
	return nil
}
