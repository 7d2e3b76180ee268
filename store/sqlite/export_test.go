package sqlite

import "context"

// Exec runs raw SQL against the store's database, for tests that need rows
// the Store API refuses to write.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
