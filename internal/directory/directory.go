// Package directory is the client for the external user directory. The
// matchmaker only ever reads a user's gender and flips the searching flag;
// everything else about a profile belongs to the account system.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chancechat/chance/internal/matching"
)

// Profile is a user's directory record as seen by the matchmaking tier.
type Profile struct {
	UserID      string
	Gender      matching.Gender
	IsPremium   bool
	IsSearching bool
}

// Store reads and updates user profiles in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a directory store on the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Profile fetches a user's record. Users without a directory row are valid
// anonymous participants: they come back as a profile with unknown gender
// rather than an error.
func (s *Store) Profile(ctx context.Context, userID string) (Profile, error) {
	const query = `SELECT gender, is_premium, is_searching FROM users WHERE id = $1`

	var (
		gender      sql.NullString
		isPremium   bool
		isSearching bool
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&gender, &isPremium, &isSearching)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{UserID: userID, Gender: matching.GenderUnknown}, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("directory: profile %s: %w", userID, err)
	}

	p := Profile{
		UserID:      userID,
		Gender:      matching.GenderUnknown,
		IsPremium:   isPremium,
		IsSearching: isSearching,
	}
	if gender.Valid {
		switch gender.String {
		case string(matching.GenderMale):
			p.Gender = matching.GenderMale
		case string(matching.GenderFemale):
			p.Gender = matching.GenderFemale
		}
	}
	return p, nil
}

// Gender returns just the gender field; it satisfies matching.Directory.
func (s *Store) Gender(ctx context.Context, userID string) (matching.Gender, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return matching.GenderUnknown, err
	}
	return p.Gender, nil
}

// SetSearching flips the searching flag. Updating a user with no directory
// row is a no-op, matching Profile's treatment of missing rows.
func (s *Store) SetSearching(ctx context.Context, userID string, searching bool) error {
	const query = `UPDATE users SET is_searching = $2 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, userID, searching); err != nil {
		return fmt.Errorf("directory: set searching %s: %w", userID, err)
	}
	return nil
}
