package sqlxrepos

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/chat"
)

type rosterRepository struct {
	db core.DB
}

var (
	_ chat.Roster   = (*rosterRepository)(nil)
	_ chat.Enroller = (*rosterRepository)(nil)
)

func NewRosterRepository(db core.DB) *rosterRepository {
	return &rosterRepository{db: db}
}

// MembersOf returns the active students of a class along with its teacher.
func (repo *rosterRepository) MembersOf(ctx context.Context, classRef string) ([]string, error) {
	var exists bool
	if err := repo.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM class WHERE id = $1)`, classRef); err != nil {
		return nil, errors.Wrap(err, "checking class")
	}
	if !exists {
		return nil, chat.ErrUnknownClass
	}

	var ids []string
	err := repo.db.SelectContext(ctx, &ids,
		`SELECT user_id::text FROM class_enrollment WHERE class_id = $1 AND status = 'active'
		UNION
		SELECT teacher_id::text FROM class WHERE id = $1 AND teacher_id IS NOT NULL`,
		classRef,
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting class roster")
	}
	return ids, nil
}

// Enroll adds userID to a class roster, creating the class if it does not exist yet.
func (repo *rosterRepository) Enroll(ctx context.Context, classRef, className, userID string) error {
	return core.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO class (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			classRef, className); err != nil {
			return errors.Wrap(err, "inserting class")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO class_enrollment (class_id, user_id) VALUES ($1, $2)
			ON CONFLICT (class_id, user_id) DO UPDATE SET status = 'active'`,
			classRef, userID); err != nil {
			if code, _ := pqErrorCode(err); code == foreignKeyViolation {
				return errors.Wrapf(chat.ErrInvalidMembership, "unknown user %q", userID)
			}
			return errors.Wrap(err, "inserting enrollment")
		}
		return nil
	})
}
