package repository

import (
	"context"

	"github.com/georgysavva/scany/v2/pgxscan"

	"homework_bot/internal/domain"
)

const selectUser = `
SELECT
	u.id, u.first_name, u.last_name, u.role,
	u.telegram_login, u.telegram_chat_id, u.github_login
FROM bot_users u
`

type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.BotUser, error) {
	var user domain.BotUser
	if err := pgxscan.Get(ctx, r.db, &user, selectUser+`WHERE u.id = $1`, id); err != nil {
		return nil, handleError(err)
	}
	return &user, nil
}

func (r *UserRepository) GetByChatID(ctx context.Context, chatID int64) (*domain.BotUser, error) {
	var user domain.BotUser
	if err := pgxscan.Get(ctx, r.db, &user, selectUser+`WHERE u.telegram_chat_id = $1`, chatID); err != nil {
		return nil, handleError(err)
	}
	return &user, nil
}

// GetByGithubLogin matches the login case-insensitively, as GitHub does.
func (r *UserRepository) GetByGithubLogin(ctx context.Context, login string) (*domain.BotUser, error) {
	var user domain.BotUser
	if err := pgxscan.Get(ctx, r.db, &user, selectUser+`WHERE LOWER(u.github_login) = LOWER($1)`, login); err != nil {
		return nil, handleError(err)
	}
	return &user, nil
}

func (r *UserRepository) ListGroups(ctx context.Context) ([]domain.Group, error) {
	var groups []domain.Group
	if err := pgxscan.Select(ctx, r.db, &groups, `SELECT id, name FROM groups ORDER BY name`); err != nil {
		return nil, handleError(err)
	}
	return groups, nil
}

func (r *UserRepository) GetGroup(ctx context.Context, id int64) (*domain.Group, error) {
	var group domain.Group
	if err := pgxscan.Get(ctx, r.db, &group, `SELECT id, name FROM groups WHERE id = $1`, id); err != nil {
		return nil, handleError(err)
	}
	return &group, nil
}

func (r *UserRepository) ListUserGroups(ctx context.Context, userID int64) ([]domain.Group, error) {
	query := `
SELECT g.id, g.name
FROM groups g
JOIN group_members m ON m.group_id = g.id
WHERE m.user_id = $1
ORDER BY g.name
`
	var groups []domain.Group
	if err := pgxscan.Select(ctx, r.db, &groups, query, userID); err != nil {
		return nil, handleError(err)
	}
	return groups, nil
}

// ListUnregisteredStudents returns the students of a group that have not
// bound a chat yet.
func (r *UserRepository) ListUnregisteredStudents(ctx context.Context, groupID int64) ([]domain.BotUser, error) {
	query := selectUser + `
JOIN group_members m ON m.user_id = u.id
WHERE m.group_id = $1 AND u.role = $2 AND u.telegram_chat_id IS NULL
ORDER BY u.last_name, u.first_name
`
	var users []domain.BotUser
	if err := pgxscan.Select(ctx, r.db, &users, query, groupID, domain.RoleStudent); err != nil {
		return nil, handleError(err)
	}
	return users, nil
}

type CompleteRegistrationInput struct {
	UserID         int64
	TelegramChatID int64
	TelegramLogin  *string
	GithubLogin    string
}

func (r *UserRepository) CompleteRegistration(ctx context.Context, input *CompleteRegistrationInput) (*domain.BotUser, error) {
	query := `
UPDATE bot_users
SET telegram_chat_id = $1, telegram_login = $2, github_login = $3
WHERE id = $4
RETURNING id, first_name, last_name, role, telegram_login, telegram_chat_id, github_login
`
	var user domain.BotUser
	err := pgxscan.Get(ctx, r.db, &user, query,
		input.TelegramChatID,
		input.TelegramLogin,
		input.GithubLogin,
		input.UserID,
	)
	if err != nil {
		return nil, handleError(err)
	}
	return &user, nil
}

// ListStaffForAuthor returns staff sharing at least one group with the
// author. The author is left out unless includeAuthor is set.
func (r *UserRepository) ListStaffForAuthor(ctx context.Context, authorID int64, includeAuthor bool) ([]domain.BotUser, error) {
	query := selectUser + `
WHERE u.role IN ($1, $2, $3)
	AND ($5 OR u.id <> $4)
	AND EXISTS (
		SELECT 1
		FROM group_members staff
		JOIN group_members author ON author.group_id = staff.group_id
		WHERE staff.user_id = u.id AND author.user_id = $4
	)
ORDER BY u.id
`
	var users []domain.BotUser
	err := pgxscan.Select(ctx, r.db, &users, query,
		domain.RoleAssistant, domain.RoleTeacher, domain.RoleAdmin,
		authorID, includeAuthor,
	)
	if err != nil {
		return nil, handleError(err)
	}
	return users, nil
}
