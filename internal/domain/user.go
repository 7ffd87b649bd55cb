package domain

type Role string

const (
	RoleStudent   Role = "student"
	RoleAssistant Role = "assistant"
	RoleTeacher   Role = "teacher"
	RoleAdmin     Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleAssistant, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsStaff reports whether the role belongs to the teaching staff.
func (r Role) IsStaff() bool {
	switch r {
	case RoleAssistant, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

type BotUser struct {
	ID             int64   `db:"id"`
	FirstName      string  `db:"first_name"`
	LastName       string  `db:"last_name"`
	Role           Role    `db:"role"`
	TelegramLogin  *string `db:"telegram_login"`
	TelegramChatID *int64  `db:"telegram_chat_id"`
	GithubLogin    *string `db:"github_login"`
}

func (u *BotUser) FullName() string {
	return u.LastName + " " + u.FirstName
}

func (u *BotUser) IsStaff() bool {
	return u.Role.IsStaff()
}

type Group struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

type RemoteRepository struct {
	ID      int64  `db:"id"`
	OwnerID int64  `db:"owner_id"`
	Name    string `db:"name"`
	URL     string `db:"url"`
}

// RepoRef addresses a repository on the version-control host.
type RepoRef struct {
	Owner         string
	Name          string
	URL           string
	DefaultBranch string
}
