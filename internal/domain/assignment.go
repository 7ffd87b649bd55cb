package domain

import "time"

type AssignmentType string

const (
	AssignmentTypeHomework AssignmentType = "homework"
	AssignmentTypeTest     AssignmentType = "test"
)

func (t AssignmentType) IsValid() bool {
	switch t {
	case AssignmentTypeHomework, AssignmentTypeTest:
		return true
	default:
		return false
	}
}

type Assignment struct {
	ID         int64          `db:"id"`
	Name       string         `db:"name"`
	Type       AssignmentType `db:"type"`
	GroupID    int64          `db:"group_id"`
	GroupName  string         `db:"group_name"`
	Seq        int            `db:"seq"`
	IsEnabled  bool           `db:"is_enabled"`
	CatalogURL string         `db:"catalog_url"`
	OwnerID    int64          `db:"owner_id"`
	CreatedAt  time.Time      `db:"created_at"`
}

// CatalogEntry is one cached task statement. Entries are never updated:
// changed statements come with a new catalog id.
type CatalogEntry struct {
	CatalogID string `db:"catalog_id"`
	TaskID    int    `db:"task_id"`
	Content   string `db:"content"`
}
