package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"homework_bot/internal/errdefs"
)

// IntentKind is the prefix of button callback data.
type IntentKind string

const (
	IntentGroup            IntentKind = "group"
	IntentStudent          IntentKind = "student"
	IntentMenu             IntentKind = "menu"
	IntentAssignment       IntentKind = "assignment"
	IntentTask             IntentKind = "task"
	IntentNewAssignmentIn  IntentKind = "new_in"
	IntentAssignmentType   IntentKind = "type"
	IntentEnable           IntentKind = "enable"
	IntentListGroup        IntentKind = "list_in"
	IntentManageAssignment IntentKind = "manage"
	IntentManageCommand    IntentKind = "manage_cmd"
)

type MenuAction string

const (
	ActionUploadHomework   MenuAction = "upload_homework"
	ActionUploadTest       MenuAction = "upload_test"
	ActionReview           MenuAction = "review"
	ActionCreateAssignment MenuAction = "create_assignment"
	ActionViewAssignments  MenuAction = "view_assignments"
)

type ManageCommand string

const (
	ManageToggle ManageCommand = "toggle"
	ManageReview ManageCommand = "review"
)

// payload values accepted per kind; nil means a positive integer id.
var intentValues = map[IntentKind][]string{
	IntentGroup:            nil,
	IntentStudent:          nil,
	IntentMenu:             {string(ActionUploadHomework), string(ActionUploadTest), string(ActionReview), string(ActionCreateAssignment), string(ActionViewAssignments)},
	IntentAssignment:       nil,
	IntentTask:             nil,
	IntentNewAssignmentIn:  nil,
	IntentAssignmentType:   {"homework", "test"},
	IntentEnable:           {"yes", "no"},
	IntentListGroup:        nil,
	IntentManageAssignment: nil,
	IntentManageCommand:    {string(ManageToggle), string(ManageReview)},
}

// Intent is a parsed button press. Exactly one of ID and Value is set,
// depending on the kind.
type Intent struct {
	Kind  IntentKind
	ID    int64
	Value string
}

func IDIntent(kind IntentKind, id int64) Intent {
	return Intent{Kind: kind, ID: id}
}

func ValueIntent(kind IntentKind, value string) Intent {
	return Intent{Kind: kind, Value: value}
}

// Data encodes the intent as callback data.
func (i Intent) Data() string {
	if i.Value != "" {
		return string(i.Kind) + ":" + i.Value
	}
	return string(i.Kind) + ":" + strconv.FormatInt(i.ID, 10)
}

func ParseIntent(data string) (Intent, error) {
	prefix, payload, ok := strings.Cut(data, ":")
	if !ok {
		return Intent{}, fmt.Errorf("%w: %q", errdefs.ErrUnknownIntent, data)
	}

	kind := IntentKind(prefix)
	values, known := intentValues[kind]
	if !known {
		return Intent{}, fmt.Errorf("%w: %q", errdefs.ErrUnknownIntent, data)
	}

	if values == nil {
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil || id <= 0 {
			return Intent{}, fmt.Errorf("%w: bad id in %q", errdefs.ErrValidation, data)
		}
		return IDIntent(kind, id), nil
	}

	for _, v := range values {
		if v == payload {
			return ValueIntent(kind, payload), nil
		}
	}
	return Intent{}, fmt.Errorf("%w: bad value in %q", errdefs.ErrValidation, data)
}
