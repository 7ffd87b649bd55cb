package conversation

import (
	"homework_bot/internal/chat"
	"homework_bot/internal/domain"
)

var actionTitles = map[MenuAction]string{
	ActionUploadHomework:   "Submit homework",
	ActionUploadTest:       "Submit test",
	ActionReview:           "Submissions on review",
	ActionCreateAssignment: "Create assignment",
	ActionViewAssignments:  "Assignments",
}

var roleActions = map[domain.Role][]MenuAction{
	domain.RoleStudent:   {ActionUploadHomework, ActionUploadTest},
	domain.RoleAssistant: {ActionReview, ActionViewAssignments},
	domain.RoleTeacher:   {ActionReview, ActionCreateAssignment, ActionViewAssignments},
	domain.RoleAdmin:     {ActionUploadHomework, ActionUploadTest, ActionReview, ActionCreateAssignment, ActionViewAssignments},
}

// Menu lists the actions offered to the user. Test submission is offered
// only while the user has an enabled test assignment.
func Menu(user *domain.BotUser, hasTestAssignments bool) []MenuAction {
	var out []MenuAction
	for _, a := range roleActions[user.Role] {
		if a == ActionUploadTest && !hasTestAssignments {
			continue
		}
		out = append(out, a)
	}
	return out
}

func allowed(user *domain.BotUser, action MenuAction) bool {
	for _, a := range roleActions[user.Role] {
		if a == action {
			return true
		}
	}
	return false
}

func menuKeyboard(actions []MenuAction) *chat.Keyboard {
	buttons := make([]chat.Button, 0, len(actions))
	for _, a := range actions {
		buttons = append(buttons, chat.Button{
			Text: actionTitles[a],
			Data: ValueIntent(IntentMenu, string(a)).Data(),
		})
	}
	return chat.Column(buttons...)
}
