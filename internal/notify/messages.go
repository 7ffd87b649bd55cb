package notify

import (
	"fmt"

	"homework_bot/internal/chat"
	"homework_bot/internal/domain"
)

func msgPublished(s *subject) string {
	return fmt.Sprintf("A new [pull request](%s) has been created for task №%d \\(*%s*\\)\\. Have a look\\.",
		s.pullURL, s.submission.TaskID, chat.Escape(s.assignment.Name))
}

func msgPublishedStaff(s *subject) string {
	return fmt.Sprintf("🎁\nA new solution has arrived\\!\nTask *№%d* \\(%s\\)\nStudent: *%s*\n[Link](%s)",
		s.submission.TaskID, chat.Escape(s.assignment.Name), chat.Escape(s.author.FullName()), s.pullURL)
}

func msgNeedwork(s *subject) string {
	return fmt.Sprintf("🤔\nTask *№%d* \\(%s\\) needs some fixes\\.\n[Link](%s)",
		s.submission.TaskID, chat.Escape(s.assignment.Name), s.pullURL)
}

func msgAccepted(s *subject) string {
	return fmt.Sprintf("🎉\nTask *№%d* \\(*%s*\\) has been accepted\\.\nHave a look, there may be a useful comment\\.\n[Link](%s)",
		s.submission.TaskID, chat.Escape(s.assignment.Name), s.pullURL)
}

func msgStudentComment(s *subject, student *domain.BotUser) string {
	return fmt.Sprintf("[Comment](%s) from %s on task №%d \\(%s\\)\\.",
		s.pullURL, chat.Escape(student.FullName()), s.submission.TaskID, chat.Escape(s.assignment.Name))
}

func msgStudentPush(s *subject, student *domain.BotUser) string {
	return fmt.Sprintf("%s pushed changes to task №%d \\(%s\\)\\.\n[Link](%s)\\.",
		chat.Escape(student.FullName()), s.submission.TaskID, chat.Escape(s.assignment.Name), s.pullURL)
}

func msgInviteSent(repoURL string) string {
	return fmt.Sprintf("A [new repository](%s) has been created for you on GitHub\\. "+
		"To get access, *accept the invitation* sent to the email address from your GitHub profile\\.", repoURL)
}

func msgBadEncoding(submissionID int64) string {
	return fmt.Sprintf("Bad encoding\\. Submission id: %d", submissionID)
}
