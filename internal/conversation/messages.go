package conversation

import (
	"fmt"
	"strings"
	"time"

	"homework_bot/internal/chat"
	"homework_bot/internal/domain"
)

// Static texts are MarkdownV2 and already escaped.
const (
	msgMenu                = "Available commands:"
	msgWelcome             = "Nice to meet you\\! Choose what to do:"
	msgWaitASecond         = "One second\\.\\.\\."
	msgCheckingGithub      = "One second\\. Checking\\.\\.\\."
	msgErrorRetry          = "😢 Something went wrong\\. Please try again\\.\nIf nothing helps, press /cancel\\."
	msgFallback            = "You are doing something I do not expect right now 😬\\.\nTry /cancel to start over\\."
	msgFromWhatGroup       = "Let's get acquainted\\! Which group are you from?"
	msgUnavailableForGroup = "The bot is not available for this group yet, or everybody is already registered\\. Try again later\\."
	msgSelectYourself      = "Great\\! Find yourself among the students of the group:"
	msgSendGithub          = "Send me your login on github\\.com"
	msgCannotCheckGithub   = "I cannot check your GitHub account right now\\.\nTry again a bit later\\."
	msgGithubTaken         = "This GitHub account is already registered by another student\\. Send another login\\."
	msgNoAssignments       = "Nothing to submit yet\\. Have a rest\\."
	msgSelectHomework      = "Which homework do you want to submit?"
	msgSelectTest          = "Which test do you want to submit?"
	msgSendFile            = "Send me one file with the solved task\\."
	msgFileUploaded        = "Your submission is being processed\\. It may take a while ⏳"
	msgAlreadySubmitted    = "This task has already been submitted\\."
	msgNoGroups            = "You are not a member of any group\\. Contact the administrator\\."
	msgSelectGroup         = "Select a group:"
	msgSelectType          = "Which kind of assignment do you want to create?"
	msgSendCatalogLink     = "Send me the link to the gist with the tasks\\."
	msgBadCatalogLink      = "This does not look like a gist link\\. Try again\\."
	msgDownloadingCatalog  = "One second\\. Downloading the gist\\.\\.\\."
	msgBadCatalog          = "Something is wrong with this gist\\. Try again\\."
	msgEmptyCatalog        = "Could not find a single task in this gist\\. Try another one\\."
	msgAssignmentEnabled   = "The assignment is enabled and visible to students\\."
	msgAssignmentDisabled  = "The assignment stays disabled\\."
	msgNoAssignmentsYet    = "No assignments have been created yet\\."
	msgAssignmentList      = "Assignments:"
	msgNothingToReview     = "Nothing to review\\."
	msgEmptyName           = "The name cannot be empty\\. Try again\\."

	noticeDone         = "Done!"
	noticeOwnerOnly    = "Only the owner of the assignment can change it"
	noticeNotAvailable = "This command is not available to you"
)

func msgNoGithubAccount(login string) string {
	return fmt.Sprintf("There is no such account on GitHub: *%s*\nLooks like a typo 😔\nTry again", chat.Escape(login))
}

func msgWrongFileFormat(extensions []string) string {
	return fmt.Sprintf("The file does not look like a solution\\. Send a file with one of the extensions: %s",
		chat.Escape(strings.Join(extensions, ", ")))
}

func msgSelectTask(catalogURL string) string {
	return fmt.Sprintf("Which task do you want to submit?\nAll tasks are [here](%s)", catalogURL)
}

func msgAssignmentName(t domain.AssignmentType) string {
	if t == domain.AssignmentTypeTest {
		return "Enter a readable name for the test"
	}
	return "Enter a readable name for the homework"
}

func msgTasksFound(n int) string {
	return fmt.Sprintf("Tasks found: %d", n)
}

func msgAssignmentCreated(a *domain.Assignment, tasks int) string {
	return fmt.Sprintf("A new assignment has been created\\.\n\n"+
		"Type: *%s*\\.\nName: *%s*\\.\nSequence number: *%d*\\.\nGroup: *%s*\\.\nTasks: *%d*\\.\nGist: %s\n\n"+
		"Students do not see the assignment yet\\. *Enable it*?",
		chat.Escape(string(a.Type)), chat.Escape(a.Name), a.Seq, chat.Escape(a.GroupName), tasks, chat.Escape(a.CatalogURL))
}

func msgAssignmentInfo(a *domain.Assignment, tasks int, byStatus map[domain.SubmissionStatus]int) string {
	return fmt.Sprintf("Name: *%s*\\.\nType: *%s*\\.\nSequence number: *%d*\\.\nGroup: *%s*\\.\nTasks: *%d*\\.\nGist: %s\n\n"+
		"*Submissions by status:*\n \\- review: %d\n \\- needwork: %d\n \\- accepted: %d",
		chat.Escape(a.Name), chat.Escape(string(a.Type)), a.Seq, chat.Escape(a.GroupName), tasks, chat.Escape(a.CatalogURL),
		byStatus[domain.SubmissionStatusReview], byStatus[domain.SubmissionStatusNeedwork], byStatus[domain.SubmissionStatusAccepted])
}

func msgMe(fullName, username string, chatID int64) string {
	return fmt.Sprintf("Telegram name: *%s*\nTelegram login: *%s*\nTelegram ID: `%d`",
		chat.Escape(fullName), chat.Escape(username), chatID)
}

func msgMeKnown(fullName, username string, chatID int64, user *domain.BotUser, groups []domain.Group) string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	github := ""
	if user.GithubLogin != nil {
		github = *user.GithubLogin
	}
	return msgMe(fullName, username, chatID) + fmt.Sprintf("\n\nGroups: *%s*\nGitHub login: `%s`\nName in the register: *%s*",
		chat.Escape(strings.Join(names, ",")), chat.Escape(github), chat.Escape(user.FullName()))
}

func msgAdminError(user *domain.BotUser, username string, err error) string {
	who := "unknown user"
	if user != nil {
		who = user.FullName()
	}
	text := err.Error()
	if len(text) > 800 {
		text = text[len(text)-800:]
	}
	return chat.Escape(fmt.Sprintf("Error for user %s (@%s)\n\n%s", who, username, text))
}

func taskLine(item domain.ReviewItem, counter int) string {
	prefix := "➜ "
	if counter > 0 {
		prefix += fmt.Sprintf("%d\\. ", counter)
	}
	return fmt.Sprintf("%s[Task №%d / %s](%s)", prefix, item.TaskID, chat.Escape(item.AuthorName), item.PullURL)
}

const staleReviewDays = 3

// ElapsedMarker formats how long a submission has waited: days, with an
// exclamation mark past the stale threshold, or hours. Under an hour
// yields "".
func ElapsedMarker(elapsed time.Duration) string {
	days := int(elapsed / (24 * time.Hour))
	hours := int(elapsed/time.Hour) % 24
	switch {
	case days > staleReviewDays:
		return fmt.Sprintf("%dd❗️", days)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return ""
	}
}
