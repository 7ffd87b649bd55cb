package conversation

type State string

const (
	StateStart                      State = "start"
	StateGroupRequested             State = "group_requested"
	StateNameRequested              State = "name_requested"
	StateGithubLoginRequested       State = "github_login_requested"
	StateKnown                      State = "known"
	StateWaitSelectAssignment       State = "wait_select_assignment"
	StateWaitSelectTask             State = "wait_select_task"
	StateWaitFile                   State = "wait_file"
	StateWaitGroupForNewAssignment  State = "wait_group_for_new_assignment"
	StateWaitAssignmentType         State = "wait_assignment_type"
	StateWaitAssignmentName         State = "wait_assignment_name"
	StateWaitCatalogLink            State = "wait_catalog_link"
	StateWaitEnableAssignment       State = "wait_enable_assignment"
	StateWaitGroupForAssignmentList State = "wait_group_for_assignments_list"
	StateSelectAssignmentToManage   State = "select_assignment_to_manage"
	StateWaitCommandForAssignment   State = "wait_command_for_assignment"
)

var allStates = []State{
	StateStart,
	StateGroupRequested,
	StateNameRequested,
	StateGithubLoginRequested,
	StateKnown,
	StateWaitSelectAssignment,
	StateWaitSelectTask,
	StateWaitFile,
	StateWaitGroupForNewAssignment,
	StateWaitAssignmentType,
	StateWaitAssignmentName,
	StateWaitCatalogLink,
	StateWaitEnableAssignment,
	StateWaitGroupForAssignmentList,
	StateSelectAssignmentToManage,
	StateWaitCommandForAssignment,
}

func (s State) IsValid() bool {
	for _, v := range allStates {
		if v == s {
			return true
		}
	}
	return false
}
