package shared

// Permission actions. An action is a verb applied to a subject; the pair
// (ActionManage, SubjectAll) is the super-admin wildcard and matches any
// requirement.
const (
	ActionManage    = "manage"
	ActionCreate    = "create"
	ActionRead      = "read"
	ActionUpdate    = "update"
	ActionDelete    = "delete"
	ActionReadAll   = "read_all"
	ActionUpdateAny = "update_any"
	ActionDeleteAny = "delete_any"
	ActionJoin      = "join"
	ActionLeave     = "leave"
	ActionManageOwn = "manage_own"
)

// Permission subjects.
const (
	SubjectAll      = "all"
	SubjectUser     = "User"
	SubjectPost     = "Post"
	SubjectComment  = "Comment"
	SubjectChatRoom = "ChatRoom"
)

// Default role names created at bootstrap.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)
