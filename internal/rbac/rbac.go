package rbac

type Role string
type Action string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleReviewer    Role = "reviewer"
	RoleManager     Role = "manager"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead          Action = "read"
	ActionUpload        Action = "upload"
	ActionCreatePR      Action = "create_pr"
	ActionReview        Action = "review"
	ActionCreateProject Action = "create_project"
	ActionAdmin         Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action != ActionAdmin
	case RoleReviewer:
		return action == ActionRead || action == ActionUpload || action == ActionCreatePR || action == ActionReview
	case RoleContributor:
		return action == ActionRead || action == ActionUpload || action == ActionCreatePR
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleContributor, RoleReviewer, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
