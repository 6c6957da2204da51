package gateway

// Role determines the grants a join credential carries
type Role string

const (
	RoleCaller      Role = "caller"
	RoleAgent       Role = "agent"
	RoleParticipant Role = "participant"
)

// grants are the room permissions attached to a credential
type grants struct {
	CanPublish     bool
	CanSubscribe   bool
	CanPublishData bool
}

// grantsForRole maps a role to its room permissions. Callers can speak and
// listen but not push data messages; agents get the full set.
func grantsForRole(role Role) grants {
	switch role {
	case RoleAgent:
		return grants{CanPublish: true, CanSubscribe: true, CanPublishData: true}
	case RoleCaller, RoleParticipant:
		return grants{CanPublish: true, CanSubscribe: true, CanPublishData: false}
	default:
		return grants{CanPublish: true, CanSubscribe: true, CanPublishData: false}
	}
}
