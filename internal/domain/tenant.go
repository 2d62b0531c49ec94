package domain

import "strings"

// Columns of the tenant credentials sheet.
const (
	ColPhoneNumberID = "Phone Number ID"
	ColAccessToken   = "Access Token"
	ColSheetCRMID    = "Sheet CRM ID"
	ColRoleID        = "Role ID"
	ColBusinessName  = "Business Name"
	ColStatus        = "Status"
	ColRoleQualifier = "Role Qualifier ID"
	ColRoleMeeting   = "Role Meeting ID"
	ColRoleTracking  = "Role Tracking ID"
)

// Tenant is one business served by the gateway, read from the credentials sheet.
type Tenant struct {
	RoutingID      string            `json:"routingId"`
	DisplayName    string            `json:"displayName,omitempty"`
	Active         bool              `json:"active"`
	AccessToken    string            `json:"-"`
	CRMStoreRef    string            `json:"crmStoreRef,omitempty"`
	InstructionRef string            `json:"instructionRef,omitempty"`
	RoleDocs       map[string]string `json:"roleDocs,omitempty"` // role column -> doc id
	Raw            map[string]string `json:"-"`
	Fingerprint    string            `json:"fingerprint,omitempty"`
}

// HasChannelCredentials reports whether the tenant carries what a WhatsApp
// turn needs: a routing id, an access token and an instruction doc.
func (t Tenant) HasChannelCredentials() bool {
	return t.RoutingID != "" && t.AccessToken != "" && t.InstructionRef != ""
}

// RoleDoc returns the doc id stored under a role column, if any.
func (t Tenant) RoleDoc(column string) string {
	if t.RoleDocs == nil {
		return ""
	}
	return strings.TrimSpace(t.RoleDocs[column])
}

var truthy = map[string]bool{
	"true":      true,
	"1":         true,
	"yes":       true,
	"si":        true,
	"sí":        true,
	"verdadero": true,
	"activo":    true,
}

// IsActiveValue interprets a status cell. Sheets renders checkboxes as
// TRUE/FALSE, humans type "si" or "1".
func IsActiveValue(v string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(v))]
}
