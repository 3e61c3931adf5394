package leads

import "strings"

// Ref points at a CRM lead. A zero LeadID means no lead is available and CRM
// mutations must be skipped.
type Ref struct {
	LeadID    int64 `json:"lead_id"`
	ContactID int64 `json:"contact_id"`
	Created   bool  `json:"created"`
}

// HasLead reports whether the reference names a lead that can be mutated.
func (r Ref) HasLead() bool {
	return r.LeadID != 0
}

// ResolveRequest asks for the lead belonging to a phone number.
type ResolveRequest struct {
	Phone       string
	Name        string
	AllowCreate bool
	// Source names the lead when one has to be created.
	Source string
}

// Validate validates the resolve request
func (r ResolveRequest) Validate() error {
	if strings.TrimSpace(r.Phone) == "" {
		return ErrMissingPhone
	}
	return nil
}
