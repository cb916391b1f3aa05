// Package access models who is calling and what they may touch.
package access

import "strings"

// Role is the closed set of caller kinds.
type Role string

const (
	Guest     Role = "GUEST"
	Usher     Role = "USHER"
	Vendor    Role = "VENDOR"
	Organizer Role = "ORGANIZER"
	Admin     Role = "ADMIN"
)

// ParseRole maps s onto a Role. Unknown or empty values become Guest.
func ParseRole(s string) Role {
	switch role := Role(strings.ToUpper(strings.TrimSpace(s))); role {
	case Usher, Vendor, Organizer, Admin:
		return role
	default:
		return Guest
	}
}

// Principal is the caller as resolved once per request.
type Principal struct {
	Username string
	Role     Role
	// VendorID scopes Usher and Vendor principals. Zero means unassigned.
	VendorID int64
	// TicketID is the guest's own ticket, resolved from the device. Zero when unknown.
	TicketID int64
}

// Anonymous is the principal used when the caller supplied no identity.
func Anonymous() Principal {
	return Principal{Username: "guest", Role: Guest}
}

// Unrestricted reports whether the principal may act on any vendor.
func (p Principal) Unrestricted() bool {
	return p.Role == Organizer || p.Role == Admin
}

// VendorScoped reports whether the principal is tied to a single vendor.
func (p Principal) VendorScoped() bool {
	return p.Role == Usher || p.Role == Vendor
}

// CanManageVendor reports whether the principal may change orders or status of vendorID.
func (p Principal) CanManageVendor(vendorID int64) bool {
	if p.Unrestricted() {
		return true
	}
	return p.VendorScoped() && p.VendorID != 0 && p.VendorID == vendorID
}

// OwnsTicket reports whether a guest principal holds ticketID.
func (p Principal) OwnsTicket(ticketID int64) bool {
	return p.TicketID != 0 && p.TicketID == ticketID
}

// Name returns the username for audit attribution.
func (p Principal) Name() string {
	if p.Username == "" {
		return string(p.Role)
	}
	return p.Username
}
