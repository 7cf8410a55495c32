package models

// Staff roles.
const (
	RoleAdmin   = "ADMIN"
	RoleCashier = "CASHIER"
)

// StaffSession is what a staff login returns and what gets cached on the
// device between reloads.
type StaffSession struct {
	Token      string `json:"token"`
	StaffID    int64  `json:"staffId"`
	Role       string `json:"role"`
	MerchantID *int64 `json:"merchantId,omitempty"`
}

// SessionContext carries the authenticated staff identity plus the location
// the operator selected before scanning. It is owned by the merchant screen
// and handed by reference to the stamp client; the scanner controller never
// owns it.
type SessionContext struct {
	StaffID    int64
	Role       string
	MerchantID *int64
	LocationID int64 // zero until the operator selects a location
	AuthToken  string
}

// Context builds a SessionContext for stamping at the given location.
func (s StaffSession) Context(locationID int64) *SessionContext {
	return &SessionContext{
		StaffID:    s.StaffID,
		Role:       s.Role,
		MerchantID: s.MerchantID,
		LocationID: locationID,
		AuthToken:  s.Token,
	}
}

// CustomerLoginRequest is the "login light" payload: any one identifying
// field is enough, the server creates the customer on first sight.
type CustomerLoginRequest struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
}

// Customer is the identity cached on the customer device.
type Customer struct {
	CustomerID int64   `json:"customerId"`
	Name       *string `json:"name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	ProviderID *string `json:"providerId,omitempty"`
	Created    bool    `json:"created"`
}
