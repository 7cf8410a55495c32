package storage

import (
	"encoding/json"

	"carimbai/models"
)

// Fixed cache keys, shared with the original web client so a migrated
// device keeps its identity.
const (
	staffSessionKey = "carimbai_staff_session"
	customerKey     = "carimbai_customer"
)

// LoadStaffSession returns the cached staff session, or nil when none is
// cached. An unreadable cache entry is treated as absent, not fatal.
func LoadStaffSession(s Store) (*models.StaffSession, error) {
	raw, ok, err := s.Get(staffSessionKey)
	if err != nil || !ok {
		return nil, err
	}
	var session models.StaffSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, nil
	}
	if session.Token == "" {
		return nil, nil
	}
	return &session, nil
}

func SaveStaffSession(s Store, session models.StaffSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.Set(staffSessionKey, raw)
}

func ClearStaffSession(s Store) error {
	return s.Remove(staffSessionKey)
}

// LoadCustomer returns the cached customer identity, or nil when none.
func LoadCustomer(s Store) (*models.Customer, error) {
	raw, ok, err := s.Get(customerKey)
	if err != nil || !ok {
		return nil, err
	}
	var customer models.Customer
	if err := json.Unmarshal(raw, &customer); err != nil {
		return nil, nil
	}
	if customer.CustomerID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func SaveCustomer(s Store, customer models.Customer) error {
	raw, err := json.Marshal(customer)
	if err != nil {
		return err
	}
	return s.Set(customerKey, raw)
}

func ClearCustomer(s Store) error {
	return s.Remove(customerKey)
}
