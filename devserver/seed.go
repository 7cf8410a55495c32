package devserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"carimbai/models"
)

// Seed is the fixture file loaded into the in-memory store on startup so a
// fresh dev server has staff, customers and cards to play with.
type Seed struct {
	Staff     []Staff        `yaml:"staff"`
	Customers []seedCustomer `yaml:"customers"`
	Cards     []seedCard     `yaml:"cards"`
}

type seedCustomer struct {
	ID         int64  `yaml:"id"`
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	Phone      string `yaml:"phone"`
	ProviderID string `yaml:"providerId"`
}

type seedCard struct {
	CardID       int64  `yaml:"cardId"`
	CustomerID   int64  `yaml:"customerId"`
	ProgramID    int64  `yaml:"programId"`
	ProgramName  string `yaml:"programName"`
	MerchantName string `yaml:"merchantName"`
	RewardName   string `yaml:"rewardName"`
	StampsCount  int    `yaml:"stampsCount"`
	StampsNeeded int    `yaml:"stampsNeeded"`
	Status       string `yaml:"status"`
	HasReward    bool   `yaml:"hasReward"`
}

// LoadSeed reads fixtures from a YAML file.
func LoadSeed(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Apply loads the fixtures into a memory store.
func (s *Seed) Apply(store *MemoryStore) {
	for _, staff := range s.Staff {
		if staff.Role == "" {
			staff.Role = models.RoleCashier
		}
		store.PutStaff(staff)
	}
	for _, c := range s.Customers {
		customer := models.Customer{CustomerID: c.ID}
		if c.Name != "" {
			name := c.Name
			customer.Name = &name
		}
		if c.Email != "" {
			email := c.Email
			customer.Email = &email
		}
		if c.Phone != "" {
			phone := c.Phone
			customer.Phone = &phone
		}
		if c.ProviderID != "" {
			provider := c.ProviderID
			customer.ProviderID = &provider
		}
		store.PutCustomer(customer)
	}
	for _, c := range s.Cards {
		status := c.Status
		if status == "" {
			status = models.CardActive
		}
		store.PutCard(CardRecord{
			Card: models.Card{
				CardID:       c.CardID,
				ProgramID:    c.ProgramID,
				ProgramName:  c.ProgramName,
				MerchantName: c.MerchantName,
				RewardName:   c.RewardName,
				StampsCount:  c.StampsCount,
				StampsNeeded: c.StampsNeeded,
				Status:       status,
				HasReward:    c.HasReward,
			},
			CustomerID: c.CustomerID,
		})
	}
}
