package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"carimbai/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrCardInactive = errors.New("card is not active")
	ErrNoReward     = errors.New("no reward available")
)

// Staff is a merchant staff account.
type Staff struct {
	ID         int64  `yaml:"id"`
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`
	Role       string `yaml:"role"`
	MerchantID *int64 `yaml:"merchantId"`
}

// CardRecord is a stamp card plus its owner.
type CardRecord struct {
	models.Card
	CustomerID int64
}

// StoredResponse is a replayable response kept per idempotency key so
// duplicate submissions of one attempt collapse into one effect.
type StoredResponse struct {
	Status int
	Body   json.RawMessage
}

// Store is the dev server's persistence boundary. The in-memory
// implementation below is the default; a Postgres one is selected when
// DATABASE_URL is set.
type Store interface {
	StaffByEmail(ctx context.Context, email string) (*Staff, error)
	FindCustomer(ctx context.Context, req models.CustomerLoginRequest) (*models.Customer, error)
	CreateCustomer(ctx context.Context, req models.CustomerLoginRequest) (*models.Customer, error)
	Card(ctx context.Context, cardID int64) (*CardRecord, error)
	CardsByCustomer(ctx context.Context, customerID int64) ([]models.Card, error)
	// AddStamp increments the card's stamp count and reports whether this
	// stamp completed the card and issued its reward.
	AddStamp(ctx context.Context, cardID int64) (*CardRecord, bool, error)
	// RedeemReward consumes the card's earned reward and resets its stamps.
	RedeemReward(ctx context.Context, cardID int64) (stampsAfter int, err error)
	IdempotentResponse(ctx context.Context, key string) (*StoredResponse, error)
	SaveIdempotentResponse(ctx context.Context, key string, resp StoredResponse) error
}

// MemoryStore holds everything in process, wondertwin-style.
type MemoryStore struct {
	mu             sync.Mutex
	staff          map[int64]*Staff
	customers      map[int64]*models.Customer
	cards          map[int64]*CardRecord
	responses      map[string]StoredResponse
	nextCustomerID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		staff:          map[int64]*Staff{},
		customers:      map[int64]*models.Customer{},
		cards:          map[int64]*CardRecord{},
		responses:      map[string]StoredResponse{},
		nextCustomerID: 1,
	}
}

func (m *MemoryStore) StaffByEmail(_ context.Context, email string) (*Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.staff {
		if s.Email == email {
			out := *s
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindCustomer(_ context.Context, req models.CustomerLoginRequest) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Same precedence as the Postgres store: providerId, then email, then
	// phone, each scanned in id order so the match is deterministic.
	ids := make([]int64, 0, len(m.customers))
	for id := range m.customers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	matchers := []func(c *models.Customer) bool{
		func(c *models.Customer) bool {
			return req.ProviderID != "" && c.ProviderID != nil && *c.ProviderID == req.ProviderID
		},
		func(c *models.Customer) bool {
			return req.Email != "" && c.Email != nil && *c.Email == req.Email
		},
		func(c *models.Customer) bool {
			return req.Phone != "" && c.Phone != nil && *c.Phone == req.Phone
		},
	}

	for _, match := range matchers {
		for _, id := range ids {
			if c := m.customers[id]; match(c) {
				out := *c
				return &out, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateCustomer(_ context.Context, req models.CustomerLoginRequest) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	customer := &models.Customer{CustomerID: m.nextCustomerID}
	m.nextCustomerID++
	if req.Name != "" {
		customer.Name = &req.Name
	}
	if req.Email != "" {
		customer.Email = &req.Email
	}
	if req.Phone != "" {
		customer.Phone = &req.Phone
	}
	if req.ProviderID != "" {
		customer.ProviderID = &req.ProviderID
	}
	m.customers[customer.CustomerID] = customer
	out := *customer
	return &out, nil
}

func (m *MemoryStore) Card(_ context.Context, cardID int64) (*CardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *card
	return &out, nil
}

func (m *MemoryStore) CardsByCustomer(_ context.Context, customerID int64) ([]models.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cards []models.Card
	for _, c := range m.cards {
		if c.CustomerID == customerID {
			cards = append(cards, c.Card)
		}
	}
	return cards, nil
}

func (m *MemoryStore) AddStamp(_ context.Context, cardID int64) (*CardRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if card.Status != models.CardActive {
		return nil, false, ErrCardInactive
	}

	rewardIssued := false
	if card.StampsCount < card.StampsNeeded {
		card.StampsCount++
		if card.StampsCount == card.StampsNeeded {
			card.HasReward = true
			rewardIssued = true
		}
	}
	out := *card
	return &out, rewardIssued, nil
}

func (m *MemoryStore) RedeemReward(_ context.Context, cardID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok {
		return 0, ErrNotFound
	}
	if !card.HasReward {
		return 0, ErrNoReward
	}
	card.HasReward = false
	card.StampsCount = 0
	return card.StampsCount, nil
}

func (m *MemoryStore) IdempotentResponse(_ context.Context, key string) (*StoredResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.responses[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &resp, nil
}

func (m *MemoryStore) SaveIdempotentResponse(_ context.Context, key string, resp StoredResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = resp
	return nil
}

// PutStaff and PutCard exist for seeding and tests.
func (m *MemoryStore) PutStaff(s Staff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := s
	m.staff[s.ID] = &copied
}

func (m *MemoryStore) PutCard(c CardRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := c
	m.cards[c.CardID] = &copied
}

func (m *MemoryStore) PutCustomer(c models.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := c
	m.customers[c.CustomerID] = &copied
	if c.CustomerID >= m.nextCustomerID {
		m.nextCustomerID = c.CustomerID + 1
	}
}
