package devserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carimbai/models"
)

// Handler serves the loyalty endpoints the client consumes.
type Handler struct {
	store  Store
	signer *Signer

	// Bearer sessions are process-local regardless of the backing store;
	// a dev restart logs everyone out, which is fine here.
	sessionMu sync.Mutex
	sessions  map[string]Staff
}

func NewHandler(store Store, signer *Signer) *Handler {
	return &Handler{
		store:    store,
		signer:   signer,
		sessions: map[string]Staff{},
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	staff, err := h.store.StaffByEmail(c, req.Email)
	if err != nil || staff.Password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token := uuid.NewString()
	h.sessionMu.Lock()
	h.sessions[token] = *staff
	h.sessionMu.Unlock()

	log.Printf("Staff login: id=%d role=%s", staff.ID, staff.Role)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"staffId":    staff.ID,
		"role":       staff.Role,
		"merchantId": staff.MerchantID,
	})
}

// RequireStaff guards the mutation endpoints with bearer auth.
func (h *Handler) RequireStaff(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	h.sessionMu.Lock()
	staff, found := h.sessions[token]
	h.sessionMu.Unlock()
	if !found {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
		return
	}

	c.Set("staff", staff)
	c.Next()
}

func (h *Handler) IssueQR(c *gin.Context) {
	cardID, err := strconv.ParseInt(c.Param("cardId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card id"})
		return
	}

	card, err := h.store.Card(c, cardID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}

	token := h.signer.Issue(models.KindCustomerPresentation, card.CardID, time.Now())
	c.JSON(http.StatusOK, token)
}

func (h *Handler) ApplyStamp(c *gin.Context) {
	var req struct {
		Type    string `json:"type" binding:"required"`
		Payload struct {
			CardID int64  `json:"cardId" binding:"required"`
			Nonce  string `json:"nonce" binding:"required"`
			Exp    int64  `json:"exp" binding:"required"`
			Sig    string `json:"sig" binding:"required"`
		} `json:"payload" binding:"required"`
		LocationID int64 `json:"locationId"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Duplicate submissions of one attempt replay the first response.
	key := c.GetHeader("Idempotency-Key")
	if key != "" {
		if stored, err := h.store.IdempotentResponse(c, key); err == nil {
			log.Printf("Replaying idempotent response for key %s", key)
			c.Data(stored.Status, "application/json", stored.Body)
			return
		}
	}

	var kind string
	switch req.Type {
	case "CUSTOMER_QR":
		kind = models.KindCustomerPresentation
	case "STORE_QR":
		kind = models.KindStorePresentation
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stamp type"})
		return
	}

	p := req.Payload
	if p.Exp < time.Now().Unix() {
		c.JSON(http.StatusGone, gin.H{"error": "token expired"})
		return
	}
	if !h.signer.Verify(kind, p.CardID, p.Nonce, p.Exp, p.Sig) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token signature"})
		return
	}

	card, rewardIssued, err := h.store.AddStamp(c, p.CardID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		case errors.Is(err, ErrCardInactive):
			c.JSON(http.StatusConflict, gin.H{"error": "card is not active"})
		default:
			log.Printf("Error applying stamp to card %d: %v", p.CardID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply stamp"})
		}
		return
	}

	log.Printf("Stamp applied: card=%d stamps=%d/%d reward=%v location=%d",
		card.CardID, card.StampsCount, card.StampsNeeded, rewardIssued, req.LocationID)

	resp := gin.H{
		"ok":           true,
		"cardId":       card.CardID,
		"stamps":       card.StampsCount,
		"needed":       card.StampsNeeded,
		"rewardIssued": rewardIssued,
	}

	if key != "" {
		if body, err := json.Marshal(resp); err == nil {
			if err := h.store.SaveIdempotentResponse(c, key, StoredResponse{Status: http.StatusOK, Body: body}); err != nil {
				log.Printf("Warning: could not store idempotent response for key %s: %v", key, err)
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Redeem(c *gin.Context) {
	var req struct {
		CardID     int64 `json:"cardId" binding:"required"`
		LocationID int64 `json:"locationId"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stampsAfter, err := h.store.RedeemReward(c, req.CardID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		case errors.Is(err, ErrNoReward):
			c.JSON(http.StatusConflict, gin.H{"error": "no reward available on this card"})
		default:
			log.Printf("Error redeeming reward on card %d: %v", req.CardID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to redeem reward"})
		}
		return
	}

	rewardID := uuid.NewString()
	log.Printf("Reward redeemed: card=%d reward=%s location=%d", req.CardID, rewardID, req.LocationID)

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"rewardId":    rewardID,
		"cardId":      req.CardID,
		"stampsAfter": stampsAfter,
	})
}

func (h *Handler) CustomerLoginOrRegister(c *gin.Context) {
	var req models.CustomerLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Email == "" && req.Phone == "" && req.ProviderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email, phone or providerId is required"})
		return
	}

	customer, err := h.store.FindCustomer(c, req)
	created := false
	if errors.Is(err, ErrNotFound) {
		customer, err = h.store.CreateCustomer(c, req)
		created = err == nil
	}
	if err != nil {
		log.Printf("Error in customer login-or-register: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log customer in"})
		return
	}

	out := *customer
	out.Created = created
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CustomerCards(c *gin.Context) {
	customerID, err := strconv.ParseInt(c.Param("customerId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
		return
	}

	cards, err := h.store.CardsByCustomer(c, customerID)
	if err != nil {
		log.Printf("Error listing cards for customer %d: %v", customerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list cards"})
		return
	}
	if cards == nil {
		cards = []models.Card{}
	}

	c.JSON(http.StatusOK, gin.H{"cards": cards})
}
