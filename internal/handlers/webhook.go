package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SheetWithoutShit/sws-collector/internal/auth"
	"github.com/SheetWithoutShit/sws-collector/internal/mcc"
	"github.com/SheetWithoutShit/sws-collector/internal/storage"
	"github.com/SheetWithoutShit/sws-collector/models"
)

// costsConverter scales provider money fields (integer hundredths) into
// currency units.
const costsConverter = 100.0

// webhookPayload is the subset of the provider statement the collector
// consumes.
type webhookPayload struct {
	Data struct {
		StatementItem struct {
			ID             string `json:"id"`
			Amount         int64  `json:"amount"`
			Balance        int64  `json:"balance"`
			CashbackAmount int64  `json:"cashbackAmount"`
			Description    string `json:"description"`
			MCC            int    `json:"mcc"`
			Time           int64  `json:"time"`
		} `json:"statementItem"`
	} `json:"data"`
}

// TransactionCreator persists one statement exactly once.
type TransactionCreator interface {
	CreateTransaction(ctx context.Context, userID int64, mccCode int, stmt models.Statement) error
}

// CodeValidator reports whether a merchant category code is known.
type CodeValidator interface {
	Validate(ctx context.Context, code int) bool
}

// Dispatcher fans an accepted transaction out without blocking the caller.
type Dispatcher interface {
	Enqueue(userID int64, stmt models.Statement)
}

// Subscriber adopts upgraded websocket connections.
type Subscriber interface {
	HandleConn(conn *websocket.Conn)
}

// Collector handles the provider webhook and the live subscription endpoint.
type Collector struct {
	secret     []byte
	store      TransactionCreator
	validator  CodeValidator
	dispatcher Dispatcher
	hub        Subscriber
	log        zerolog.Logger
}

// NewCollector wires the webhook handler with its collaborators. secret is
// the shared key webhook tokens are signed with.
func NewCollector(
	secret []byte,
	store TransactionCreator,
	validator CodeValidator,
	dispatcher Dispatcher,
	hub Subscriber,
	log zerolog.Logger,
) *Collector {
	return &Collector{
		secret:     secret,
		store:      store,
		validator:  validator,
		dispatcher: dispatcher,
		hub:        hub,
		log:        log,
	}
}

// Webhook receives one transaction statement from the provider. Only an
// authentication failure changes the HTTP status the provider sees; duplicate
// and store failures are reported in the body with a 200 so the provider's
// redelivery policy is never triggered by downstream problems.
func (h *Collector) Webhook(c *gin.Context) {
	userID, err := auth.Decode(c.Param("token"), h.secret)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Forbidden. The provided token is not correct.",
		})
		return
	}

	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Wrong input. Can't deserialize body input.",
		})
		return
	}
	item := payload.Data.StatementItem
	if item.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Wrong input. The statement item id is missing.",
		})
		return
	}

	stmt := models.Statement{
		ID:        item.ID,
		Amount:    float64(item.Amount) / costsConverter,
		Balance:   float64(item.Balance) / costsConverter,
		Cashback:  float64(item.CashbackAmount) / costsConverter,
		Info:      item.Description,
		MCC:       item.MCC,
		Timestamp: item.Time,
	}

	ctx := c.Request.Context()
	mccCode := stmt.MCC
	if !h.validator.Validate(ctx, mccCode) {
		mccCode = mcc.UnknownCode
	}

	if err := h.store.CreateTransaction(ctx, userID, mccCode, stmt); err != nil {
		if errors.Is(err, storage.ErrTransactionExists) {
			c.JSON(http.StatusOK, gin.H{
				"success": false,
				"message": fmt.Sprintf("Failure. The transaction=%s already exists.", stmt.ID),
			})
			return
		}
		h.log.Error().Err(err).
			Int64("user_id", userID).
			Str("transaction_id", stmt.ID).
			Msg("could not create transaction")
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "Failure. Failed to create transaction.",
		})
		return
	}

	h.dispatcher.Enqueue(userID, stmt)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "A transaction was inserted successfully.",
		"data": gin.H{
			"user_id":     userID,
			"transaction": stmt,
		},
	})
}
