package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/service/webhook"
	"github.com/storelane/fulfillment-api/pkg/metrics"
)

// HeaderSignature carries the provider signature in the form
// "t=<unix>,v1=<hex hmac-sha256 of "<unix>.<body>">".
const HeaderSignature = "Webhook-Signature"

// Processor is the slice of the webhook processor the handler needs.
type Processor interface {
	Process(ctx context.Context, event model.ExternalEvent) webhook.ProcessResult
}

type Config struct {
	Secret            string
	Tolerance         time.Duration
	DuplicateCacheTTL time.Duration
}

// Handler is the ingress boundary. It verifies authenticity, answers before
// the provider's delivery deadline and maps processor outcomes to transport
// codes: success stops redelivery, server error invites it.
type Handler struct {
	processor Processor
	config    Config
	// recent holds event IDs answered as terminal. Purely a fast path for
	// redelivery storms; correctness rests on the ledger claim alone.
	recent  *gocache.Cache
	metrics *metrics.Metrics
	nowFunc func() time.Time
}

func NewHandler(processor Processor, config Config, metrics *metrics.Metrics) *Handler {
	if config.Tolerance <= 0 {
		config.Tolerance = 5 * time.Minute
	}
	if config.DuplicateCacheTTL <= 0 {
		config.DuplicateCacheTTL = 10 * time.Minute
	}
	return &Handler{
		processor: processor,
		config:    config,
		recent:    gocache.New(config.DuplicateCacheTTL, 2*config.DuplicateCacheTTL),
		metrics:   metrics,
		nowFunc:   time.Now,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/payment", h.HandleWebhook)
}

func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
		return
	}

	if err := h.verifySignature(c.GetHeader(HeaderSignature), body); err != nil {
		h.metrics.SignatureRejections.Inc()
		log.Warn().
			Err(err).
			Str("client_ip", c.ClientIP()).
			Msg("webhook signature rejected")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid signature"})
		return
	}

	var event model.ExternalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed event"})
		return
	}
	if event.ID == "" || event.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "event id and type are required"})
		return
	}

	if _, seen := h.recent.Get(event.ID); seen {
		h.metrics.WebhookDuplicates.Inc()
		c.JSON(http.StatusOK, gin.H{"status": string(webhook.OutcomeAlreadyProcessed)})
		return
	}

	result := h.processor.Process(c.Request.Context(), event)

	switch result.Status {
	case webhook.OutcomeProcessed, webhook.OutcomeAlreadyProcessed:
		h.recent.SetDefault(event.ID, struct{}{})
		c.JSON(http.StatusOK, gin.H{"status": string(result.Status)})
	default:
		// Internal detail stays internal; the provider only needs to know
		// to redeliver.
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "processing failed"})
	}
}

// verifySignature checks the timestamped HMAC. The timestamp bound keeps a
// captured payload from being replayed outside the tolerance window; the
// comparison is constant-time.
func (h *Handler) verifySignature(header string, body []byte) error {
	if h.config.Secret == "" {
		return fmt.Errorf("webhook secret not configured")
	}
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	var timestamp int64
	var signature string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid signature timestamp")
			}
			timestamp = ts
		case "v1":
			signature = value
		}
	}
	if timestamp == 0 || signature == "" {
		return fmt.Errorf("incomplete signature header")
	}

	age := h.nowFunc().Sub(time.Unix(timestamp, 0))
	if age > h.config.Tolerance || age < -h.config.Tolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(h.config.Secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
