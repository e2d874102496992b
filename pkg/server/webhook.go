package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quartermile/ledgerd/pkg/ldlog"
	"github.com/quartermile/ledgerd/pkg/ledger"
	"github.com/quartermile/ledgerd/pkg/mail"
	"github.com/quartermile/ledgerd/pkg/platform"
	"github.com/quartermile/ledgerd/pkg/syncstate"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body
const SignatureHeader = "X-Ledgerd-Signature"

const maxEventSize = 1 << 20

type purchasePayload struct {
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Email        string  `json:"email"`
	ProductName  string  `json:"product_name"`
	Plan         string  `json:"plan"`
	PurchaseType string  `json:"purchase_type"`
	Amount       float64 `json:"amount"`
	Date         string  `json:"date"`
}

type webhookEvent struct {
	ID       string          `json:"id"`
	Purchase purchasePayload `json:"purchase"`
}

func validSignature(secret string, body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	received, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	return hmac.Equal(expected, received)
}

// HandleWebhook processes an incoming CRM purchase event: dedup, ledger
// append, platform user sync and the welcome mail.
func (t tally) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventSize))
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if t.Cfg.Webhook.Secret != "" {
		if !validSignature(t.Cfg.Webhook.Secret, body, r.Header.Get(SignatureHeader)) {
			ldlog.Log(ctx).Warn().Msg("Rejected webhook with bad signature")
			writeError(ctx, w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	var event webhookEvent
	err = json.Unmarshal(body, &event)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if event.Purchase.Email == "" {
		writeError(ctx, w, http.StatusBadRequest, "purchase.email is required")
		return
	}

	if event.ID == "" {
		// events without an id can't be deduplicated, so assign one
		event.ID = uuid.NewString()
	}

	stage, err := t.State.EventStage(ctx, event.ID)
	if err != nil {
		ldlog.Log(ctx).Error().Err(err).Msg("Failed to look up webhook event")
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	if stage == syncstate.StageDone {
		ldlog.Log(ctx).Info().Msgf("Skipping duplicate event %s", event.ID)
		writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "duplicate", "id": event.ID})
		return
	}

	if stage == syncstate.StageLedgered {
		// a redelivery after a failed platform sync; the sale is already in
		// the ledger, only the sync is outstanding
		ldlog.Log(ctx).Info().Msgf("Resuming platform sync for event %s", event.ID)
	} else {
		sale := ledger.Sale{
			EventID:      event.ID,
			Date:         time.Now().UTC(),
			Email:        event.Purchase.Email,
			PurchaseType: event.Purchase.PurchaseType,
			Amount:       event.Purchase.Amount,
		}
		if event.Purchase.Date != "" {
			date, err := time.Parse(ledger.DateFormat, event.Purchase.Date)
			if err != nil {
				date, err = time.Parse(time.RFC3339, event.Purchase.Date)
			}
			if err == nil {
				sale.Date = date
			}
		}
		if sale.PurchaseType == "" {
			sale.PurchaseType = event.Purchase.ProductName
		}
		if sale.PurchaseType == "" {
			sale.PurchaseType = "Unknown"
		}

		// the event stage is only advanced after the append succeeds, so a
		// failure here leaves the id unburned and the CRM can redeliver
		err = t.Store.Append(ctx, sale)
		if err != nil {
			ldlog.Log(ctx).Error().Err(err).Msg("Failed to append sale to ledger")
			writeError(ctx, w, http.StatusInternalServerError, "internal error")
			return
		}

		t.Dash.Invalidate()

		err = t.State.SetEventStage(ctx, event.ID, syncstate.StageLedgered)
		if err != nil {
			ldlog.Log(ctx).Warn().Err(err).Msgf("Failed to record stage for event %s", event.ID)
		}
	}

	contact := platform.Contact{
		FirstName: event.Purchase.FirstName,
		LastName:  event.Purchase.LastName,
		Email:     event.Purchase.Email,
		Product:   event.Purchase.ProductName,
		Plan:      event.Purchase.Plan,
	}
	if contact.Product == "" {
		contact.Product = "Unknown"
	}
	if contact.Plan == "" {
		contact.Plan = t.Cfg.Platform.DefaultPlan
	}

	// the sale is durable at this point; a failed sync leaves the event at
	// the ledgered stage so a redelivery retries only the sync
	result, err := t.Platform.Upsert(ctx, contact)
	if err != nil {
		ldlog.Log(ctx).Error().Err(err).Msgf("Failed to sync %s to the platform", contact.Email)
		writeError(ctx, w, http.StatusBadGateway, "platform sync failed")
		return
	}

	err = t.State.SetEventStage(ctx, event.ID, syncstate.StageDone)
	if err != nil {
		ldlog.Log(ctx).Warn().Err(err).Msgf("Failed to record stage for event %s", event.ID)
	}

	err = t.State.PutUser(ctx, contact.Email, syncstate.UserRecord{
		PlatformID: result.UserID,
		Plan:       contact.Plan,
		LastSynced: time.Now().UTC(),
	})
	if err != nil {
		ldlog.Log(ctx).Warn().Err(err).Msgf("Failed to record sync state for %s", contact.Email)
	}

	err = mail.SendWelcomeMail(ctx, t.Cfg, mail.WelcomeParams{
		To:        contact.Email,
		FirstName: contact.FirstName,
		Product:   contact.Product,
		Existing:  result.Action == "updated",
	})
	if err != nil {
		ldlog.Log(ctx).Warn().Err(err).Msgf("Failed to send welcome mail to %s", contact.Email)
	}

	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"id":     event.ID,
		"detail": result,
	})
}
