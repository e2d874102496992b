package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartermile/ledgerd/pkg/auth"
	"github.com/quartermile/ledgerd/pkg/config"
	"github.com/quartermile/ledgerd/pkg/dashboard"
	"github.com/quartermile/ledgerd/pkg/ledger"
	"github.com/quartermile/ledgerd/pkg/mail"
	"github.com/quartermile/ledgerd/pkg/platform"
	"github.com/quartermile/ledgerd/pkg/syncstate"
)

func testConfig(t *testing.T, platformURL string) *config.Config {
	t.Helper()

	cfg := config.Config{}
	cfg.Ledger.Backend = "csv"
	cfg.Ledger.File = filepath.Join(t.TempDir(), "sales.csv")
	cfg.Reports.Share = 0.10
	cfg.Reports.Dir = t.TempDir()
	cfg.Reports.TopCustomers = 10
	cfg.Log.Level = "error"
	cfg.HTTP.BaseURL = "http://ledgerd.test"
	cfg.Platform.BaseURL = platformURL
	cfg.Platform.Token = "test-token"
	cfg.Platform.DefaultPlan = "free"
	cfg.Mail.Encryption = "STARTTLS"
	return &cfg
}

func testApp(t *testing.T, cfg *config.Config) tally {
	t.Helper()

	state, err := syncstate.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	auth.Init()
	require.NoError(t, mail.Init(cfg))

	store := ledger.OpenCSV(cfg.Ledger.File)
	return tally{
		Store:    store,
		State:    state,
		Dash:     dashboard.New(store, cfg.Reports.Share, cfg.Reports.TopCustomers),
		Platform: platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Token),
		Cfg:      cfg,
	}
}

type fakePlatform struct {
	URL string

	down    int32
	creates int32
}

// setDown toggles the outage flag; while down the fake replies with a 400
// (a status the client doesn't retry, which keeps tests fast)
func (f *fakePlatform) setDown(down bool) {
	var flag int32
	if down {
		flag = 1
	}
	atomic.StoreInt32(&f.down, flag)
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()

	fake := &fakePlatform{}
	users := map[string]platform.User{}
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&fake.down) != 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodGet:
			result := []platform.User{}
			if user, found := users[r.URL.Query().Get("email")]; found {
				result = append(result, user)
			}
			json.NewEncoder(w).Encode(result)
		case http.MethodPost:
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			user := platform.User{
				ID:    payload["id"].(string),
				Email: payload["email"].(string),
				Plan:  payload["plan"].(string),
			}
			users[user.Email] = user
			atomic.AddInt32(&fake.creates, 1)
			json.NewEncoder(w).Encode(user)
		}
	})
	mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&fake.down) != 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(platform.User{ID: r.URL.Path[len("/users/"):]})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	fake.URL = srv.URL
	return fake
}

func postEvent(app tally, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/crm", bytes.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	recorder := httptest.NewRecorder()
	app.HandleWebhook(recorder, req)
	return recorder
}

func validEvent(id string) []byte {
	return []byte(`{
		"id": "` + id + `",
		"purchase": {
			"first_name": "Jo",
			"last_name": "Doe",
			"email": "jo@example.com",
			"product_name": "Go Course",
			"plan": "pro",
			"purchase_type": "course",
			"amount": 49.9,
			"date": "2026-03-14"
		}
	}`)
}

func TestHandleWebhook(t *testing.T) {
	t.Run("processes a purchase end to end", func(t *testing.T) {
		srv := newFakePlatform(t)
		cfg := testConfig(t, srv.URL)
		app := testApp(t, cfg)

		recorder := postEvent(app, validEvent("evt-1"), nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		var response struct {
			Status string              `json:"status"`
			ID     string              `json:"id"`
			Detail platform.SyncResult `json:"detail"`
		}
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, "ok", response.Status)
		assert.Equal(t, "evt-1", response.ID)
		assert.Equal(t, "created", response.Detail.Action)

		sales, err := app.Store.All(context.Background())
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, "jo@example.com", sales[0].Email)
		assert.Equal(t, "course", sales[0].PurchaseType)
		assert.InDelta(t, 49.9, sales[0].Amount, 0.0001)
		assert.Equal(t, "2026-03-14", sales[0].Date.Format(ledger.DateFormat))

		record, err := app.State.GetUser(context.Background(), "jo@example.com")
		require.NoError(t, err)
		assert.Equal(t, response.Detail.UserID, record.PlatformID)
		assert.Equal(t, "pro", record.Plan)
	})

	t.Run("acknowledges duplicates without reprocessing", func(t *testing.T) {
		srv := newFakePlatform(t)
		cfg := testConfig(t, srv.URL)
		app := testApp(t, cfg)

		require.Equal(t, http.StatusOK, postEvent(app, validEvent("evt-1"), nil).Code)

		recorder := postEvent(app, validEvent("evt-1"), nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Contains(t, recorder.Body.String(), `"duplicate"`)

		sales, err := app.Store.All(context.Background())
		require.NoError(t, err)
		assert.Len(t, sales, 1)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		app := testApp(t, testConfig(t, "http://unused.test"))

		recorder := postEvent(app, []byte("{nope"), nil)
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "invalid JSON")
	})

	t.Run("requires an email", func(t *testing.T) {
		app := testApp(t, testConfig(t, "http://unused.test"))

		recorder := postEvent(app, []byte(`{"id":"x","purchase":{"amount":5}}`), nil)
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("falls back to the product name and default plan", func(t *testing.T) {
		srv := newFakePlatform(t)
		cfg := testConfig(t, srv.URL)
		app := testApp(t, cfg)

		body := []byte(`{"id":"evt-2","purchase":{"email":"jo@example.com","product_name":"Go Course","amount":10}}`)
		require.Equal(t, http.StatusOK, postEvent(app, body, nil).Code)

		sales, err := app.Store.All(context.Background())
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, "Go Course", sales[0].PurchaseType)

		record, err := app.State.GetUser(context.Background(), "jo@example.com")
		require.NoError(t, err)
		assert.Equal(t, "free", record.Plan)
	})

	t.Run("keeps the sale when the platform is down", func(t *testing.T) {
		srv := newFakePlatform(t)
		srv.setDown(true)
		app := testApp(t, testConfig(t, srv.URL))

		recorder := postEvent(app, validEvent("evt-3"), nil)
		assert.Equal(t, http.StatusBadGateway, recorder.Code)

		sales, err := app.Store.All(context.Background())
		require.NoError(t, err)
		assert.Len(t, sales, 1)
	})

	t.Run("redelivery after a failed sync retries without double-appending", func(t *testing.T) {
		srv := newFakePlatform(t)
		cfg := testConfig(t, srv.URL)
		app := testApp(t, cfg)

		srv.setDown(true)
		recorder := postEvent(app, validEvent("evt-4"), nil)
		require.Equal(t, http.StatusBadGateway, recorder.Code)

		sales, err := app.Store.All(context.Background())
		require.NoError(t, err)
		require.Len(t, sales, 1)

		// the CRM redelivers once the platform recovers; the sale must not
		// be appended a second time but the user still has to be created
		srv.setDown(false)
		recorder = postEvent(app, validEvent("evt-4"), nil)
		require.Equal(t, http.StatusOK, recorder.Code)

		var response struct {
			Status string              `json:"status"`
			Detail platform.SyncResult `json:"detail"`
		}
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, "ok", response.Status)
		assert.Equal(t, "created", response.Detail.Action)

		sales, err = app.Store.All(context.Background())
		require.NoError(t, err)
		assert.Len(t, sales, 1)
		assert.EqualValues(t, 1, atomic.LoadInt32(&srv.creates))

		record, err := app.State.GetUser(context.Background(), "jo@example.com")
		require.NoError(t, err)
		assert.Equal(t, response.Detail.UserID, record.PlatformID)

		// only now is the event fully processed
		recorder = postEvent(app, validEvent("evt-4"), nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Contains(t, recorder.Body.String(), `"duplicate"`)
	})

	t.Run("a failed append leaves the event unseen", func(t *testing.T) {
		srv := newFakePlatform(t)
		cfg := testConfig(t, srv.URL)
		cfg.Ledger.File = filepath.Join(t.TempDir(), "missing", "sales.csv")
		app := testApp(t, cfg)

		recorder := postEvent(app, validEvent("evt-5"), nil)
		assert.Equal(t, http.StatusInternalServerError, recorder.Code)

		stage, err := app.State.EventStage(context.Background(), "evt-5")
		require.NoError(t, err)
		assert.Equal(t, "", stage)
	})
}

func TestHandleWebhook_Signatures(t *testing.T) {
	sign := func(secret string, body []byte) string {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		return hex.EncodeToString(mac.Sum(nil))
	}

	srv := newFakePlatform(t)
	cfg := testConfig(t, srv.URL)
	cfg.Webhook.Secret = "hush"
	app := testApp(t, cfg)

	t.Run("rejects missing signatures", func(t *testing.T) {
		recorder := postEvent(app, validEvent("evt-1"), nil)
		assert.Equal(t, http.StatusForbidden, recorder.Code)
	})

	t.Run("rejects bad signatures", func(t *testing.T) {
		recorder := postEvent(app, validEvent("evt-1"), map[string]string{
			SignatureHeader: sign("wrong-secret", validEvent("evt-1")),
		})
		assert.Equal(t, http.StatusForbidden, recorder.Code)
	})

	t.Run("accepts valid signatures", func(t *testing.T) {
		body := validEvent("evt-1")
		recorder := postEvent(app, body, map[string]string{
			SignatureHeader: sign("hush", body),
		})
		assert.Equal(t, http.StatusOK, recorder.Code)
	})
}
