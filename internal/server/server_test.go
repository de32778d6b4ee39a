package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scavenger-game-server/internal/app"
	"scavenger-game-server/internal/catalog"
	"scavenger-game-server/internal/events"
	"scavenger-game-server/internal/hub"
	"scavenger-game-server/internal/model"
	"scavenger-game-server/internal/replay"
	"scavenger-game-server/internal/scan"
	"scavenger-game-server/internal/scoring"
	"scavenger-game-server/internal/session"
)

const serverTokens = `{
	"jaw001": {"SF_RFID": "jaw001", "SF_ValueRating": 3, "SF_MemoryType": "Technical", "SF_Group": "jaw group (x2)"},
	"jaw002": {"SF_RFID": "jaw002", "SF_ValueRating": 4, "SF_MemoryType": "Business", "SF_Group": "jaw group (x2)"},
	"rat001": {"SF_RFID": "rat001", "SF_ValueRating": 5, "SF_MemoryType": "Personal"}
}`

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()

	cat, err := catalog.Parse([]byte(serverTokens))
	require.NoError(t, err)
	schedule := scoring.NewSchedule(
		map[int]int64{1: 100, 2: 500, 3: 400, 4: 1000, 5: 10000},
		map[string]float64{"personal": 1.0, "business": 3.0, "technical": 5.0},
	)
	bus := events.NewBus()
	processor := scan.NewProcessor(cat, schedule, bus, nil)
	sessions := session.NewManager(nil, bus, 0)
	registry := hub.NewRegistry(sessions, processor, 10)

	a := app.New(app.Params{
		Bus:        bus,
		Catalog:    cat,
		Processor:  processor,
		Sessions:   sessions,
		Registry:   registry,
		Coalescer:  hub.NewCoalescer(0, func([]hub.ScoreSnapshot) {}),
		Reconciler: replay.NewReconciler(processor),
	})
	a.Setup()
	t.Cleanup(a.Teardown)

	ts := httptest.NewServer(New(a).Handler())
	t.Cleanup(ts.Close)
	return ts, a
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createSession(t *testing.T, ts *httptest.Server) hub.SessionResource {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/session", map[string]any{
		"action": "create",
		"name":   "test game",
		"teams":  []string{"001", "002"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[hub.SessionResource](t, resp)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/up")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestScanEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/scan", map[string]string{
		"tokenId": "rat001", "teamId": "001", "deviceId": "scanner-01", "mode": "blackmarket",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[scan.Result](t, resp)
	assert.Equal(t, model.StatusAccepted, result.Status)
	assert.Equal(t, int64(10000), result.Points)
	assert.NotEmpty(t, result.TransactionID)
}

func TestScanEndpointDuplicate(t *testing.T) {
	ts, _ := newTestServer(t)
	createSession(t, ts)

	body := map[string]string{
		"tokenId": "rat001", "teamId": "001", "deviceId": "scanner-01", "mode": "blackmarket",
	}
	resp := postJSON(t, ts.URL+"/api/scan", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/scan", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[scan.Result](t, resp)
	assert.Equal(t, model.StatusDuplicate, result.Status)
	assert.Zero(t, result.Points)
}

func TestScanEndpointRejections(t *testing.T) {
	ts, _ := newTestServer(t)
	createSession(t, ts)

	t.Run("unknown token", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/scan", map[string]string{
			"tokenId": "ghost", "teamId": "001", "deviceId": "scanner-01", "mode": "blackmarket",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		result := decodeBody[scan.Result](t, resp)
		assert.Equal(t, model.StatusRejected, result.Status)
		assert.Equal(t, model.ErrCodeTokenNotFound, result.ErrorCode)
	})

	t.Run("malformed payload", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/scan", "application/json", bytes.NewReader([]byte("{")))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		wireErr := decodeBody[hub.WireError](t, resp)
		assert.Equal(t, model.ErrCodeInvalidRequest, wireErr.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/scan")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestBatchEndpoint(t *testing.T) {
	ts, a := newTestServer(t)
	createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/scan/batch", map[string]any{
		"deviceId": "scanner-01",
		"transactions": []map[string]string{
			{"tokenId": "jaw001", "teamId": "001", "mode": "blackmarket"},
			{"tokenId": "jaw002", "teamId": "001", "mode": "blackmarket"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ack := decodeBody[replay.BatchAck](t, resp)
	assert.True(t, ack.Ack)
	assert.Equal(t, 2, ack.Received)

	score, ok := a.Processor.TeamScore("001")
	require.True(t, ok)
	assert.Equal(t, int64(10000), score.CurrentScore(), "base 5000 plus group bonus 5000")
}

func TestBatchEndpointRequiresDeviceID(t *testing.T) {
	ts, _ := newTestServer(t)
	createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/scan/batch", map[string]any{
		"transactions": []map[string]string{
			{"tokenId": "jaw001", "teamId": "001", "mode": "blackmarket"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	wireErr := decodeBody[hub.WireError](t, resp)
	assert.Equal(t, model.ErrCodeValidation, wireErr.Code)
}

func TestStateEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	created := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/scan", map[string]string{
		"tokenId": "rat001", "teamId": "001", "deviceId": "scanner-01", "mode": "blackmarket",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	stateResp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, stateResp.StatusCode)

	type stateBody struct {
		Session          *hub.SessionResource `json:"session"`
		Scores           []hub.ScoreSnapshot  `json:"scores"`
		TransactionCount int                  `json:"transactionCount"`
	}
	state := decodeBody[stateBody](t, stateResp)

	require.NotNil(t, state.Session)
	assert.Equal(t, created.ID, state.Session.ID)
	require.Len(t, state.Scores, 1)
	assert.Equal(t, int64(10000), state.Scores[0].CurrentScore)
	assert.Equal(t, 1, state.TransactionCount)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)
	createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/session", map[string]string{"action": "pause"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	paused := decodeBody[hub.SessionResource](t, resp)
	assert.Equal(t, "paused", paused.Status)

	resp = postJSON(t, ts.URL+"/api/session", map[string]string{"action": "resume"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resumed := decodeBody[hub.SessionResource](t, resp)
	assert.Equal(t, "active", resumed.Status)

	resp = postJSON(t, ts.URL+"/api/session", map[string]string{"action": "end"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ended := decodeBody[hub.SessionResource](t, resp)
	assert.Equal(t, "ended", ended.Status, "completed collapses to ended on the wire")
}

func TestSessionCommandErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	t.Run("no session", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/session", map[string]string{"action": "pause"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		wireErr := decodeBody[hub.WireError](t, resp)
		assert.Equal(t, model.ErrCodeSessionNotFound, wireErr.Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/session", map[string]string{"action": "explode"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("invalid transition", func(t *testing.T) {
		createSession(t, ts)
		resp := postJSON(t, ts.URL+"/api/session", map[string]string{"action": "resume"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestResetOverHTTP(t *testing.T) {
	ts, a := newTestServer(t)
	createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/scan", map[string]string{
		"tokenId": "rat001", "teamId": "001", "deviceId": "scanner-01", "mode": "blackmarket",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/session", map[string]string{"action": "reset"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Nil(t, a.Sessions.Current())
	assert.Equal(t, 0, a.Processor.TransactionCount())
	assert.True(t, a.Wired())
}
