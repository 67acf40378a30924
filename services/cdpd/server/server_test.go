package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"cdpchain/core/events"
	"cdpchain/core/types"
	"cdpchain/native/cdp"
	nativecommon "cdpchain/native/common"
	"cdpchain/services/cdpd/middleware"
	"cdpchain/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type testServer struct {
	t      *testing.T
	srv    *Server
	engine *cdp.Engine
	pauses *nativecommon.PauseSet
}

func newTestServer(t *testing.T, quota nativecommon.Quota) *testServer {
	t.Helper()
	params := cdp.DefaultParams()
	params.IssuanceBeta = 0
	feed := cdp.NewStaticPriceFeed(new(uint256.Int).Mul(uint256.NewInt(2000), cdp.DecimalPrecision))
	hub := NewHub(nil)
	engine, err := cdp.NewEngine(params, feed, cdp.WithEmitter(events.Multi{hub}))
	require.NoError(t, err)
	pauses := nativecommon.NewPauseSet(nil)
	engine.SetPauses(pauses)
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })

	srv, err := New(Config{
		Engine:    engine,
		Feed:      feed,
		Pauses:    pauses,
		Hub:       hub,
		Snapshots: db,
		Auth:      middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: testSecret, AllowAnonymous: true}, nil),
		Quota:     quota,
		Now:       func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return &testServer{t: t, srv: srv, engine: engine, pauses: pauses}
}

func token(t *testing.T, account common.Address, scopes string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   account.Hex(),
		"scope": scopes,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) do(method, path string, as *common.Address, scopes string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+token(ts.t, *as, scopes))
	}
	res := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(res, req)
	return res
}

func (ts *testServer) fund(account common.Address, amount string) {
	ts.t.Helper()
	res := ts.do(http.MethodPost, "/v1/admin/fund", &operator, middleware.ScopeAdmin, map[string]string{"account": account.Hex(), "amount": amount})
	require.Equal(ts.t, http.StatusOK, res.Code, res.Body.String())
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func TestOpenAndReadTrove(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	ts.fund(alice, "100")

	res := ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "100", "amount": "2000"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	opened := decode[troveJSON](t, res)
	require.Equal(t, "active", opened.Status)
	require.Equal(t, "2210", opened.Debt)
	require.Equal(t, "100", opened.Coll)

	res = ts.do(http.MethodGet, "/v1/troves/"+alice.Hex(), nil, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, opened, decode[troveJSON](t, res))

	res = ts.do(http.MethodGet, "/v1/troves/"+bob.Hex(), nil, "", nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res = ts.do(http.MethodGet, "/v1/troves/not-an-address", nil, "", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = ts.do(http.MethodGet, "/v1/system", nil, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	system := decode[systemJSON](t, res)
	require.Equal(t, 1, system.TroveCount)
	require.Equal(t, "normal", system.Mode)
	require.Equal(t, "2000", system.Price)

	res = ts.do(http.MethodGet, "/v1/accounts/"+alice.Hex(), nil, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "2000", decode[accountJSON](t, res).Stable)

	res = ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "1", "amount": "2000"})
	require.Equal(t, http.StatusConflict, res.Code)
}

func TestWriteRoutesRequireScopes(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	body := map[string]any{"coll": "100", "amount": "2000"}

	res := ts.do(http.MethodPost, "/v1/troves", nil, "", body)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = ts.do(http.MethodPost, "/v1/troves", &alice, "cdp:read", body)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = ts.do(http.MethodPost, "/v1/admin/price", &alice, middleware.ScopeWrite, map[string]string{"price": "1"})
	require.Equal(t, http.StatusForbidden, res.Code)

	res = ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "100", "amount": "2000", "extra": true})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestBorrowQuota(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{MaxBorrowPerWindow: 2500, WindowSeconds: 3600})
	ts.fund(alice, "100")

	res := ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "100", "amount": "2000"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = ts.do(http.MethodPost, "/v1/troves/adjust", &alice, middleware.ScopeWrite, map[string]any{"debtChange": "600", "isDebtIncrease": true})
	require.Equal(t, http.StatusTooManyRequests, res.Code)

	res = ts.do(http.MethodPost, "/v1/troves/adjust", &alice, middleware.ScopeWrite, map[string]any{"debtChange": "500", "isDebtIncrease": true})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "2712.5", decode[troveJSON](t, res).Debt)

	// Repayments do not count against the quota.
	res = ts.do(http.MethodPost, "/v1/troves/adjust", &alice, middleware.ScopeWrite, map[string]any{"debtChange": "100"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
}

func TestAdminControls(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	ts.fund(alice, "100")

	res := ts.do(http.MethodPost, "/v1/admin/pauses", &operator, middleware.ScopeAdmin, map[string]any{"module": cdp.ModuleTroves, "paused": true})
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, []string{cdp.ModuleTroves}, decode[map[string][]string](t, res)["paused"])

	res = ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "100", "amount": "2000"})
	require.Equal(t, http.StatusServiceUnavailable, res.Code)

	res = ts.do(http.MethodPost, "/v1/admin/pauses", &operator, middleware.ScopeAdmin, map[string]any{"module": "cdp.unknown", "paused": true})
	require.Equal(t, http.StatusBadRequest, res.Code)

	ts.do(http.MethodPost, "/v1/admin/pauses", &operator, middleware.ScopeAdmin, map[string]any{"module": " CDP.Troves ", "paused": false})
	res = ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "100", "amount": "2000"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = ts.do(http.MethodPost, "/v1/admin/price", &operator, middleware.ScopeAdmin, map[string]string{"price": "0"})
	require.Equal(t, http.StatusOK, res.Code)
	res = ts.do(http.MethodGet, "/v1/system", nil, "", nil)
	require.Equal(t, http.StatusServiceUnavailable, res.Code)

	ts.do(http.MethodPost, "/v1/admin/price", &operator, middleware.ScopeAdmin, map[string]string{"price": "2000"})
	res = ts.do(http.MethodPost, "/v1/admin/snapshots", &operator, middleware.ScopeAdmin, nil)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	res = ts.do(http.MethodGet, "/v1/admin/snapshots", &operator, middleware.ScopeAdmin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	snaps := decode[[]snapshotJSON](t, res)
	require.Len(t, snaps, 1)
	require.Len(t, snaps[0].Checksum, 64)
}

func TestLiquidationAndStabilityRoutes(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	ts.fund(alice, "100")
	ts.fund(bob, "2")

	res := ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "100", "amount": "5000"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	res = ts.do(http.MethodPost, "/v1/troves", &bob, middleware.ScopeWrite, map[string]any{"coll": "2", "amount": "1800"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = ts.do(http.MethodPost, "/v1/stability/deposit", &alice, middleware.ScopeWrite, map[string]any{"amount": "3000"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "3000", decode[accountJSON](t, res).Deposit)

	res = ts.do(http.MethodPost, "/v1/liquidations", &alice, middleware.ScopeWrite, map[string]any{"borrower": bob.Hex()})
	require.Equal(t, http.StatusConflict, res.Code)

	ts.do(http.MethodPost, "/v1/admin/price", &operator, middleware.ScopeAdmin, map[string]string{"price": "1000"})
	res = ts.do(http.MethodPost, "/v1/liquidations", &alice, middleware.ScopeWrite, map[string]any{"count": 10})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	totals := decode[liquidationJSON](t, res)
	require.Equal(t, []string{bob.Hex()}, totals.Liquidated)
	require.Equal(t, "2009", totals.DebtOffset)

	res = ts.do(http.MethodPost, "/v1/liquidations", &alice, middleware.ScopeWrite, map[string]any{"count": 10})
	require.Equal(t, http.StatusConflict, res.Code)

	res = ts.do(http.MethodPost, "/v1/liquidations", &alice, middleware.ScopeWrite, map[string]any{})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestExportTroves(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	ts.fund(alice, "100")
	res := ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "100", "amount": "2000"})
	require.Equal(t, http.StatusCreated, res.Code)

	res = ts.do(http.MethodGet, "/v1/exports/troves/csv", nil, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Len(t, res.Header().Get("X-Checksum-SHA256"), 64)
	require.Contains(t, res.Header().Get("Content-Disposition"), "troves-20240501T093000Z.csv")
	lines := strings.Split(strings.TrimSpace(res.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], alice.Hex())

	res = ts.do(http.MethodGet, "/v1/exports/troves/parquet", nil, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, bytes.HasPrefix(res.Body.Bytes(), []byte("PAR1")))

	res = ts.do(http.MethodGet, "/v1/exports/troves/xml", nil, "", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/v1/events/ws?types=" + events.TypeTroveUpdated
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool { return ts.srv.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.fund(alice, "100")
	res := ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "100", "amount": "2000"})
	require.Equal(t, http.StatusCreated, res.Code)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev types.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, events.TypeTroveUpdated, ev.Type)
	require.Equal(t, alice.Hex(), ev.Attributes["borrower"])
	require.Equal(t, string(events.TroveOpOpen), ev.Attributes["operation"])
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	hub := NewHub(nil)
	sub, cancel := hub.subscribe(nil)
	defer cancel()
	for i := 0; i <= subscriberBuffer; i++ {
		hub.Emit(events.TroveUpdated{Borrower: alice, Debt: new(uint256.Int), Coll: new(uint256.Int), Stake: new(uint256.Int)})
	}
	require.Zero(t, hub.Subscribers())
	select {
	case <-sub.dropped:
	default:
		t.Fatal("expected subscriber to be dropped")
	}
}

func TestStakeAndTransferRoutes(t *testing.T) {
	ts := newTestServer(t, nativecommon.Quota{})
	ts.fund(alice, "100")
	res := ts.do(http.MethodPost, "/v1/troves", &alice, middleware.ScopeWrite, map[string]any{"coll": "100", "amount": "2000"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = ts.do(http.MethodPost, "/v1/staking/stake", &bob, middleware.ScopeWrite, map[string]any{"amount": "1000000000"})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())
	require.Contains(t, res.Body.String(), cdp.ErrInsufficientBalance.Error())

	res = ts.do(http.MethodPost, "/v1/accounts/transfer", &alice, middleware.ScopeWrite, map[string]any{"to": cdp.GasPoolAddress.Hex(), "amount": "1"})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())
	require.Contains(t, res.Body.String(), cdp.ErrInvalidAccount.Error())

	bobBech32, err := types.FormatAccount(bob)
	require.NoError(t, err)
	res = ts.do(http.MethodPost, "/v1/accounts/transfer", &alice, middleware.ScopeWrite, map[string]any{"to": bobBech32, "amount": "15"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	view := decode[accountJSON](t, res)
	require.Equal(t, "1985", view.Stable)
	aliceBech32, err := types.FormatAccount(alice)
	require.NoError(t, err)
	require.Equal(t, aliceBech32, view.Bech32)
	require.Equal(t, "15", cdp.FormatDecimal(ts.engine.StableBalance(bob)))
}
