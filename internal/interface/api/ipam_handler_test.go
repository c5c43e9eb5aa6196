package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zinrai/ipam-staticip-go/internal/domain"
	"github.com/zinrai/ipam-staticip-go/internal/infrastructure/db"
	"github.com/zinrai/ipam-staticip-go/internal/infrastructure/memstore"
	"github.com/zinrai/ipam-staticip-go/internal/usecase"
)

func newRouter() *mux.Router {
	retrier := db.NewRetrier(db.RetryPolicy{Delay: time.Microsecond, Clock: clock.WallClock})
	r := mux.NewRouter()
	NewIPAMHandler(usecase.NewIPAMUseCase(memstore.New(), retrier)).Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type staticIPResponse struct {
	ID        int    `json:"id"`
	IP        string `json:"ip"`
	AllocType string `json:"alloc_type"`
}

func decodeStaticIPs(t *testing.T, rec *httptest.ResponseRecorder) []staticIPResponse {
	var out []staticIPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIPAMHandler(t *testing.T) {
	r := newRouter()

	rec := do(t, r, http.MethodPost, "/cluster-interfaces", `{
		"cluster_id": 1, "name": "eth0", "network": "10.0.0.0/24",
		"router_ip": "10.0.0.1", "static_range_low": "10.0.0.10", "static_range_high": "10.0.0.20"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ci struct {
		ID      int    `json:"id"`
		Network string `json:"network"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ci))
	assert.Equal(t, "10.0.0.0/24", ci.Network)

	rec = do(t, r, http.MethodPost, "/cluster-interfaces", `{
		"cluster_id": 1, "name": "eth0", "network": "fd00::/64",
		"static_range_low": "fd00::10", "static_range_high": "fd00::20"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, r, http.MethodGet, "/cluster-interfaces", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ifaces []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ifaces))
	assert.Len(t, ifaces, 2)

	rec = do(t, r, http.MethodPost, "/macs", `{"mac_address": "AA:BB:CC:DD:EE:01", "node": "node-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"mac_address":"aa:bb:cc:dd:ee:01"`)

	t.Run("claim before the cluster interface is known", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/macs/aa:bb:cc:dd:ee:01/static-ips", `{}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	rec = do(t, r, http.MethodPut, "/macs/aa:bb:cc:dd:ee:01/cluster-interface", `{"cluster_interface_id": 1}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	t.Run("requested address outside the static range", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/macs/aa:bb:cc:dd:ee:01/static-ips",
			`{"alloc_type": "sticky", "requested_address": "10.0.0.5"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("claim", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/macs/aa:bb:cc:dd:ee:01/static-ips", `{"alloc_type": "auto"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		sips := decodeStaticIPs(t, rec)
		require.Len(t, sips, 2)
		assert.Equal(t, "10.0.0.10", sips[0].IP)
		assert.Equal(t, "fd00::10", sips[1].IP)
		assert.Equal(t, "auto", sips[0].AllocType)
	})

	t.Run("type clash", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/macs/aa:bb:cc:dd:ee:01/static-ips", `{"alloc_type": "sticky"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown alloc type", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/macs/aa:bb:cc:dd:ee:01/static-ips", `{"alloc_type": "dynamic"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown MAC", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/macs/aa:bb:cc:dd:ee:99/static-ips", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("release", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/macs/aa:bb:cc:dd:ee:01/static-ips", "")
		require.Equal(t, http.StatusOK, rec.Code)
		sips := decodeStaticIPs(t, rec)
		require.Len(t, sips, 2)

		rec = do(t, r, http.MethodDelete, "/static-ips/"+strconv.Itoa(sips[0].ID), "")
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		rec = do(t, r, http.MethodDelete, "/static-ips/"+strconv.Itoa(sips[0].ID), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, r, http.MethodGet, "/macs/aa:bb:cc:dd:ee:01/static-ips", "")
		assert.Len(t, decodeStaticIPs(t, rec), 1)
	})

	t.Run("duplicate MAC", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/macs", `{"mac_address": "aa:bb:cc:dd:ee:01", "node": "node-2"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid cluster interface", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/cluster-interfaces", `{
			"cluster_id": 1, "name": "eth1", "network": "10.0.1.0/24",
			"static_range_low": "10.0.2.10", "static_range_high": "10.0.2.20"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not valid", errors.NotValidf("MAC address"), http.StatusBadRequest},
		{"out of range", errors.Trace(domain.ErrOutOfRange), http.StatusBadRequest},
		{"not found", errors.Annotate(domain.ErrNotFound, "MAC address"), http.StatusNotFound},
		{"type clash", domain.ErrTypeClash, http.StatusConflict},
		{"unavailable", domain.ErrAddressUnavailable, http.StatusConflict},
		{"already exists", domain.ErrAlreadyExists, http.StatusConflict},
		{"exhausted", domain.ErrRangeExhausted, http.StatusServiceUnavailable},
		{"serialization failure", errors.Trace(&db.OperationalError{Err: &pq.Error{Code: "40001"}}), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
