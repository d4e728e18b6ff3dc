package statusapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/finshlink/internal/dispatch"
	"codeberg.org/mutker/finshlink/internal/metric"
	"codeberg.org/mutker/finshlink/internal/source"
	"codeberg.org/mutker/finshlink/internal/statusapi"
	"codeberg.org/mutker/finshlink/internal/transport"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) Name() string { return "stub" }

func (stubSource) Collect(context.Context) (metric.RawSources, error) {
	return metric.RawSources{}, nil
}

type fakeTransport struct {
	state      transport.State
	writes     [][]byte
	lastConfig transport.Config
}

func (f *fakeTransport) Connect(cfg transport.Config) error {
	f.lastConfig = cfg
	f.state = transport.StateConnected

	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.state = transport.StateDisconnected

	return nil
}

func (f *fakeTransport) Write(data []byte) error {
	f.writes = append(f.writes, append([]byte(nil), data...))

	return nil
}

func (f *fakeTransport) ReadAvailable() ([]byte, error) { return nil, nil }
func (f *fakeTransport) State() transport.State         { return f.state }
func (f *fakeTransport) Device() string                 { return "/dev/ttyUSB0" }
func (f *fakeTransport) Stats() transport.Stats         { return transport.Stats{BytesSent: 7} }
func (f *fakeTransport) ListPorts() ([]string, error)   { return []string{"/dev/ttyUSB0"}, nil }

func newTestServer(t *testing.T) (*statusapi.Server, *fakeTransport) {
	t.Helper()

	tr := &fakeTransport{state: transport.StateDisconnected}
	poller := source.NewPoller(time.Second, stubSource{})

	scheduler, err := dispatch.NewScheduler(dispatch.Config{
		Interval:        time.Second,
		ResponseTimeout: 20 * time.Millisecond,
	}, clock.New(), poller, tr, nil)
	require.NoError(t, err)

	srv := statusapi.NewServer(statusapi.Config{
		Addr: "127.0.0.1:0",
		DefaultTransport: transport.Config{
			Device:   "/dev/ttyUSB0",
			BaudRate: 1000000,
		},
	}, scheduler, tr, nil)

	return srv, tr
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}

	return rec, decoded
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disconnected", body["transport"])
	assert.Equal(t, false, body["running"])
	assert.Equal(t, "/dev/ttyUSB0", body["device"])
}

func TestPortsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/ports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"/dev/ttyUSB0"}, body["ports"])
}

func TestConnectMergesDefaults(t *testing.T) {
	srv, tr := newTestServer(t)

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/connect", `{"device":"/dev/ttyACM1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "connected", body["state"])
	assert.Equal(t, "/dev/ttyACM1", tr.lastConfig.Device)
	assert.Equal(t, 1000000, tr.lastConfig.BaudRate)
}

func TestDisconnectEndpoint(t *testing.T) {
	srv, tr := newTestServer(t)
	tr.state = transport.StateConnected

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disconnected", body["state"])
}

func TestDispatchSendWhileDisconnected(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/dispatch/send", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(dispatch.OutcomeSkipped), body["Outcome"])
}

func TestDispatchStartStop(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/dispatch/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Second start conflicts
	rec, _ = doJSON(t, srv.Handler(), http.MethodPost, "/api/dispatch/start", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = doJSON(t, srv.Handler(), http.MethodPost, "/api/dispatch/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRawHexConsole(t *testing.T) {
	srv, tr := newTestServer(t)
	tr.state = transport.StateConnected

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/raw", `{"mode":"hex","data":"A5 5A 03"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["bytes_sent"])

	require.Len(t, tr.writes, 1)
	assert.Equal(t, []byte{0xA5, 0x5A, 0x03}, tr.writes[0])
}

func TestRawASCIIAppendsNewline(t *testing.T) {
	srv, tr := newTestServer(t)
	tr.state = transport.StateConnected

	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/raw", `{"mode":"ascii","data":"sys_set cpu 50.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, tr.writes, 1)
	assert.Equal(t, "sys_set cpu 50.00\n", string(tr.writes[0]))
}

func TestRawRejectsUnknownMode(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/raw", `{"mode":"binary","data":"00"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogUnavailableWithoutRepository(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/api/log", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, present := body["history"]
	assert.True(t, present)
}
