package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

type stubTriggerer struct {
	mu     sync.Mutex
	events []types.TriggerEvent
	err    error
}

func (s *stubTriggerer) TriggerNamed(workflow, agent, event string, payload map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.events = append(s.events, types.TriggerEvent{Workflow: workflow, Agent: agent, Event: event, Payload: payload})
	return "run-42", nil
}

func (s *stubTriggerer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubDashboard struct{}

func (stubDashboard) Dashboard() (map[string]types.RollUp, error) {
	return map[string]types.RollUp{
		"weather": {Agent: "weather", Status: types.HealthHealthy},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *Bindings, *stubTriggerer) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bindings := NewBindings(store, ident.System)
	trigger := &stubTriggerer{}
	srv := NewServer(bindings, trigger, stubDashboard{}, "", "/hooks")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, bindings, trigger
}

func TestHookAccepted(t *testing.T) {
	ts, bindings, trigger := newTestServer(t)
	require.NoError(t, bindings.Add("ping", "", "wf", "pinged", 0))

	resp, err := http.Post(ts.URL+"/hooks/ping", "application/json",
		strings.NewReader(`{"source":"test"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "run-42", body["run_id"])

	require.Equal(t, 1, trigger.count())
	event := trigger.events[0]
	assert.Equal(t, "wf", event.Workflow, "firing carries the bound workflow name")
	assert.Equal(t, AgentName, event.Agent)
	assert.Equal(t, "pinged", event.Event)
	assert.Equal(t, "test", event.Payload["source"])
}

func TestHookUnknownBinding(t *testing.T) {
	ts, _, trigger := newTestServer(t)

	resp, err := http.Post(ts.URL+"/hooks/nope", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, trigger.count())
}

func TestHookMethodNotAllowed(t *testing.T) {
	ts, bindings, trigger := newTestServer(t)
	require.NoError(t, bindings.Add("ping", "", "wf", "pinged", 0))

	resp, err := http.Get(ts.URL + "/hooks/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Zero(t, trigger.count())
}

func TestHookSignature(t *testing.T) {
	ts, bindings, trigger := newTestServer(t)
	require.NoError(t, bindings.Add("secure", "s3cret", "wf", "fired", 0))
	body := []byte(`{"n":1}`)

	// Missing signature.
	resp, err := http.Post(ts.URL+"/hooks/secure", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong signature.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/hooks/secure", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(signatureHeader, Sign("wrong-secret", body))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, trigger.count(), "rejected requests have no side effects")

	// Correct signature.
	req, err = http.NewRequest(http.MethodPost, ts.URL+"/hooks/secure", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(signatureHeader, Sign("s3cret", body))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, trigger.count())
}

func TestHookOversizeBody(t *testing.T) {
	ts, bindings, trigger := newTestServer(t)
	require.NoError(t, bindings.Add("small", "", "wf", "fired", 64))

	big := bytes.Repeat([]byte("x"), 200)
	resp, err := http.Post(ts.URL+"/hooks/small", "application/octet-stream", bytes.NewReader(big))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Zero(t, trigger.count())
}

func TestHookMalformedJSON(t *testing.T) {
	ts, bindings, trigger := newTestServer(t)
	require.NoError(t, bindings.Add("ping", "", "wf", "fired", 0))

	resp, err := http.Post(ts.URL+"/hooks/ping", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, trigger.count())
}

func TestHookOctetStreamBody(t *testing.T) {
	ts, bindings, trigger := newTestServer(t)
	require.NoError(t, bindings.Add("raw", "", "wf", "fired", 0))

	resp, err := http.Post(ts.URL+"/hooks/raw", "application/octet-stream",
		strings.NewReader("raw-bytes"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, trigger.count())
	assert.Equal(t, "raw-bytes", trigger.events[0].Payload["body"])
}

func TestHookCapacityMapsTo503(t *testing.T) {
	ts, bindings, trigger := newTestServer(t)
	require.NoError(t, bindings.Add("busy", "", "wf", "fired", 0))
	trigger.err = errdefs.New(errdefs.KindCapacity, "queue full")

	resp, err := http.Post(ts.URL+"/hooks/busy", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthzEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var dash map[string]types.RollUp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dash))
	assert.Equal(t, types.HealthHealthy, dash["weather"].Status)
}

func TestBindingCatalog(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	bindings := NewBindings(store, ident.System)

	require.NoError(t, bindings.Add("b", "s", "wf", "e", 0))
	require.NoError(t, bindings.Add("a", "", "wf2", "e2", 512))

	err = bindings.Add("b", "", "wf", "e", 0)
	assert.True(t, errdefs.IsConflict(err))

	err = bindings.Add("bad/name", "", "wf", "e", 0)
	assert.True(t, errdefs.IsUsage(err))

	got, err := bindings.Get("b")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxBodyBytes, got.MaxBodyBytes)

	list, err := bindings.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name, "sorted by name")

	require.NoError(t, bindings.Remove("a"))
	assert.True(t, errdefs.IsNotFound(bindings.Remove("a")))
}

func TestServerStartStop(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := NewServer(NewBindings(store, ident.System), &stubTriggerer{}, stubDashboard{}, "127.0.0.1:0", "")
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
