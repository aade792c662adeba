package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/waitlens/pkg/clock"
	"github.com/srodi/waitlens/pkg/ledger"
	"github.com/srodi/waitlens/pkg/types"
	"github.com/srodi/waitlens/pkg/units"
)

func newTestServer(t *testing.T) (*Server, *ledger.Ledger, *units.Reducer) {
	t.Helper()
	l := ledger.New(ledger.Options{MaxSubjects: 16, Clock: clock.NewManual(10)})
	l.OnStart(7, 7, "dd")
	l.Apply(types.Event{Kind: types.KindBlockIssue, PID: 7})
	l.Apply(types.Event{Kind: types.KindFutex, PID: 99})

	temp := units.NewTable(units.Options{Name: "cpu_temp", Size: 4, Critical: 90_000, Clock: clock.NewManual(1)})
	temp.RecordSample(1, 95_000)
	temp.RecordSample(2, 45_000)
	tempReducer := units.NewReducer(temp, clock.NewManual(2))
	gpu := units.NewReducer(units.NewTable(units.Options{Name: "gpu_busy", Size: 2}), nil)

	s := NewServer(Options{
		InstanceID:     "test-instance",
		Store:          l,
		Units:          []Unit{{Reducer: tempReducer, Scale: "millicelsius"}, {Reducer: gpu, Scale: "percent"}},
		QueueDrops:     func() uint64 { return 3 },
		StreamInterval: 20 * time.Millisecond,
	})
	return s, l, tempReducer
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSubjects(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/api/v1/subjects")
	require.Equal(t, http.StatusOK, rec.Code)
	var list subjectsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, subjectsResponse{Instance: "test-instance", Capacity: 16, Tracked: 1, IDs: []uint32{7}}, list)

	rec = get(t, s, "/api/v1/subjects/7")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats types.StatsRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(500_000), stats.Duration(types.DiskWait))
	assert.Equal(t, "dd", stats.Comm)
	assert.Contains(t, rec.Body.String(), `"disk_wait":500000`)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/subjects/8").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/subjects/abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/subjects/99999999999").Code)
}

func TestSubjectsByCategory(t *testing.T) {
	s, l, _ := newTestServer(t)
	l.OnStart(3, 3, "cp")
	l.RecordEvent(3, types.DiskWait, int64(2*time.Millisecond), ledger.Strict)
	l.OnStart(4, 4, "idle")

	rec := get(t, s, "/api/v1/subjects?category=disk_wait")
	require.Equal(t, http.StatusOK, rec.Code)
	var list subjectsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []uint32{3, 7}, list.IDs)
	assert.Equal(t, 2, list.Tracked)

	rec = get(t, s, "/api/v1/subjects?category=gpu_wait")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.IDs)

	rec = get(t, s, "/api/v1/subjects?category=coffee")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown category")
}

func TestCounters(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := get(t, s, "/api/v1/counters")
	require.Equal(t, http.StatusOK, rec.Code)

	var got countersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(1), got.Ledger.AbsentDrops)
	assert.Equal(t, uint64(3), got.QueueDrops)
}

func TestUnits(t *testing.T) {
	s, _, _ := newTestServer(t)
	// a card that only ever failed still reports its errors
	s.units["gpu_busy"].Reducer.Table().RecordError(1)

	rec := get(t, s, "/api/v1/units")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []unitInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, unitInfo{Name: "cpu_temp", Scale: "millicelsius", Size: 4, Observed: 2}, infos[0])
	assert.Equal(t, "gpu_busy", infos[1].Name)
	assert.Equal(t, 0, infos[1].Observed)
	assert.Equal(t, uint64(1), infos[1].Errors)

	rec = get(t, s, "/api/v1/units/cpu_temp")
	var recs []types.UnitRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, uint32(1), recs[0].UnitID)

	rec = get(t, s, "/api/v1/units/gpu_busy")
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = get(t, s, "/api/v1/units/cpu_temp/2")
	require.Equal(t, http.StatusOK, rec.Code)
	var one types.UnitRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, uint64(45_000), one.Current)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/units/cpu_temp/3").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/units/fan").Code)
}

func TestSummary(t *testing.T) {
	s, _, reducer := newTestServer(t)

	assert.Equal(t, http.StatusNoContent, get(t, s, "/api/v1/summary/cpu_temp").Code)

	require.True(t, reducer.Reduce())
	rec := get(t, s, "/api/v1/summary/cpu_temp")
	require.Equal(t, http.StatusOK, rec.Code)
	var msg summaryMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "cpu_temp", msg.Table)
	assert.Equal(t, 70_000.0, msg.Summary.Average)
	assert.Equal(t, uint32(1), msg.Summary.CriticalCount)

	assert.Equal(t, http.StatusNoContent, get(t, s, "/api/v1/summary/gpu_busy").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/summary/fan").Code)
}

func TestMethodsAndUnknownRoutes(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/subjects", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"method not allowed"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/units/cpu_temp/0", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = get(t, s, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestStreamPushesSummaries(t *testing.T) {
	s, _, reducer := newTestServer(t)
	require.True(t, reducer.Reduce())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Clients(ctx) == 1 }, time.Second, 5*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame streamFrame
	require.NoError(t, json.Unmarshal(msg, &frame))
	assert.Equal(t, "test-instance", frame.Instance)
	require.Len(t, frame.Summaries, 1)
	assert.Equal(t, "cpu_temp", frame.Summaries[0].Table)

	cancel()
	require.NoError(t, <-done)
}

func TestFrameEmptyWithoutSummaries(t *testing.T) {
	s, _, _ := newTestServer(t)
	assert.Nil(t, s.frame(time.Now()))
}
