// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/lookout/admission"
	agentmem "github.com/xmidt-org/lookout/agentstore/inmem"
	"github.com/xmidt-org/lookout/ingest"
	"github.com/xmidt-org/lookout/keylock"
	"github.com/xmidt-org/lookout/liveness"
	"github.com/xmidt-org/lookout/model"
	"github.com/xmidt-org/lookout/notify"
	objectmem "github.com/xmidt-org/lookout/objectstore/inmem"
	"github.com/xmidt-org/lookout/queue"
	"github.com/xmidt-org/lookout/violation"
)

const (
	testAgent = "6f1e0d2c-3b4a-4596-8877-665544332211"
	testETH   = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
)

type testAPI struct {
	in       handlerIn
	agents   *agentmem.InMem
	objects  *objectmem.InMem
	queue    *queue.Queue
	hub      *notify.Hub
	events   <-chan notify.Event
	handlers map[string]Handler
}

func newTestAPI(t *testing.T) *testAPI {
	require := require.New(t)
	ta := &testAPI{
		agents:  agentmem.NewInMem(),
		objects: objectmem.NewInMem(objectmem.WithURLBase("https://cdn.example.com")),
		hub:     notify.NewHub(notify.HubConfig{}, notify.Measures{}, nil),
	}
	var cancel func()
	ta.events, cancel = ta.hub.Subscribe()
	t.Cleanup(cancel)

	tracker, err := liveness.NewTracker(liveness.Config{}, ta.agents, ta.hub, nil, liveness.Measures{}, nil)
	require.NoError(err)
	engine, err := ingest.NewEngine(ingest.Config{}, ingest.Dependencies{
		Store:      ta.objects,
		Agents:     ta.agents,
		Admission:  admission.New(admission.Config{}, admission.Measures{}),
		Serializer: keylock.New(),
		Liveness:   tracker,
		Publisher:  ta.hub,
	})
	require.NoError(err)
	ta.queue = queue.New(queue.Config{}, nil, queue.Measures{}, nil)
	require.NoError(ta.queue.Start(context.Background()))
	t.Cleanup(func() { ta.queue.Stop(context.Background()) })

	ta.in = handlerIn{
		Service: &Service{
			Agents:    ta.agents,
			Ingester:  engine,
			Uploader:  engine,
			Objects:   ta.objects,
			Liveness:  tracker,
			Queue:     ta.queue,
			Detector:  violation.NewDetector(violation.Config{}),
			Publisher: ta.hub,
		},
		Config: newTransportConfig(Config{MaxScreenshotBytes: 64}),
	}
	ta.handlers = map[string]Handler{
		"register":  newRegisterAgentHandler(ta.in),
		"heartbeat": newHeartbeatHandler(ta.in),
		"status":    newStatusHandler(ta.in),
		"logs":      newLogsHandler(ta.in),
		"stats":     newStatsHandler(ta.in),
		"shot":      newScreenshotHandler(ta.in),
		"queued":    newQueuedScreenshotHandler(ta.in),
		"queue":     newQueueStatusHandler(ta.in),
		"upload":    newUploadFileHandler(ta.in),
		"file":      newFileHandler(ta.in),
		"whitelist": newWhitelistHandler(ta.in),
		"replace":   newReplaceWhitelistHandler(ta.in),
	}
	return ta
}

func (ta *testAPI) do(handler, method, target string, body []byte, vars map[string]string, headers http.Header) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		r.Header[k] = v
	}
	r = mux.SetURLVars(r, vars)
	rec := httptest.NewRecorder()
	ta.handlers[handler].ServeHTTP(rec, r)
	return rec
}

func (ta *testAPI) register(t *testing.T, id string) {
	rec := ta.do("register", http.MethodPost, "/api/v1/agents", []byte(`{"id":"`+id+`","name":"lobby"}`), nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func agentVars(id string) map[string]string {
	return map[string]string{agentIDVarKey: id}
}

func TestRegisterAgent(t *testing.T) {
	tcs := []struct {
		Description  string
		Body         string
		ExpectedCode int
	}{
		{
			Description:  "Generated id",
			Body:         `{"name":"lobby","computerName":"LOBBY-PC","ip":"10.1.2.3"}`,
			ExpectedCode: http.StatusCreated,
		},
		{
			Description:  "Empty body",
			ExpectedCode: http.StatusCreated,
		},
		{
			Description:  "Given id",
			Body:         `{"id":"` + strings.ToUpper(testAgent) + `"}`,
			ExpectedCode: http.StatusCreated,
		},
		{
			Description:  "Bad ip",
			Body:         `{"ip":"not-an-ip"}`,
			ExpectedCode: http.StatusBadRequest,
		},
		{
			Description:  "Bad id",
			Body:         `{"id":"agent-7"}`,
			ExpectedCode: http.StatusBadRequest,
		},
		{
			Description:  "Bad json",
			Body:         `{"id":`,
			ExpectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.Description, func(t *testing.T) {
			assert := assert.New(t)
			ta := newTestAPI(t)
			rec := ta.do("register", http.MethodPost, "/api/v1/agents", []byte(tc.Body), nil, nil)
			assert.Equal(tc.ExpectedCode, rec.Code)
			if tc.ExpectedCode != http.StatusCreated {
				assert.NotEmpty(rec.Header().Get(LookoutErrorHeaderKey))
				return
			}

			var agent model.Agent
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
			assert.NotEmpty(agent.ID)
			assert.Equal(model.StatusOffline, agent.Status)
			_, err := ta.agents.FindAgent(context.Background(), agent.ID)
			assert.NoError(err)
		})
	}
}

func TestRegisterTakenID(t *testing.T) {
	assert := assert.New(t)
	ta := newTestAPI(t)
	ta.register(t, testAgent)
	rec := ta.do("heartbeat", http.MethodPost, "/", nil, agentVars(testAgent), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do("register", http.MethodPost, "/api/v1/agents", []byte(`{"id":"`+testAgent+`","name":"impostor"}`), nil, nil)
	assert.Equal(http.StatusConflict, rec.Code)
	assert.Contains(rec.Header().Get(LookoutErrorHeaderKey), testAgent)

	stored, err := ta.agents.FindAgent(context.Background(), testAgent)
	require.NoError(t, err)
	assert.Equal("lobby", stored.Name)
	assert.Equal(model.StatusOnline, stored.Status)
	assert.False(stored.LastHeartbeat.IsZero())

	rec = ta.do("status", http.MethodGet, "/", nil, agentVars(testAgent), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(model.StatusOnline, status.Status)
	assert.True(stored.LastHeartbeat.Equal(status.LastSeen))
}

func TestHeartbeatAndStatus(t *testing.T) {
	assert := assert.New(t)
	ta := newTestAPI(t)

	rec := ta.do("heartbeat", http.MethodPost, "/", nil, agentVars(testAgent), nil)
	assert.Equal(http.StatusNotFound, rec.Code)
	assert.Contains(rec.Header().Get(LookoutErrorHeaderKey), testAgent)

	rec = ta.do("status", http.MethodGet, "/", nil, agentVars("nope"), nil)
	assert.Equal(http.StatusBadRequest, rec.Code)

	ta.register(t, testAgent)
	rec = ta.do("status", http.MethodGet, "/", nil, agentVars(testAgent), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(`{"status":"offline","lastSeen":"0001-01-01T00:00:00Z"}`, rec.Body.String())

	rec = ta.do("heartbeat", http.MethodPost, "/", nil, agentVars(testAgent), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(model.StatusOnline, status.Status)
	assert.WithinDuration(time.Now(), status.LastSeen, time.Minute)

	event := <-ta.events
	assert.Equal(notify.TopicClientStatus, event.Topic)

	rec = ta.do("logs", http.MethodGet, "/?limit=10", nil, agentVars(testAgent), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []model.OnlineEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(model.StatusOnline, logs[0].Status)

	rec = ta.do("logs", http.MethodGet, "/?limit=ten", nil, agentVars(testAgent), nil)
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = ta.do("stats", http.MethodGet, "/", nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(`{"total":1,"online":1,"offline":0}`, rec.Body.String())
}

func TestHeartbeatObservedAt(t *testing.T) {
	ta := newTestAPI(t)
	ta.register(t, testAgent)
	observed := time.Now().Add(-time.Second).UTC().Truncate(time.Millisecond)

	body, _ := json.Marshal(heartbeatBody{ObservedAt: observed})
	rec := ta.do("heartbeat", http.MethodPost, "/", body, agentVars(testAgent), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, observed.Equal(status.LastSeen))

	rec = ta.do("heartbeat", http.MethodPost, "/", []byte("{"), agentVars(testAgent), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScreenshot(t *testing.T) {
	tcs := []struct {
		Description      string
		Target           string
		Body             []byte
		Clipboard        string
		ExpectedCode     int
		ExpectedArchived bool
		ExpectAlert      bool
	}{
		{
			Description:  "Current only",
			Target:       "/",
			Body:         []byte("jpeg"),
			ExpectedCode: http.StatusOK,
		},
		{
			Description:      "Flagged alert",
			Target:           "/?alert=true",
			Body:             []byte("jpeg"),
			ExpectedCode:     http.StatusOK,
			ExpectedArchived: true,
		},
		{
			Description:      "Clipboard violation",
			Target:           "/",
			Body:             []byte("jpeg"),
			Clipboard:        "pay " + testETH,
			ExpectedCode:     http.StatusOK,
			ExpectedArchived: true,
			ExpectAlert:      true,
		},
		{
			Description:  "Bad alert flag",
			Target:       "/?alert=maybe",
			Body:         []byte("jpeg"),
			ExpectedCode: http.StatusBadRequest,
		},
		{
			Description:  "Empty body",
			Target:       "/",
			ExpectedCode: http.StatusBadRequest,
		},
		{
			Description:  "Too large",
			Target:       "/",
			Body:         bytes.Repeat([]byte("x"), 65),
			ExpectedCode: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.Description, func(t *testing.T) {
			assert := assert.New(t)
			ta := newTestAPI(t)
			ta.register(t, testAgent)
			headers := http.Header{}
			if tc.Clipboard != "" {
				headers.Set(ClipboardHeaderKey, tc.Clipboard)
			}

			rec := ta.do("shot", http.MethodPut, tc.Target, tc.Body, agentVars(testAgent), headers)
			assert.Equal(tc.ExpectedCode, rec.Code, rec.Body.String())
			if tc.ExpectedCode != http.StatusOK {
				return
			}

			var result model.IngestResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
			assert.Equal("https://cdn.example.com/"+ingest.CurrentKey(testAgent), result.CurrentURL)
			assert.Equal(tc.ExpectedArchived, result.Archived)

			var topics []string
			for len(ta.events) > 0 {
				topics = append(topics, (<-ta.events).Topic)
			}
			assert.Contains(topics, notify.TopicScreenshot)
			if tc.ExpectAlert {
				assert.Contains(topics, notify.TopicSecurityAlert)
			} else {
				assert.NotContains(topics, notify.TopicSecurityAlert)
			}
		})
	}
}

func TestQueuedScreenshot(t *testing.T) {
	assert := assert.New(t)
	ta := newTestAPI(t)

	rec := ta.do("queued", http.MethodPost, "/?maxRetries=2", []byte("jpeg"), agentVars(testAgent), nil)
	assert.Equal(http.StatusNotFound, rec.Code, "unknown agents are not retried")

	ta.register(t, testAgent)
	rec = ta.do("queued", http.MethodPost, "/?maxRetries=2", []byte("jpeg"), agentVars(testAgent), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(rec.Header().Get(TaskIDHeaderKey))

	rec = ta.do("queued", http.MethodPost, "/?maxRetries=-1", []byte("jpeg"), agentVars(testAgent), nil)
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = ta.do("queue", http.MethodGet, "/", nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status queue.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(queue.DefaultCapacity, status.Capacity)
	assert.Equal(queue.DefaultMaxConcurrent, status.MaxConcurrent)
	assert.True(status.Running)
}

func TestQueuedScreenshotStopped(t *testing.T) {
	ta := newTestAPI(t)
	ta.register(t, testAgent)
	require.NoError(t, ta.queue.Stop(context.Background()))

	rec := ta.do("queued", http.MethodPost, "/", []byte("jpeg"), agentVars(testAgent), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func keyVars(key string) map[string]string {
	return map[string]string{keyVarKey: key}
}

func TestUploadFile(t *testing.T) {
	assert := assert.New(t)
	ta := newTestAPI(t)
	target := "/api/v1/files?agentId=" + testAgent + "&folder=reports/daily"

	rec := ta.do("upload", http.MethodPost, target, []byte("frame"), nil, nil)
	assert.Equal(http.StatusNotFound, rec.Code)

	ta.register(t, testAgent)
	rec = ta.do("upload", http.MethodPost, target, []byte("frame"), nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first model.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(strings.HasPrefix(first.Key, "files/reports/daily/"), first.Key)
	assert.Equal("https://cdn.example.com/"+first.Key, first.URL)
	assert.Equal(ingest.Fingerprint([]byte("frame")), first.Fingerprint)
	assert.False(first.Deduplicated)

	rec = ta.do("upload", http.MethodPost, target, []byte("frame"), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second model.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(second.Deduplicated)
	assert.Equal(first.Key, second.Key)
	assert.Equal(1, ta.objects.Len())

	rec = ta.do("upload", http.MethodPost, "/api/v1/files?agentId="+testAgent, []byte("other"), nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var defaulted model.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defaulted))
	assert.True(strings.HasPrefix(defaulted.Key, "files/uploads/"), defaulted.Key)

	tcs := []struct {
		Description string
		Target      string
		Body        []byte
	}{
		{
			Description: "Missing agent",
			Target:      "/api/v1/files",
			Body:        []byte("frame"),
		},
		{
			Description: "Folder escapes",
			Target:      "/api/v1/files?agentId=" + testAgent + "&folder=../screenshots",
			Body:        []byte("frame"),
		},
		{
			Description: "Empty body",
			Target:      target,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.Description, func(t *testing.T) {
			rec := ta.do("upload", http.MethodPost, tc.Target, tc.Body, nil, nil)
			assert.Equal(http.StatusBadRequest, rec.Code)
		})
	}
}

func TestFile(t *testing.T) {
	assert := assert.New(t)
	ta := newTestAPI(t)
	ta.register(t, testAgent)

	rec := ta.do("shot", http.MethodPut, "/", []byte("jpeg"), agentVars(testAgent), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result model.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	key := strings.TrimPrefix(result.CurrentURL, "https://cdn.example.com/")

	rec = ta.do("file", http.MethodGet, "/", nil, keyVars(key), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal("jpeg", rec.Body.String())
	assert.Equal("image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal("4", rec.Header().Get("Content-Length"))

	_, err := ta.objects.Put(context.Background(), "files/raw", []byte("x"), nil)
	require.NoError(t, err)
	rec = ta.do("file", http.MethodGet, "/", nil, keyVars("files/raw"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(defaultContentType, rec.Header().Get("Content-Type"))

	rec = ta.do("file", http.MethodGet, "/", nil, keyVars("files/missing.jpg"), nil)
	assert.Equal(http.StatusNotFound, rec.Code)

	for _, bad := range []string{"", "../etc/passwd", "files//x", "/abs"} {
		rec = ta.do("file", http.MethodGet, "/", nil, keyVars(bad), nil)
		assert.Equal(http.StatusBadRequest, rec.Code, bad)
	}
}

func TestWhitelist(t *testing.T) {
	assert := assert.New(t)
	ta := newTestAPI(t)
	ta.register(t, testAgent)

	rec := ta.do("whitelist", http.MethodGet, "/", nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(`{"addresses":[]}`, rec.Body.String())

	rec = ta.do("replace", http.MethodPut, "/", []byte(`{"addresses":[" `+testETH+` "]}`), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(`{"addresses":["`+testETH+`"]}`, rec.Body.String())

	headers := http.Header{}
	headers.Set(ClipboardHeaderKey, "pay "+testETH)
	rec = ta.do("shot", http.MethodPut, "/", []byte("jpeg"), agentVars(testAgent), headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result model.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(result.Archived, "whitelisted addresses do not raise alerts")

	for _, body := range []string{`{`, `{}`, `{"addresses":["` + strings.Repeat("a", 129) + `"]}`} {
		rec = ta.do("replace", http.MethodPut, "/", []byte(body), nil, nil)
		assert.Equal(http.StatusBadRequest, rec.Code, body)
	}

	rec = ta.do("replace", http.MethodPut, "/", []byte(`{"addresses":[]}`), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(`{"addresses":[]}`, rec.Body.String())
}
