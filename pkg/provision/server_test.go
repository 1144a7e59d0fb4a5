package provision

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/internal/testoutput"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, h http.Handler, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/config", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestConfigureJSON(t *testing.T) {
	queue := NewQueue()
	h := NewServer(testoutput.Logger(t, "provision"), ":0", queue).Handler()

	rec := post(t, h, "application/json", `{"apikey":"secret-key","owner":"acme"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []Request{{APIKey: "secret-key", Owner: "acme"}}, queue.Drain())
	assert.Empty(t, queue.Drain())
}

func TestConfigureForm(t *testing.T) {
	queue := NewQueue()
	h := NewServer(testoutput.Logger(t, "provision"), ":0", queue).Handler()

	form := url.Values{"owner": {"acme"}}
	rec := post(t, h, "application/x-www-form-urlencoded", form.Encode())
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []Request{{Owner: "acme"}}, queue.Drain())
}

func TestConfigureRejects(t *testing.T) {
	testcases := map[string]string{
		"short key":  `{"apikey":"k123"}`,
		"empty":      `{}`,
		"not json":   `apikey=secret-key`,
		"long owner": `{"owner":"` + strings.Repeat("o", 65) + `"}`,
	}
	for name, body := range testcases {
		t.Run(name, func(t *testing.T) {
			queue := NewQueue()
			h := NewServer(testoutput.Logger(t, "provision"), ":0", queue).Handler()

			rec := post(t, h, "application/json", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
			assert.Empty(t, queue.Drain())
		})
	}
}

func TestConfigureBusy(t *testing.T) {
	queue := NewQueue()
	h := NewServer(testoutput.Logger(t, "provision"), ":0", queue).Handler()

	for i := 0; i < queueDepth; i++ {
		require.Equal(t, http.StatusAccepted, post(t, h, "application/json", `{"owner":"acme"}`).Code)
	}
	rec := post(t, h, "application/json", `{"owner":"acme"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, queue.Drain(), queueDepth)
}

func TestMetricsServed(t *testing.T) {
	h := NewServer(testoutput.Logger(t, "provision"), ":0", NewQueue()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "thinx_agent_link_join_attempts_total")
}
