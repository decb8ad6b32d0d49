package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.Generation("stream", OutcomeSuccess)
	r.Generation("stream", OutcomeSuccess)
	r.Generation("image", OutcomeError)
	r.StreamChunk()
	r.SessionSaved(false, 0, nil)
	r.SessionSaved(true, 3, nil)
	r.SessionSaved(false, 0, errors.New("disk full"))
	r.HTTPRequest("GET", "/healthz", "200")

	body := scrape(t, r)
	for _, want := range []string{
		`chatdesk_generations_total{outcome="success",path="stream"} 2`,
		`chatdesk_generations_total{outcome="error",path="image"} 1`,
		`chatdesk_stream_chunks_total 1`,
		`chatdesk_session_saves_total{result="degraded"} 1`,
		`chatdesk_session_saves_total{result="error"} 1`,
		`chatdesk_session_saves_total{result="ok"} 1`,
		`chatdesk_stripped_images_total 3`,
		`chatdesk_http_requests_total{method="GET",route="/healthz",status="200"} 1`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Generation("stream", OutcomeRedirect)
		r.StreamChunk()
		r.SessionSaved(true, 1, nil)
		r.HTTPRequest("GET", "/healthz", "200")
	})
}
