package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/Corphon/FlagLens/internal/intake"
	"github.com/Corphon/FlagLens/internal/llm"
	_ "github.com/Corphon/FlagLens/internal/llm/providers"
	"github.com/Corphon/FlagLens/internal/models"
	"github.com/Corphon/FlagLens/internal/prompt"
	"github.com/Corphon/FlagLens/internal/services"
	"github.com/Corphon/FlagLens/internal/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type stubVision struct {
	mu    sync.Mutex
	text  string
	err   error
	block chan struct{}
	calls int32
}

func (s *stubVision) AnalyzeImage(ctx context.Context, req llm.VisionRequest) (*llm.VisionResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	text, err, block := s.text, s.err, s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &llm.VisionResponse{Text: text, ModelName: "stub-model"}, nil
}

func (s *stubVision) GetProviderName() string { return "stub" }

func (s *stubVision) Calls() int { return int(atomic.LoadInt32(&s.calls)) }

type testEnv struct {
	router   *gin.Engine
	handler  *Handler
	vision   *stubVision
	sessions *services.SessionService
	metrics  *utils.MetricsCollector
	cookie   *http.Cookie
}

type envOptions struct {
	maxBytes  int64
	rateLimit int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	logger := utils.NewLogger(zap.NewNop())
	collector := utils.NewMetricsCollector()
	metrics := utils.NewAnalysisMetricsWith(collector, logger)
	validator := intake.NewValidator(opts.maxBytes)

	flag, err := services.GenerateDefaultFlag(30, 20)
	require.NoError(t, err)
	defaultImage, err := validator.Validate("default-flag.png", flag)
	require.NoError(t, err)

	sessions, err := services.NewSessionService(16, services.DefaultSeed(defaultImage))
	require.NoError(t, err)

	static, err := llm.GetProvider("static", nil)
	require.NoError(t, err)
	llmService := services.NewLLMServiceWithProvider("static", static, logger)

	vision := &stubVision{text: "1. Flag Identification\n- Country: Japan\n- Sun disc\nA plain design."}
	analysis := services.NewAnalysisService(vision, nil, metrics, logger)

	handler := NewHandler(analysis, sessions, llmService, validator, metrics, logger)
	router, err := NewRouter(handler, RouterOptions{AnalyzeRateLimit: opts.rateLimit})
	require.NoError(t, err)

	return &testEnv{
		router:   router,
		handler:  handler,
		vision:   vision,
		sessions: sessions,
		metrics:  collector,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			e.cookie = c
		}
	}
	return w
}

func (e *testEnv) sessionID() string {
	if e.cookie == nil {
		return ""
	}
	return e.cookie.Value
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	data, err := services.GenerateDefaultFlag(45, 30)
	require.NoError(t, err)
	return data
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, v interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type analyzeEnvelope struct {
	Success bool            `json:"success"`
	Data    AnalyzeResponse `json:"data"`
	Error   *APIError       `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestIndexRendersDefaultAnalysis(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `<h2 class="section-header">Flag Identification</h2>`)
	assert.Contains(t, body, `<span class="label">Official Name</span>`)
	assert.Contains(t, body, "data:image/png;base64,")
	assert.NotEmpty(t, env.sessionID())

	// the cookie keeps the same session
	first := env.sessionID()
	env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, first, env.sessionID())
}

func TestAnalyzeUpload(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(uploadRequest(t, "image", "flag.png", pngBytes(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[analyzeEnvelope](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, models.StatusReady, resp.Data.Session.Status)
	assert.Equal(t, []models.Segment{
		models.SectionHeader("Flag Identification"),
		models.LabeledField("Country", "Japan"),
		models.BulletItem("Sun disc"),
		models.Paragraph("A plain design."),
	}, resp.Data.Session.Segments)
	assert.Equal(t, 4, resp.Data.Summary.Total)
	assert.Equal(t, "stub", resp.Data.Provider)
	assert.Equal(t, 1, env.vision.Calls())

	view, err := env.sessions.Get(env.sessionID())
	require.NoError(t, err)
	assert.Equal(t, env.vision.text, view.Analysis)
}

func TestAnalyzeUploadRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	before, err := env.sessions.Get(env.sessionID())
	require.NoError(t, err)

	w := env.do(uploadRequest(t, "image", "notes.txt", []byte("just some text, not an image")))
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	resp := decode[analyzeEnvelope](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrorUnsupportedImage, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "JPEG, PNG or WEBP")

	// no request made, state untouched
	assert.Zero(t, env.vision.Calls())
	after, err := env.sessions.Get(env.sessionID())
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Analysis, after.Analysis)
	assert.EqualValues(t, 1, env.metrics.GetCounterValue("intake_rejections_type"))
}

func TestAnalyzeUploadRejectsOversize(t *testing.T) {
	env := newTestEnv(t, envOptions{maxBytes: 1024})

	page := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, page.Body.String(), "up to 1.0 KiB")
	assert.Contains(t, page.Body.String(), `data-max-label="1.0 KiB"`)

	// within the multipart allowance, refused by the validator
	w := env.do(uploadRequest(t, "image", "big.png", make([]byte, 4096)))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	resp := decode[analyzeEnvelope](t, w)
	assert.Equal(t, ErrorImageTooLarge, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "1.0 KiB")

	// past the multipart allowance, cut off while reading the body
	w = env.do(uploadRequest(t, "image", "huge.png", make([]byte, 1024+multipartSlack+4096)))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	resp = decode[analyzeEnvelope](t, w)
	assert.Equal(t, ErrorImageTooLarge, resp.Error.Code)
	assert.Equal(t, "Image is too large: the limit is 1.0 KiB", resp.Error.Message)
	assert.Zero(t, env.vision.Calls())
}

func TestAnalyzeEncodedRejectsOversizeBody(t *testing.T) {
	env := newTestEnv(t, envOptions{maxBytes: 1024})

	payload := strings.Repeat("A", 1024*4/3+multipartSlack+4096)
	w := env.do(jsonRequest(t, http.MethodPost, "/api/analyze/encoded",
		EncodedImageRequest{Image: "data:image/png;base64," + payload}))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	resp := decode[analyzeEnvelope](t, w)
	assert.Equal(t, ErrorImageTooLarge, resp.Error.Code)
	assert.Equal(t, "Image is too large: the limit is 1.0 KiB", resp.Error.Message)
	assert.Zero(t, env.vision.Calls())
}

func TestAnalyzeUploadRequiresFile(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(uploadRequest(t, "other", "flag.png", pngBytes(t)))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrorInvalidImage, decode[analyzeEnvelope](t, w).Error.Code)
	assert.Zero(t, env.vision.Calls())
}

func TestAnalyzeServiceFailureKeepsPreviousAnalysis(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.vision.err = errors.New("Resource has been exhausted (e.g. check quota).")

	w := env.do(uploadRequest(t, "image", "flag.png", pngBytes(t)))
	require.Equal(t, http.StatusBadGateway, w.Code)

	resp := decode[analyzeEnvelope](t, w)
	assert.Equal(t, ErrorAnalysisFailed, resp.Error.Code)
	assert.Equal(t, "Resource has been exhausted (e.g. check quota).", resp.Error.Message)

	view, err := env.sessions.Get(env.sessionID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, view.Status)
	assert.Equal(t, resp.Error.Message, view.Error)
	assert.Equal(t, prompt.DefaultAnalysis, view.Analysis)
	assert.Equal(t, 1, env.vision.Calls())
}

func TestAnalyzeWhileLoadingConflicts(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	id := env.sessionID()

	release := make(chan struct{})
	env.vision.block = release

	first := uploadRequest(t, "image", "flag.png", pngBytes(t))
	first.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})

	done := make(chan int, 1)
	go func() {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, first)
		done <- w.Code
	}()

	require.Eventually(t, func() bool {
		view, err := env.sessions.Get(id)
		return err == nil && view.Status == models.StatusLoading
	}, 2*time.Second, 5*time.Millisecond)

	w := env.do(uploadRequest(t, "image", "flag.png", pngBytes(t)))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrorAnalysisInProgress, decode[analyzeEnvelope](t, w).Error.Code)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Equal(t, 1, env.vision.Calls())
}

func TestAnalyzeEncoded(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	img, err := intake.NewValidator(0).Validate("", pngBytes(t))
	require.NoError(t, err)

	w := env.do(jsonRequest(t, http.MethodPost, "/api/analyze/encoded", EncodedImageRequest{Image: img.DataURI()}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusReady, decode[analyzeEnvelope](t, w).Data.Session.Status)

	w = env.do(jsonRequest(t, http.MethodPost, "/api/analyze/encoded", EncodedImageRequest{Image: "hello"}))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = env.do(jsonRequest(t, http.MethodPost, "/api/analyze/encoded", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, env.vision.Calls())
}

func TestReanalyzeUsesCurrentImage(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(httptest.NewRequest(http.MethodPost, "/api/reanalyze", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, env.vision.Calls())
	assert.Equal(t, "Flag Identification", decode[analyzeEnvelope](t, w).Data.Summary.Sections[0])
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Data models.SessionView `json:"data"`
	}](t, w)
	assert.Equal(t, env.sessionID(), resp.Data.ID)
	assert.Equal(t, models.StatusReady, resp.Data.Status)
	assert.NotEmpty(t, resp.Data.Segments)
}

func TestFormatEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(jsonRequest(t, http.MethodPost, "/api/format", FormatRequest{Text: "## 2. **Design**\n- Time: 10:30\n\n-"}))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Data FormatResponse `json:"data"`
	}](t, w)
	assert.Equal(t, []models.Segment{
		models.SectionHeader("Design"),
		models.LabeledField("Time", "10:30"),
		models.BulletItem(""),
	}, resp.Data.Segments)
	assert.Zero(t, env.vision.Calls())
}

func TestLLMEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/llm/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[struct {
		Data services.LLMStatus `json:"data"`
	}](t, w)
	assert.True(t, status.Data.Ready)
	assert.Equal(t, "static", status.Data.Provider)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/llm/models?provider=google", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gemini")

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/llm/models?provider=nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(jsonRequest(t, http.MethodPut, "/api/llm/config", map[string]interface{}{"provider": "nope"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), ErrorLLMProviderMissing)
}

func TestRateLimitOnAnalysis(t *testing.T) {
	env := newTestEnv(t, envOptions{rateLimit: 1})

	w := env.do(httptest.NewRequest(http.MethodPost, "/api/reanalyze", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = env.do(httptest.NewRequest(http.MethodPost, "/api/reanalyze", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), ErrorRateLimited)

	// formatting is not limited
	w = env.do(jsonRequest(t, http.MethodPost, "/api/format", FormatRequest{Text: "x"}))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDAndMetrics(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.True(t, strings.Contains(w.Body.String(), "api_requests_total"))
	assert.EqualValues(t, 2, env.metrics.GetCounterValue("api_requests_total"))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(httptest.NewRequest(http.MethodOptions, "/api/analyze", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	ok, remaining, _ := rl.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _, _ = rl.Allow("a")
	assert.True(t, ok)
	ok, _, _ = rl.Allow("a")
	assert.False(t, ok)

	ok, _, _ = rl.Allow("b")
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, _, _ = rl.Allow("a")
	assert.True(t, ok)
	assert.Len(t, rl.visitors, 1, "expired visitors swept")
	assert.Equal(t, now, rl.lastSweep)

	// within the window no further sweep happens
	now = now.Add(10 * time.Second)
	ok, _, _ = rl.Allow("c")
	assert.True(t, ok)
	assert.Len(t, rl.visitors, 2)
	assert.Equal(t, now.Add(-10*time.Second), rl.lastSweep)
}
