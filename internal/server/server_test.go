package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxpush/internal/audio"
	"github.com/fmueller/voxpush/internal/format"
	"github.com/fmueller/voxpush/internal/history"
	"github.com/fmueller/voxpush/internal/indicator"
	"github.com/fmueller/voxpush/internal/model"
	"github.com/fmueller/voxpush/internal/orchestrator"
	"github.com/fmueller/voxpush/internal/transcribe"
	"github.com/fmueller/voxpush/internal/whisper"
)

type stubHandle struct{ text string }

func (h *stubHandle) Transcribe(context.Context, model.Request) (string, error) { return h.text, nil }
func (h *stubHandle) Close() error                                              { return nil }

type stubRewriter struct{}

func (stubRewriter) Rewrite(_ context.Context, _, _, text string, _ map[string]any) (string, error) {
	return "Formatted: " + text, nil
}

type stubToggler struct {
	state orchestrator.State
	err   error
}

func (s *stubToggler) Toggle(context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.state = orchestrator.Armed
	return nil
}

func (s *stubToggler) State() orchestrator.State { return s.state }
func (s *stubToggler) CycleID() string           { return "" }

type fixture struct {
	server    *Server
	manager   *model.Manager
	loads     *atomic.Int32
	uploadDir string
	saveDir   string
	toggler   *stubToggler
	history   *history.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	for _, name := range []string{"small.en", "base.en"} {
		m, ok := whisper.LookupModel(name)
		require.True(t, ok)
		require.NoError(t, os.WriteFile(filepath.Join(modelDir, m.FileName), []byte("model"), 0o644))
	}

	loads := &atomic.Int32{}
	manager := model.NewManager(model.Options{
		Selection: model.Selection{Model: "small.en", Device: "cpu"},
		Loader: model.LoaderFunc(func(context.Context, model.Selection) (model.Handle, error) {
			loads.Add(1)
			return &stubHandle{text: " hello world \n"}, nil
		}),
		Reclaim: func() {},
	})
	t.Cleanup(manager.Close)

	profilePath := filepath.Join(root, "format_config.json")
	require.NoError(t, os.WriteFile(profilePath, []byte(`{"formats":{"clean":{"enabled":true,"model":"m","system_prompt":"Fix."}}}`), 0o644))
	formats, err := format.NewService(format.Options{Path: profilePath, Rewriter: stubRewriter{}})
	require.NoError(t, err)

	themes, err := indicator.NewThemes(nil, "")
	require.NoError(t, err)

	store, err := history.Open(filepath.Join(root, "history.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	saveDir := filepath.Join(root, "transcripts")
	uploadDir := filepath.Join(root, "uploads")
	toggler := &stubToggler{}
	state := &ServiceState{
		Models:      manager,
		Catalog:     whisper.NewCatalog(modelDir),
		Formats:     formats,
		Themes:      themes,
		Indicator:   indicator.New(),
		Transcriber: transcribe.NewService(transcribe.Options{Models: manager, SaveDir: saveDir, Sink: store}),
		Toggler:     toggler,
		History:     store,
		Delivery:    &stubDelivery{autoPaste: true},
		UploadDir:   uploadDir,
	}

	return &fixture{
		server:    New(Config{}, state, nil),
		manager:   manager,
		loads:     loads,
		uploadDir: uploadDir,
		saveDir:   saveDir,
		toggler:   toggler,
		history:   store,
	}
}

type stubDelivery struct {
	mu        sync.Mutex
	autoPaste bool
}

func (d *stubDelivery) AutoPaste() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autoPaste
}

func (d *stubDelivery) SetAutoPaste(enabled bool) {
	d.mu.Lock()
	d.autoPaste = enabled
	d.mu.Unlock()
}

func (f *fixture) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func (f *fixture) postJSON(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return f.do(t, req)
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	return f.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func TestSetModelUnknownLeavesResidentHandle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.manager.EnsureLoaded(context.Background()))
	require.EqualValues(t, 1, f.loads.Load())

	for _, body := range []string{`{"model":"nonexistent"}`, `{"model":"medium.en"}`, `{}`, `not json`} {
		code, resp := f.postJSON(t, "/set_model", body)
		require.Equal(t, http.StatusBadRequest, code, body)
		require.Equal(t, "Missing model", resp["error"])
	}

	st := f.manager.Status()
	require.True(t, st.Loaded)
	require.Equal(t, model.Selection{Model: "small.en", Device: "cpu"}, st.Selection)
	require.EqualValues(t, 1, f.loads.Load())
}

func TestSetModelSwapsSelectionLazily(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.manager.EnsureLoaded(context.Background()))

	code, resp := f.postJSON(t, "/set_model", `{"model":"base.en"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", resp["status"])

	st := f.manager.Status()
	require.False(t, st.Loaded)
	require.Equal(t, "base.en", st.Selection.Model)
	require.EqualValues(t, 1, f.loads.Load())
}

func TestSetDevice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, resp := f.postJSON(t, "/set_device", `{"device":"tpu"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Invalid device", resp["error"])

	code, _ = f.postJSON(t, "/set_device", `{"device":"cuda"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "cuda", f.manager.Selection().Device)
	require.Equal(t, "small.en", f.manager.Selection().Model)
}

func TestConcurrentModelAndDeviceChangesCompose(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	handler := f.server.Handler()

	post := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for range 25 {
		f.manager.Update(func(model.Selection) model.Selection {
			return model.Selection{Model: "small.en", Device: "cpu"}
		})

		codes := make(chan int, 2)
		start := make(chan struct{})
		go func() {
			<-start
			codes <- post("/set_device", `{"device":"cuda"}`)
		}()
		go func() {
			<-start
			codes <- post("/set_model", `{"model":"base.en"}`)
		}()
		close(start)

		require.Equal(t, http.StatusOK, <-codes)
		require.Equal(t, http.StatusOK, <-codes)
		require.Equal(t, model.Selection{Model: "base.en", Device: "cuda"}, f.manager.Selection())
	}
}

func TestTranscribeWithoutFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, resp := f.do(t, req)

	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Missing 'file'", resp["error"])
	_, err := os.Stat(f.uploadDir)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Zero(t, f.loads.Load())
}

func wavBytes(t *testing.T) []byte {
	t.Helper()
	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000.0))
	}
	path := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, audio.WriteWAV(path, audio.Clip{Samples: samples, SampleRate: 16000, Channels: 1}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}

func TestTranscribeUpload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "speech.wav")
	require.NoError(t, err)
	_, err = part.Write(wavBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, resp := f.do(t, req)

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "hello world", resp["text"])
	saved, ok := resp["saved"].(string)
	require.True(t, ok)
	require.Equal(t, f.saveDir, filepath.Dir(saved))

	leftovers, err := os.ReadDir(f.uploadDir)
	require.NoError(t, err)
	require.Empty(t, leftovers)

	code, hist := f.get(t, "/history?limit=5")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, hist["transcripts"], 1)
}

func TestGetConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, resp := f.get(t, "/get_config")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "cpu", resp["device"])
	require.Equal(t, "small.en", resp["model"])
	require.ElementsMatch(t, []any{"small.en", "base.en"}, resp["models"])
	require.Equal(t, false, resp["loaded"])
	require.Equal(t, format.Disable, resp["format"])
	require.Equal(t, []any{format.Disable, "clean"}, resp["available_formats"])
	require.Equal(t, indicator.DefaultTheme, resp["theme"])
	require.Len(t, resp["themes"], len(indicator.BuiltinNames()))
}

func TestSetFormatAndFormatText(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, resp := f.postJSON(t, "/format_text", `{"text":"raw words"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "raw words", resp["text"])

	code, resp = f.postJSON(t, "/set_format", `{"format":"shouty"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Unknown format", resp["error"])

	code, _ = f.postJSON(t, "/set_format", `{"format":"clean"}`)
	require.Equal(t, http.StatusOK, code)

	code, resp = f.postJSON(t, "/format_text", `{"text":"raw words"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Formatted: raw words", resp["text"])
}

func TestSetTheme(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, resp := f.postJSON(t, "/set_theme", `{"theme":"ocean"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ocean", resp["theme"])

	code, resp = f.postJSON(t, "/set_theme", `{"theme":"neon"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Unknown theme", resp["error"])

	_, cfg := f.get(t, "/get_config")
	require.Equal(t, "ocean", cfg["theme"])
}

func TestToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, resp := f.postJSON(t, "/toggle", ``)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "armed", resp["state"])

	f.toggler.err = orchestrator.ErrBusy
	code, resp = f.postJSON(t, "/toggle", ``)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, orchestrator.ErrBusy.Error(), resp["error"])
}

func TestHealthAndStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, resp := f.get(t, "/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, "cpu", resp["device"])
	require.Equal(t, false, resp["loaded"])

	code, resp = f.get(t, "/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "idle", resp["state"])
	require.Equal(t, "idle", resp["indicator"])
	require.Contains(t, resp, "model")
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, resp := f.get(t, "/history?limit=abc")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Invalid limit", resp["error"])
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestSetAutoPaste(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, cfg := f.get(t, "/get_config")
	require.Equal(t, true, cfg["auto_paste"])

	for _, body := range []string{`{}`, `{"enabled":"yes"}`} {
		code, resp := f.postJSON(t, "/set_auto_paste", body)
		require.Equal(t, http.StatusBadRequest, code, body)
		require.Equal(t, "Missing enabled", resp["error"])
	}

	code, resp := f.postJSON(t, "/set_auto_paste", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, resp["auto_paste"])

	_, cfg = f.get(t, "/get_config")
	require.Equal(t, false, cfg["auto_paste"])
}
