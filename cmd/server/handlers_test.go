package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/brunobiangulo/docanalysis"
	"github.com/brunobiangulo/docanalysis/docerr"
	"github.com/brunobiangulo/docanalysis/llm"
	"github.com/brunobiangulo/docanalysis/store"
)

// fakePipeline records requests and returns canned results.
type fakePipeline struct {
	mu       sync.Mutex
	analyzed []docanalysis.AnalyzeRequest
	result   *docanalysis.AnalysisResult

	learnErr  error
	learned   []store.Correction
	days      int
	docType   string
	category  string
	health    docanalysis.Health
	statsErr  error
	optResult *store.PromptOptimization
}

func (f *fakePipeline) Analyze(_ context.Context, req docanalysis.AnalyzeRequest) *docanalysis.AnalysisResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, req)
	if f.result != nil {
		return f.result
	}
	return &docanalysis.AnalysisResult{AnalysisID: "a-1", Success: true}
}

func (f *fakePipeline) Learn(_ context.Context, c store.Correction) (*store.LearnResult, error) {
	if f.learnErr != nil {
		return nil, f.learnErr
	}
	f.learned = append(f.learned, c)
	return &store.LearnResult{RecordID: c.RecordID, ModificationsRecorded: 2}, nil
}

func (f *fakePipeline) Statistics(_ context.Context, days int) (*store.Statistics, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	f.days = days
	return &store.Statistics{Days: days, TotalCorrections: 3}, nil
}

func (f *fakePipeline) PromptOptimization(_ context.Context, docType, category string) (*store.PromptOptimization, error) {
	f.docType, f.category = docType, category
	if f.optResult != nil {
		return f.optResult, nil
	}
	return &store.PromptOptimization{DocType: docType, Category: category}, nil
}

func (f *fakePipeline) HealthCheck(context.Context) docanalysis.Health {
	if f.health.Status == "" {
		return docanalysis.Health{Status: "ok", LLM: "ok", LearningStore: "disabled"}
	}
	return f.health
}

func (f *fakePipeline) Close() error { return nil }

func newTestServer(t *testing.T, p docanalysis.Pipeline) *httptest.Server {
	t.Helper()
	cfg := docanalysis.DefaultConfig()
	srv := httptest.NewServer(newHandler(p, cfg).routes())
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// ---------------------------------------------------------------------------
// POST /analyze
// ---------------------------------------------------------------------------

func TestAnalyzeMultipart(t *testing.T) {
	fp := &fakePipeline{}
	srv := newTestServer(t, fp)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="../../etc/spec-sheet.docx"`)
	hdr.Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("PK\x03\x04 document bytes"))
	mw.WriteField("user_id", "u-42")
	mw.Close()

	resp, err := http.Post(srv.URL+"/analyze", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	var res docanalysis.AnalysisResult
	decode(t, resp, &res)
	if resp.StatusCode != http.StatusOK || !res.Success {
		t.Fatalf("status = %d, result = %+v", resp.StatusCode, res)
	}

	if len(fp.analyzed) != 1 {
		t.Fatalf("analyzed %d documents", len(fp.analyzed))
	}
	req := fp.analyzed[0]
	if req.Filename != "spec-sheet.docx" {
		t.Errorf("filename = %q, want base name only", req.Filename)
	}
	if req.UserID != "u-42" || !strings.HasPrefix(string(req.Data), "PK") {
		t.Errorf("req = %+v", req)
	}
	if !strings.Contains(req.MIME, "wordprocessingml") {
		t.Errorf("mime = %q", req.MIME)
	}
}

func TestAnalyzeRawBody(t *testing.T) {
	fp := &fakePipeline{}
	srv := newTestServer(t, fp)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/analyze?filename=spec.txt", strings.NewReader("额定电压：220V"))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("X-User-ID", "u-7")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	got := fp.analyzed[0]
	if got.Filename != "spec.txt" || got.MIME != "text/plain" || got.UserID != "u-7" || string(got.Data) != "额定电压：220V" {
		t.Errorf("req = %+v", got)
	}

	resp, err = http.Post(srv.URL+"/analyze", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing filename: status = %d, want 400", resp.StatusCode)
	}
}

func TestAnalyzeFailureStatus(t *testing.T) {
	tests := []struct {
		kind docerr.Kind
		want int
	}{
		{docerr.KindFileSize, http.StatusRequestEntityTooLarge},
		{docerr.KindFormat, http.StatusUnsupportedMediaType},
		{docerr.KindCorruption, http.StatusUnprocessableEntity},
		{docerr.KindEmptyContent, http.StatusUnprocessableEntity},
		{docerr.KindAIQuota, http.StatusTooManyRequests},
		{docerr.KindAITimeout, http.StatusGatewayTimeout},
		{docerr.KindAIAuth, http.StatusBadGateway},
		{docerr.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			fp := &fakePipeline{result: &docanalysis.AnalysisResult{
				AnalysisID:  "a-2",
				ErrorType:   tt.kind,
				Error:       "失败",
				Suggestions: []string{"请稍后重试"},
			}}
			srv := newTestServer(t, fp)

			resp, err := http.Post(srv.URL+"/analyze?filename=a.pdf", "application/pdf", strings.NewReader("%PDF"))
			if err != nil {
				t.Fatal(err)
			}
			var res docanalysis.AnalysisResult
			decode(t, resp, &res)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if res.ErrorType != tt.kind || len(res.Suggestions) == 0 {
				t.Errorf("envelope = %+v", res)
			}
		})
	}
}

// The server reads at most MaxFileSize+1 bytes and the real pipeline
// rejects the upload before any extractor or model call.
func TestAnalyzeOversizedUpload(t *testing.T) {
	cfg := docanalysis.DefaultConfig()
	cfg.MaxFileSize = 1024
	provider := &countingProvider{}
	p, err := docanalysis.New(cfg, docanalysis.WithProvider(provider))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	srv := httptest.NewServer(newHandler(p, cfg).routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/analyze?filename=big.txt", "text/plain", bytes.NewReader(bytes.Repeat([]byte("a"), 64<<10)))
	if err != nil {
		t.Fatal(err)
	}
	var res docanalysis.AnalysisResult
	decode(t, resp, &res)
	if resp.StatusCode != http.StatusRequestEntityTooLarge || res.ErrorType != docerr.KindFileSize {
		t.Errorf("status = %d, error_type = %q", resp.StatusCode, res.ErrorType)
	}
	if provider.n != 0 {
		t.Errorf("LLM called %d times", provider.n)
	}
}

type countingProvider struct {
	mu sync.Mutex
	n  int
}

func (c *countingProvider) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil, fmt.Errorf("unexpected call")
}

// ---------------------------------------------------------------------------
// Learning endpoints
// ---------------------------------------------------------------------------

func TestCorrections(t *testing.T) {
	fp := &fakePipeline{}
	srv := newTestServer(t, fp)

	body := `{"record_id": "r-1", "doc_type": "pdf", "category": "电力设备",
		"original": {"basic_info": {"name": "A"}}, "final": {"basic_info": {"name": "B"}}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/corrections", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var lr store.LearnResult
	decode(t, resp, &lr)
	if resp.StatusCode != http.StatusOK || lr.RecordID != "r-1" || lr.ModificationsRecorded != 2 {
		t.Fatalf("status = %d, result = %+v", resp.StatusCode, lr)
	}
	if c := fp.learned[0]; c.UserID != "u-1" || c.Final.BasicInfo.Name != "B" {
		t.Errorf("correction = %+v", c)
	}

	t.Run("invalid JSON", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/corrections", "application/json", strings.NewReader("{"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"disabled", docanalysis.ErrLearningStoreDisabled, http.StatusServiceUnavailable},
		{"invalid", fmt.Errorf("%w: original and final data are required", docanalysis.ErrInvalidCorrection), http.StatusBadRequest},
		{"store failure", fmt.Errorf("database is locked"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakePipeline{learnErr: tt.err})
			resp, err := http.Post(srv.URL+"/corrections", "application/json", strings.NewReader(`{}`))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	fp := &fakePipeline{}
	srv := newTestServer(t, fp)

	resp, err := http.Get(srv.URL + "/statistics?days=7")
	if err != nil {
		t.Fatal(err)
	}
	var stats store.Statistics
	decode(t, resp, &stats)
	if resp.StatusCode != http.StatusOK || fp.days != 7 || stats.TotalCorrections != 3 {
		t.Errorf("status = %d, days = %d, stats = %+v", resp.StatusCode, fp.days, stats)
	}

	for _, q := range []string{"days=abc", "days=-1"} {
		resp, err := http.Get(srv.URL + "/statistics?" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, resp.StatusCode)
		}
	}
}

func TestPromptOptimization(t *testing.T) {
	fp := &fakePipeline{optResult: &store.PromptOptimization{
		DocType:            "docx",
		PromptEnhancements: []string{"注意型号字段"},
	}}
	srv := newTestServer(t, fp)

	resp, err := http.Get(srv.URL + "/prompt-optimization?doc_type=docx&category=" + "%E7%94%B5%E5%8A%9B%E8%AE%BE%E5%A4%87")
	if err != nil {
		t.Fatal(err)
	}
	var po store.PromptOptimization
	decode(t, resp, &po)
	if resp.StatusCode != http.StatusOK || len(po.PromptEnhancements) != 1 {
		t.Errorf("status = %d, po = %+v", resp.StatusCode, po)
	}
	if fp.docType != "docx" || fp.category != "电力设备" {
		t.Errorf("args = %q, %q", fp.docType, fp.category)
	}

	resp, err = http.Get(srv.URL + "/prompt-optimization")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing doc_type: status = %d", resp.StatusCode)
	}
}

// ---------------------------------------------------------------------------
// Health and middleware
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{})
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var h docanalysis.Health
	decode(t, resp, &h)
	if resp.StatusCode != http.StatusOK || h.Status != "ok" {
		t.Errorf("status = %d, health = %+v", resp.StatusCode, h)
	}

	srv = newTestServer(t, &fakePipeline{health: docanalysis.Health{Status: "degraded", LLM: "ai_service_auth"}})
	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("degraded: status = %d", resp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h := newHandler(&fakePipeline{}, docanalysis.DefaultConfig())
	srv := httptest.NewServer(requestIDMiddleware(authMiddleware("secret", h.routes())))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/statistics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/statistics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health without token: status = %d", resp.StatusCode)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	recoveryMiddleware(panicky).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}
