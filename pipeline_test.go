package docanalysis

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brunobiangulo/docanalysis/docerr"
	"github.com/brunobiangulo/docanalysis/llm"
	"github.com/brunobiangulo/docanalysis/schema"
	"github.com/brunobiangulo/docanalysis/store"
	"github.com/brunobiangulo/docanalysis/validator"
)

// fakeProvider answers with scripted responses and records every request.
type fakeProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	block     bool // wait for the context to end
	requests  []llm.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	content := ""
	if i < len(f.responses) {
		content = f.responses[i]
	}
	return &llm.ChatResponse{
		Content: content,
		Model:   "fake-model",
		Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeRunner stands in for tesseract and antiword.
type fakeRunner struct {
	fn func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	out, err := f.fn(name, args)
	return out, nil, err
}

// fakeLearning is an in-memory LearningStore.
type fakeLearning struct {
	hints    *store.Hints
	hintsErr error
	opt      *store.PromptOptimization
	learned  []store.Correction
	closed   bool
}

func (f *fakeLearning) GetPersonalizedHints(_ context.Context, _, _ string, _ *schema.ExtractedData) (*store.Hints, error) {
	if f.hintsErr != nil {
		return nil, f.hintsErr
	}
	if f.hints == nil {
		return &store.Hints{}, nil
	}
	return f.hints, nil
}

func (f *fakeLearning) LearnFromModifications(_ context.Context, c store.Correction) (*store.LearnResult, error) {
	f.learned = append(f.learned, c)
	return &store.LearnResult{RecordID: c.RecordID, ModificationsRecorded: len(c.Modifications)}, nil
}

func (f *fakeLearning) GetStatistics(_ context.Context, days int) (*store.Statistics, error) {
	return &store.Statistics{Days: days, TotalCorrections: len(f.learned)}, nil
}

func (f *fakeLearning) OptimizePrompt(_ context.Context, docType, category string) (*store.PromptOptimization, error) {
	if f.opt != nil {
		return f.opt, nil
	}
	return &store.PromptOptimization{DocType: docType, Category: category, PromptEnhancements: []string{}, CommonErrors: []string{}}, nil
}

func (f *fakeLearning) Close() error {
	f.closed = true
	return nil
}

func newTestPipeline(t *testing.T, fp *fakeProvider, opts ...Option) Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TesseractPath = "tesseract"
	cfg.AntiwordPath = "antiword"
	if fp == nil {
		fp = &fakeProvider{}
	}
	opts = append([]Option{
		WithProvider(fp),
		WithRunner(&fakeRunner{fn: func(string, []string) ([]byte, error) { return nil, errors.New("not installed") }}),
	}, opts...)
	p, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// checkInvariants asserts what every successful result guarantees.
func checkInvariants(t *testing.T, res *AnalysisResult) {
	t.Helper()
	if !res.Success {
		t.Fatalf("analysis failed: %s (%s) %v", res.Error, res.ErrorType, res.ErrorDetails)
	}
	d := res.ExtractedData
	if d.BasicInfo.Name == "" || d.BasicInfo.Code == "" {
		t.Errorf("identity incomplete: %+v", d.BasicInfo)
	}
	c := d.Confidence
	for name, v := range map[string]float64{"basic_info": c.BasicInfo, "specifications": c.Specifications, "features": c.Features, "overall": c.Overall} {
		if v < 0 || v > 1 {
			t.Errorf("confidence.%s = %v out of range", name, v)
		}
	}
	if want := 0.3*c.BasicInfo + 0.7*c.Specifications; math.Abs(c.Overall-want) > 0.01 {
		t.Errorf("overall = %v, want ≈ %v", c.Overall, want)
	}
	if !res.ValidationReport.SchemaValid {
		t.Errorf("schema errors: %v", res.ValidationReport.SchemaErrors)
	}
	if n := len([]rune(res.TextPreview)); n > previewRunes {
		t.Errorf("preview = %d runes", n)
	}
	if res.AnalysisID == "" || res.AnalysisTimestamp == "" {
		t.Error("analysis id or timestamp missing")
	}
}

// checkFailureData asserts a failed result still carries the empty schema
// with every top-level key and zero confidence.
func checkFailureData(t *testing.T, res *AnalysisResult) {
	t.Helper()
	if res.ExtractedData == nil {
		t.Fatal("failure result has no extracted data")
	}
	if res.ExtractedData.Confidence != (schema.Confidence{}) {
		t.Errorf("failure confidence = %+v, want zero", res.ExtractedData.Confidence)
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		ExtractedData map[string]json.RawMessage `json:"extracted_data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"basic_info", "specifications", "features", "application_scenarios", "accessories", "certificates", "support_info", "confidence"} {
		if v, ok := env.ExtractedData[key]; !ok || string(v) == "null" {
			t.Errorf("extracted_data.%s missing on failure", key)
		}
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

const specTableXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>低压开关柜技术参数</w:t></w:r></w:p>
<w:tbl>
<w:tr><w:tc><w:p><w:r><w:t>额定电压</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>380V</w:t></w:r></w:p></w:tc></w:tr>
<w:tr><w:tc><w:p><w:r><w:t>额定电流</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>100A</w:t></w:r></w:p></w:tc></w:tr>
<w:tr><w:tc><w:p><w:r><w:t>HYPERLINK \\foo</w:t></w:r></w:p></w:tc><w:tc><w:p></w:p></w:tc></w:tr>
</w:tbl>
</w:body>
</w:document>`

func TestAnalyzeDOCXSpecTable(t *testing.T) {
	fp := &fakeProvider{responses: []string{
		`{"basic_info": {"name": "低压开关柜", "category": "开关设备"}, "confidence": {"overall": 0.85}}`,
		`{"basic_info": {"name": "低压开关柜"}, "specifications": {"HYPERLINK \\foo": ""}, "confidence": {"basic_info": 0.85, "specifications": 0.3, "features": 0.2, "overall": 0.5}}`,
	}}
	p := newTestPipeline(t, fp)

	res := p.Analyze(context.Background(), AnalyzeRequest{
		Data:     buildDOCX(t, specTableXML),
		Filename: "开关柜.docx",
		MIME:     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	})
	checkInvariants(t, res)

	specs := res.ExtractedData.Specifications
	if len(specs) != 2 {
		t.Fatalf("specifications = %v, want exactly two", specs)
	}
	if sv := specs["额定电压"]; sv.Value != "380" || sv.Unit != "V" {
		t.Errorf("额定电压 = %+v", sv)
	}
	if sv := specs["额定电流"]; sv.Value != "100" || sv.Unit != "A" {
		t.Errorf("额定电流 = %+v", sv)
	}
	if c := res.ExtractedData.Confidence.Specifications; c < 0.7 {
		t.Errorf("specifications confidence = %v, want >= 0.7", c)
	}
	if res.DocumentInfo.Type != "docx" || res.DebugInfo.Tier != "detailed" {
		t.Errorf("type = %q, tier = %q", res.DocumentInfo.Type, res.DebugInfo.Tier)
	}
	if len(res.ValidationReport.TableSpecsAdded) != 2 {
		t.Errorf("table specs added = %v", res.ValidationReport.TableSpecsAdded)
	}
}

func TestAnalyzeOCRIdentityRepair(t *testing.T) {
	ocrText := "六相微机继电保护测试仪\n| | A a b -- ||\n输出电压 0-120V\n输出电流 0-30A\n频率范围 45-65Hz\n测试精度 0.1%\n"
	runner := &fakeRunner{fn: func(name string, args []string) ([]byte, error) {
		if name != "tesseract" {
			return nil, errors.New("unexpected command " + name)
		}
		return []byte(ocrText), nil
	}}
	fp := &fakeProvider{responses: []string{
		`{"basic_info": {"name": ""}, "confidence": {"overall": 0.1}}`,
		`{"basic_info": {"name": ""}, "specifications": {"输出电压": {"value": "0-120", "unit": "V"}}, "confidence": {"basic_info": 0.2, "specifications": 0.7, "features": 0.3, "overall": 0.5}}`,
	}}
	p := newTestPipeline(t, fp, WithRunner(runner))

	res := p.Analyze(context.Background(), AnalyzeRequest{
		Data:     []byte("\x89PNG fake image"),
		Filename: "六相微机继电保护测试仪.png",
		MIME:     "image/png",
	})
	checkInvariants(t, res)

	bi := res.ExtractedData.BasicInfo
	if bi.Name != "六相微机继电保护测试仪" || bi.Category != "继电保护测试设备" {
		t.Errorf("basic_info = %+v", bi)
	}
	if c := res.ExtractedData.Confidence.BasicInfo; c < 0.8 {
		t.Errorf("basic_info confidence = %v, want >= 0.8", c)
	}
	if !res.ValidationReport.IdentityRepaired {
		t.Error("identity repair not reported")
	}
	if res.DebugInfo.Tier != "enhanced" || !strings.HasPrefix(res.DebugInfo.ExtractionMethod, "ocr_") {
		t.Errorf("tier = %q, method = %q", res.DebugInfo.Tier, res.DebugInfo.ExtractionMethod)
	}
}

func TestAnalyzeCorruptDOC(t *testing.T) {
	fp := &fakeProvider{}
	p := newTestPipeline(t, fp)

	res := p.Analyze(context.Background(), AnalyzeRequest{
		Data:     make([]byte, 4096),
		Filename: "broken.doc",
		MIME:     "application/msword",
	})
	if res.Success || res.ErrorType != docerr.KindCorruption {
		t.Fatalf("success = %v, error_type = %q", res.Success, res.ErrorType)
	}
	found := false
	for _, s := range res.Suggestions {
		if strings.Contains(s, "convert to .docx") {
			found = true
		}
	}
	if !found {
		t.Errorf("suggestions %v missing \"convert to .docx\"", res.Suggestions)
	}
	if res.Error == "" || len(res.ErrorDetails) == 0 {
		t.Errorf("envelope incomplete: %+v", res)
	}
	checkFailureData(t, res)
	if !errors.Is(res.Err(), ErrCorruptDocument) {
		t.Errorf("Err() = %v", res.Err())
	}
	if fp.calls() != 0 {
		t.Errorf("llm calls = %d, want 0", fp.calls())
	}
}

func TestAnalyzeTruncatedJSON(t *testing.T) {
	fp := &fakeProvider{responses: []string{
		`{"basic_info": {"name": "高压开关柜"}, "confidence": {"overall": 0.8}}`,
		`{"basic_info": {"name": "高压开关柜", "code": "KYN28"}, "specifications": {"额定电压": "12kV", "额定电流": "1250A"}, "confidence": {"basic_info": 0.8, "specifications": 0.7, "features": 0.4, "overall": 0.7}, "features": [{"title": "五防联锁", "description": "机械联锁可`,
	}}
	p := newTestPipeline(t, fp)

	res := p.Analyze(context.Background(), AnalyzeRequest{
		Data:     []byte("KYN28 高压开关柜产品说明。\n\n额定电压：12kV，额定电流：1250A，具有完善的五防联锁功能。"),
		Filename: "KYN28.txt",
		MIME:     "text/plain",
	})
	checkInvariants(t, res)

	if res.DebugInfo.Repair != "patched" {
		t.Errorf("repair = %q, want patched", res.DebugInfo.Repair)
	}
	if _, ok := res.ExtractedData.Specifications["额定电压"]; !ok {
		t.Errorf("specifications = %v", res.ExtractedData.Specifications)
	}
	if res.ExtractedData.Confidence.Overall <= 0 {
		t.Error("overall confidence is zero")
	}
	if res.DebugInfo.Usage.TotalTokens != 300 {
		t.Errorf("usage = %+v", res.DebugInfo.Usage)
	}
}

func TestAnalyzeMarkdownResponse(t *testing.T) {
	fp := &fakeProvider{responses: []string{
		`{"basic_info": {"name": "继电保护测试仪"}, "confidence": {"overall": 0.85}}`,
		"以下是提取结果：\n\n| 参数 | 值 |\n|---|---|\n| 产品名称 | 六相微机继电保护测试仪 |\n| 型号 | PW636i |\n| 额定电压 | 220V |\n",
	}}
	p := newTestPipeline(t, fp)

	res := p.Analyze(context.Background(), AnalyzeRequest{
		Data:     []byte("六相微机继电保护测试仪使用说明，本装置适用于各类继电保护装置的调试与检验工作。"),
		Filename: "manual.txt",
	})
	checkInvariants(t, res)

	if res.DebugInfo.Repair != "markdown_table" {
		t.Errorf("repair = %q", res.DebugInfo.Repair)
	}
	if res.ExtractedData.BasicInfo.Name != "六相微机继电保护测试仪" {
		t.Errorf("name = %q", res.ExtractedData.BasicInfo.Name)
	}
	if o := res.ExtractedData.Confidence.Overall; math.Abs(o-0.8) > 0.011 {
		t.Errorf("overall = %v, want ≈ 0.80", o)
	}
}

func TestAnalyzeOversizedBlob(t *testing.T) {
	fp := &fakeProvider{}
	p := newTestPipeline(t, fp)

	for _, size := range []int{10<<20 + 1, 100 << 20} {
		res := p.Analyze(context.Background(), AnalyzeRequest{
			Data:     make([]byte, size),
			Filename: "huge.txt",
			MIME:     "text/plain",
		})
		if res.Success || res.ErrorType != docerr.KindFileSize {
			t.Errorf("size %d: error_type = %q", size, res.ErrorType)
		}
		if !errors.Is(res.Err(), ErrFileTooLarge) {
			t.Errorf("size %d: Err() = %v", size, res.Err())
		}
	}
	if fp.calls() != 0 {
		t.Errorf("llm calls = %d, want 0", fp.calls())
	}
}

// ---------------------------------------------------------------------------
// Failure envelope
// ---------------------------------------------------------------------------

func TestAnalyzeEmptyAndUnsupported(t *testing.T) {
	p := newTestPipeline(t, nil)
	tests := []struct {
		name string
		req  AnalyzeRequest
		want docerr.Kind
	}{
		{"empty", AnalyzeRequest{Filename: "a.txt"}, docerr.KindEmptyContent},
		{"unsupported", AnalyzeRequest{Data: []byte("xyz"), Filename: "a.exe", MIME: "application/x-msdownload"}, docerr.KindFormat},
		{"whitespace", AnalyzeRequest{Data: []byte("   \n\n "), Filename: "a.txt"}, docerr.KindEmptyContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Analyze(context.Background(), tt.req)
			if res.Success || res.ErrorType != tt.want {
				t.Errorf("error_type = %q, want %q", res.ErrorType, tt.want)
			}
			if len(res.Suggestions) == 0 || res.Error == "" {
				t.Errorf("envelope incomplete: %+v", res)
			}
			if res.DocumentInfo == nil || res.DocumentInfo.Filename != tt.req.Filename {
				t.Errorf("document_info = %+v", res.DocumentInfo)
			}
			checkFailureData(t, res)
		})
	}
}

const plainSpecText = "开关柜说明书\n额定电压 380V\n额定电流 100A\n"

func TestAnalyzeDeadline(t *testing.T) {
	fp := &fakeProvider{block: true}
	p := newTestPipeline(t, fp)

	res := p.Analyze(context.Background(), AnalyzeRequest{
		Data:     []byte(plainSpecText),
		Filename: "spec.txt",
		Deadline: 50 * time.Millisecond,
	})
	if res.ErrorType != docerr.KindAITimeout {
		t.Fatalf("error_type = %q, want ai_service_timeout", res.ErrorType)
	}
	if !strings.Contains(res.DebugInfo.PartialText, "额定电压") {
		t.Errorf("partial text = %q", res.DebugInfo.PartialText)
	}
	if !errors.Is(res.Err(), ErrLLMTimeout) {
		t.Errorf("Err() = %v", res.Err())
	}
}

func TestAnalyzeAIErrors(t *testing.T) {
	tests := []struct {
		err  error
		want docerr.Kind
	}{
		{&llm.APIError{StatusCode: 401, Body: "bad key"}, docerr.KindAIAuth},
		{&llm.APIError{StatusCode: 429, Body: "slow down"}, docerr.KindAIQuota},
		{&llm.APIError{StatusCode: 500, Body: "oops"}, docerr.KindAIService},
	}
	for _, tt := range tests {
		p := newTestPipeline(t, &fakeProvider{err: tt.err})
		res := p.Analyze(context.Background(), AnalyzeRequest{Data: []byte(plainSpecText), Filename: "spec.txt"})
		if res.ErrorType != tt.want {
			t.Errorf("%v: error_type = %q, want %q", tt.err, res.ErrorType, tt.want)
		}
		if res.DebugInfo.PartialText != "" {
			t.Errorf("%v: partial text on non-timeout failure", tt.err)
		}
	}
}

func TestDescribe(t *testing.T) {
	err := docerr.New(docerr.KindCorruption, "乱码").
		WithDetails("readability=0.01").
		WithSuggestions("请将.doc文件转换为.docx格式后重新上传 (convert to .docx)")
	f := describe(err)
	if f.Kind != docerr.KindCorruption || f.Title != envelopes[docerr.KindCorruption].title {
		t.Errorf("kind = %q, title = %q", f.Kind, f.Title)
	}
	if f.Details[0] != "乱码" || f.Details[1] != "readability=0.01" {
		t.Errorf("details = %v", f.Details)
	}
	if !strings.Contains(f.Suggestions[0], "convert to .docx") {
		t.Errorf("suggestions = %v, want the error's own first", f.Suggestions)
	}

	plain := describe(errors.New("boom"))
	if plain.Kind != docerr.KindUnknown || plain.Details[0] != "boom" {
		t.Errorf("plain = %+v", plain)
	}

	for _, k := range docerr.Kinds {
		env, ok := envelopes[k]
		if !ok || env.title == "" || len(env.suggestions) == 0 {
			t.Errorf("kind %q has no envelope", k)
		}
	}
}

func TestValidatePanicKeepsIdentity(t *testing.T) {
	// A nil validator panics once scoring starts.
	p := &pipeline{}
	data := schema.Default()
	data.Specifications["额定电压"] = schema.SpecValue{Value: "12", Unit: "kV"}
	data.Confidence = schema.Confidence{BasicInfo: 0.4, Specifications: 0.6}

	rep, err := p.validate(data, validator.Context{Filename: "开关柜说明书.pdf", Text: "KYN28-12 开关柜"})
	if err == nil {
		t.Fatal("validate did not report the panic")
	}
	if data.BasicInfo.Name == "" || data.BasicInfo.Code == "" {
		t.Errorf("identity incomplete after panic: %+v", data.BasicInfo)
	}
	if data.BasicInfo.Code != "KYN28-12" {
		t.Errorf("code = %q", data.BasicInfo.Code)
	}
	if !rep.IdentityRepaired {
		t.Error("identity repair not reported")
	}
	c := data.Confidence
	if want := round2(0.3*c.BasicInfo + 0.7*c.Specifications); c.Overall != want {
		t.Errorf("overall = %v, want %v", c.Overall, want)
	}
}

// ---------------------------------------------------------------------------
// Learning
// ---------------------------------------------------------------------------

func TestAnalyzePersonalization(t *testing.T) {
	fl := &fakeLearning{hints: &store.Hints{
		Hints: []string{"请仔细核对参数「额定电压」的数值和单位"},
		PatternContext: store.PatternContext{
			Accuracy:        0.95,
			SampleCount:     8,
			SuccessPatterns: []string{"产品类别通常为「开关设备」（5次准确识别）"},
		},
	}}
	fp := &fakeProvider{responses: []string{
		`{"basic_info": {"name": "开关柜"}, "confidence": {"overall": 0.8}}`,
		`{"basic_info": {"name": "开关柜", "code": "GGD"}, "specifications": {"额定电压": "380V"}, "confidence": {"basic_info": 0.8, "specifications": 0.8, "features": 0.5}}`,
	}}
	p := newTestPipeline(t, fp, WithLearningStore(fl))

	res := p.Analyze(context.Background(), AnalyzeRequest{Data: []byte(plainSpecText), Filename: "spec.txt", UserID: "u1"})
	checkInvariants(t, res)

	system := fp.requests[1].Messages[0].Content
	if !strings.Contains(system, "请避免以下常见错误") || !strings.Contains(system, "额定电压") {
		t.Errorf("detailed prompt not personalized:\n%s", system)
	}
	if !strings.Contains(system, "开关设备") {
		t.Error("success pattern missing from prompt")
	}
	if res.DebugInfo.HintsApplied != 2 {
		t.Errorf("hints applied = %d", res.DebugInfo.HintsApplied)
	}
	if len(fl.learned) != 0 {
		t.Error("Analyze wrote to the learning store")
	}

	// Without a user id the store is not consulted.
	fp2 := &fakeProvider{responses: fp.responses}
	p2 := newTestPipeline(t, fp2, WithLearningStore(fl))
	p2.Analyze(context.Background(), AnalyzeRequest{Data: []byte(plainSpecText), Filename: "spec.txt"})
	if strings.Contains(fp2.requests[1].Messages[0].Content, "请避免以下常见错误") {
		t.Error("anonymous analysis was personalized")
	}
}

func TestAnalyzeHintsFailureIsNotFatal(t *testing.T) {
	fl := &fakeLearning{hintsErr: errors.New("database is locked")}
	fp := &fakeProvider{responses: []string{
		`{"basic_info": {"name": "开关柜"}, "confidence": {"overall": 0.8}}`,
		`{"basic_info": {"name": "开关柜"}, "specifications": {"额定电压": "380V"}, "confidence": {"basic_info": 0.8, "specifications": 0.8}}`,
	}}
	p := newTestPipeline(t, fp, WithLearningStore(fl))
	res := p.Analyze(context.Background(), AnalyzeRequest{Data: []byte(plainSpecText), Filename: "spec.txt", UserID: "u1"})
	checkInvariants(t, res)
}

func TestLearningDisabled(t *testing.T) {
	p := newTestPipeline(t, nil)
	ctx := context.Background()
	if _, err := p.Learn(ctx, store.Correction{Original: schema.Default(), Final: schema.Default()}); !errors.Is(err, ErrLearningStoreDisabled) {
		t.Errorf("Learn err = %v", err)
	}
	if _, err := p.Statistics(ctx, 7); !errors.Is(err, ErrLearningStoreDisabled) {
		t.Errorf("Statistics err = %v", err)
	}
	if _, err := p.PromptOptimization(ctx, "pdf", ""); !errors.Is(err, ErrLearningStoreDisabled) {
		t.Errorf("PromptOptimization err = %v", err)
	}
}

func TestLearnPassThrough(t *testing.T) {
	fl := &fakeLearning{}
	p := newTestPipeline(t, nil, WithLearningStore(fl))
	ctx := context.Background()

	if _, err := p.Learn(ctx, store.Correction{RecordID: "r1"}); !errors.Is(err, ErrInvalidCorrection) {
		t.Errorf("err = %v, want ErrInvalidCorrection", err)
	}
	res, err := p.Learn(ctx, store.Correction{RecordID: "r1", Original: schema.Default(), Final: schema.Default()})
	if err != nil || res.RecordID != "r1" || len(fl.learned) != 1 {
		t.Errorf("Learn = %+v, %v", res, err)
	}
	st, err := p.Statistics(ctx, 7)
	if err != nil || st.Days != 7 || st.TotalCorrections != 1 {
		t.Errorf("Statistics = %+v, %v", st, err)
	}
	if err := p.Close(); err != nil || !fl.closed {
		t.Errorf("Close = %v, closed = %v", err, fl.closed)
	}
}

func TestPromptOptimizationRefinement(t *testing.T) {
	fl := &fakeLearning{opt: &store.PromptOptimization{
		DocType:            "pdf",
		PromptEnhancements: []string{"不要遗漏参数「额定频率」"},
		CommonErrors:       []string{"参数「额定频率」经常被补充（3次）"},
	}}
	fp := &fakeProvider{responses: []string{`["不要遗漏参数「额定频率」", "额定频率通常位于技术参数表末尾"]`}}
	p := newTestPipeline(t, fp, WithLearningStore(fl))

	po, err := p.PromptOptimization(context.Background(), "pdf", "")
	if err != nil {
		t.Fatalf("PromptOptimization: %v", err)
	}
	if len(po.PromptEnhancements) != 2 || po.PromptEnhancements[1] != "额定频率通常位于技术参数表末尾" {
		t.Errorf("enhancements = %v", po.PromptEnhancements)
	}

	// A failing model keeps the store's guidance.
	fl.opt.PromptEnhancements = []string{"不要遗漏参数「额定频率」"}
	p2 := newTestPipeline(t, &fakeProvider{err: errors.New("down")}, WithLearningStore(fl))
	po, err = p2.PromptOptimization(context.Background(), "pdf", "")
	if err != nil || len(po.PromptEnhancements) != 1 {
		t.Errorf("fallback = %+v, %v", po, err)
	}
}

func TestHealthCheck(t *testing.T) {
	p := newTestPipeline(t, &fakeProvider{responses: []string{"OK"}})
	if h := p.HealthCheck(context.Background()); h.Status != "ok" || h.LearningStore != "disabled" {
		t.Errorf("health = %+v", h)
	}

	p = newTestPipeline(t, &fakeProvider{err: &llm.APIError{StatusCode: 401}}, WithLearningStore(&fakeLearning{}))
	h := p.HealthCheck(context.Background())
	if h.Status != "degraded" || h.LLM != string(docerr.KindAIAuth) || h.LearningStore != "enabled" {
		t.Errorf("health = %+v", h)
	}
}

func TestWordCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"额定电压 380V", 5},
		{"rated voltage 380V", 3},
		{"---", 0},
	}
	for _, tt := range tests {
		if got := wordCount(tt.in); got != tt.want {
			t.Errorf("wordCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
