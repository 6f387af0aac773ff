package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/raphaelgruber/intake/internal/models"
)

type stubGenerator struct {
	text string
	err  error
	last Request
}

func (g *stubGenerator) Generate(_ context.Context, req Request) (*Response, error) {
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return &Response{Text: g.text, Usage: models.Usage{InputTokens: 50, OutputTokens: 7}}, nil
}

func (g *stubGenerator) Model() string { return "stub-1" }

func TestLLMAnalyzerClassify(t *testing.T) {
	gen := &stubGenerator{text: "```json\n{\"session_type\": \"Technical\", \"confidence\": 0.92, \"rationale\": \"APIs discussed\"}\n```"}
	a := NewLLMAnalyzer(gen, "")

	res, err := a.Analyze(context.Background(), Content{Text: "Bob: we call the SAP API"}, TaskClassify, Options{})
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if res.Classification == nil || res.Classification.Type != models.SessionTechnical {
		t.Fatalf("Classification = %+v", res.Classification)
	}
	if res.Classification.Confidence != 0.92 {
		t.Errorf("Confidence = %v", res.Classification.Confidence)
	}
	if res.Model != "stub-1" || res.Usage.InputTokens != 50 {
		t.Errorf("Model/Usage = %s/%+v", res.Model, res.Usage)
	}
	if !strings.Contains(gen.last.Prompt, "SAP API") {
		t.Errorf("prompt does not include text: %q", gen.last.Prompt)
	}
	if gen.last.Attachment != nil {
		t.Error("text content should not be attached")
	}
	if a.Name() != "stub-1" {
		t.Errorf("Name() = %q", a.Name())
	}
}

func TestLLMAnalyzerExtractAttachment(t *testing.T) {
	gen := &stubGenerator{text: `{"items": [
		{"type": "goal", "content": "Halve handling time", "confidence": 0.9, "speaker": "Bob"},
		{"type": "KPI Target", "content": "AHT under 4 minutes", "confidence": "85%"},
		{"type": "weather", "content": "it rained"},
		{"type": "risk", "content": "   "}
	]}`}
	a := NewLLMAnalyzer(gen, "primary")

	content := Content{Data: []byte("%PDF-1.7"), MIMEType: "application/pdf", Filename: "brief.pdf"}
	res, err := a.Analyze(context.Background(), content, TaskGeneral, Options{})
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if gen.last.Attachment == nil || gen.last.Attachment.MIMEType != "application/pdf" {
		t.Fatalf("attachment = %+v", gen.last.Attachment)
	}
	if len(res.Items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(res.Items), res.Items)
	}
	if res.Items[0].Provenance == nil || res.Items[0].Provenance.Speaker != "Bob" {
		t.Errorf("provenance = %+v", res.Items[0].Provenance)
	}
	if res.Items[1].Type != models.ItemKPITarget || res.Items[1].Confidence != 0.85 {
		t.Errorf("item[1] = %+v", res.Items[1])
	}
	for _, it := range res.Items {
		if it.Stage != models.StageGeneralExtraction {
			t.Errorf("item stage = %s", it.Stage)
		}
	}
	if a.Name() != "primary" {
		t.Errorf("Name() = %q", a.Name())
	}
}

func TestLLMAnalyzerUnparseableKeepsUsage(t *testing.T) {
	gen := &stubGenerator{text: "I'm sorry, I can't help with that."}
	res, err := NewLLMAnalyzer(gen, "").Analyze(context.Background(), Content{Text: "x"}, TaskSpecialized, Options{SessionType: models.SessionProcess})
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("error = %v, want ErrUnparseable", err)
	}
	if res == nil || res.Usage.OutputTokens != 7 {
		t.Errorf("result = %+v, want usage retained", res)
	}
}

func TestLLMAnalyzerFatalBackendError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("HTTP 401: invalid x-api-key")}
	_, err := NewLLMAnalyzer(gen, "").Analyze(context.Background(), Content{Text: "x"}, TaskGeneral, Options{})
	if !errors.Is(err, ErrFatalAPI) {
		t.Errorf("error = %v, want ErrFatalAPI", err)
	}
}

func TestBuildRequest(t *testing.T) {
	t.Run("specialized focuses on session types", func(t *testing.T) {
		req, err := buildRequest(Content{Text: "x"}, TaskSpecialized, Options{SessionType: models.SessionTechnical})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(req.System, string(models.ItemSystemIntegration)) {
			t.Error("technical focus should list system_integration")
		}
		if strings.Contains(req.System, string(models.ItemApproval)) {
			t.Error("technical focus should not list approval")
		}
	})

	t.Run("refine embeds draft items", func(t *testing.T) {
		items := []models.ProposedItem{{Type: models.ItemRisk, Content: "vendor lock-in", Confidence: 0.4}}
		req, err := buildRequest(Content{Text: "x"}, TaskRefine, Options{Items: items})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(req.Prompt, "vendor lock-in") {
			t.Errorf("refine prompt missing draft: %q", req.Prompt)
		}
	})

	t.Run("refine without items", func(t *testing.T) {
		if _, err := buildRequest(Content{Text: "x"}, TaskRefine, Options{}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("chunk position", func(t *testing.T) {
		req, _ := buildRequest(Content{Text: "x"}, TaskGeneral, Options{Part: 2, Parts: 3})
		if !strings.Contains(req.Prompt, "part 2 of 3") {
			t.Errorf("prompt = %q", req.Prompt)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		if _, err := buildRequest(Content{Text: "x"}, Task("summarize"), Options{}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{``, 0},
		{`0.75`, 0.75},
		{`1.4`, 1},
		{`-2`, 0},
		{`"0.6"`, 0.6},
		{`"80%"`, 0.8},
		{`"high"`, 0},
		{`null`, 0},
	}
	for _, tt := range tests {
		if got := parseConfidence([]byte(tt.raw)); got != tt.want {
			t.Errorf("parseConfidence(%s) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseClassificationUnknownZeroesConfidence(t *testing.T) {
	c, err := parseClassification(`{"session_type": "brainstorm", "confidence": 0.9}`)
	if err != nil {
		t.Fatal(err)
	}
	if c.Type != models.SessionUnknown || c.Confidence != 0 {
		t.Errorf("got %+v", c)
	}
}

func TestTokenCount(t *testing.T) {
	info := map[string]any{"PromptTokens": 12, "CompletionTokens": float64(3), "eval_count": int64(9)}
	if got := tokenCount(info, "InputTokens", "PromptTokens"); got != 12 {
		t.Errorf("tokenCount(PromptTokens) = %d", got)
	}
	if got := tokenCount(info, "OutputTokens", "CompletionTokens"); got != 3 {
		t.Errorf("tokenCount(CompletionTokens) = %d", got)
	}
	if got := tokenCount(nil, "InputTokens"); got != 0 {
		t.Errorf("tokenCount(nil) = %d", got)
	}
}
