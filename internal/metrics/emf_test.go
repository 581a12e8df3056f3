package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"
)

// capture redirects Flush output for the duration of the test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return &buf
}

func TestNew_FunctionNameDimension(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "deck-lambda")

	r := New(Namespace)
	if r.namespace != "AiDeckBuilder" {
		t.Errorf("expected namespace AiDeckBuilder, got %s", r.namespace)
	}
	if r.dimensions["FunctionName"] != "deck-lambda" {
		t.Errorf("expected FunctionName dimension deck-lambda, got %s", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	buf := capture(t)

	New(Namespace).
		Dimension("Step", "slide").
		Dimension("Result", "success").
		Duration("StepLatencyMs", 1500*time.Millisecond).
		Count("SlidesGenerated").
		Property("deckId", "deck-abc").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]any)
	if !ok || len(cwArr) != 1 {
		t.Fatal("CloudWatchMetrics should hold one entry")
	}
	cw := cwArr[0].(map[string]any)
	if cw["Namespace"] != "AiDeckBuilder" {
		t.Errorf("expected namespace AiDeckBuilder, got %v", cw["Namespace"])
	}
	dims := cw["Dimensions"].([]any)[0].([]any)
	if len(dims) != 2 || dims[0] != "Result" || dims[1] != "Step" {
		t.Errorf("expected sorted dimensions [Result Step], got %v", dims)
	}

	if doc["Step"] != "slide" {
		t.Errorf("expected Step=slide, got %v", doc["Step"])
	}
	if doc["StepLatencyMs"] != float64(1500) {
		t.Errorf("expected StepLatencyMs=1500, got %v", doc["StepLatencyMs"])
	}
	if doc["SlidesGenerated"] != float64(1) {
		t.Errorf("expected SlidesGenerated=1, got %v", doc["SlidesGenerated"])
	}
	if doc["deckId"] != "deck-abc" {
		t.Errorf("expected deckId=deck-abc, got %v", doc["deckId"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := capture(t)
	New("Test").Dimension("Step", "x").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_Count(t *testing.T) {
	rec := New("Test").Count("ImageFailures")

	if v, ok := rec.values["ImageFailures"]; !ok || v != float64(1) {
		t.Errorf("expected ImageFailures=1, got %v", v)
	}
	if m := rec.metrics["ImageFailures"]; m.Unit != UnitCount {
		t.Errorf("expected unit Count, got %v", m.Unit)
	}
}

func TestSetOutputNilDiscards(t *testing.T) {
	SetOutput(nil)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	New("Test").Count("X").Flush()
}
