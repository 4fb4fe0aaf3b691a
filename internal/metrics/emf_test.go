package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	return &buf
}

func TestNew_FunctionNameDimension(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "scheduler-lambda")

	r := New(Namespace)
	if r.dimensions["FunctionName"] != "scheduler-lambda" {
		t.Errorf("expected FunctionName dimension, got %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_Flush(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	buf := captureOutput(t)

	New(Namespace).
		Dimension("Platform", "instagram").
		Dimension("Outcome", "posted").
		Metric("PublishLatencyMs", 812, UnitMilliseconds).
		Count("PublishCount").
		Property("postId", "p-1").
		Flush()

	line := strings.TrimSpace(buf.String())
	if strings.Count(line, "\n") != 0 {
		t.Fatalf("expected a single line, got %q", line)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, line)
	}

	if doc["Platform"] != "instagram" || doc["Outcome"] != "posted" {
		t.Errorf("dimension values missing: %v", doc)
	}
	if doc["PublishLatencyMs"] != float64(812) {
		t.Errorf("expected PublishLatencyMs=812, got %v", doc["PublishLatencyMs"])
	}
	if doc["PublishCount"] != float64(1) {
		t.Errorf("expected PublishCount=1, got %v", doc["PublishCount"])
	}
	if doc["postId"] != "p-1" {
		t.Errorf("expected postId property, got %v", doc["postId"])
	}

	aws := doc["_aws"].(map[string]interface{})
	sets := aws["CloudWatchMetrics"].([]interface{})
	set := sets[0].(map[string]interface{})
	if set["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, set["Namespace"])
	}
	dims := set["Dimensions"].([]interface{})[0].([]interface{})
	if len(dims) != 2 || dims[0] != "Outcome" || dims[1] != "Platform" {
		t.Errorf("expected sorted dimension keys [Outcome Platform], got %v", dims)
	}
	defs := set["Metrics"].([]interface{})
	if len(defs) != 2 {
		t.Fatalf("expected 2 metric definitions, got %d", len(defs))
	}
	first := defs[0].(map[string]interface{})
	if first["Name"] != "PublishCount" || first["Unit"] != UnitCount {
		t.Errorf("unexpected first metric definition: %v", first)
	}
}

func TestRecorder_FlushWithoutMetricsWritesNothing(t *testing.T) {
	buf := captureOutput(t)

	New(Namespace).Dimension("Endpoint", "/api/health").Property("k", "v").Flush()

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
