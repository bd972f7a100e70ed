package capture

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aseven02/streamget/internal/douyin"
)

func TestOutcomeJSONReportsElapsedMillis(t *testing.T) {
	out := Outcome{
		Quality: douyin.QualityOrigin,
		Status:  StatusCompleted,
		Elapsed: 1500 * time.Millisecond,
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if ms, ok := decoded["elapsed_ms"].(float64); !ok || ms != 1500 {
		t.Errorf("elapsed_ms = %v, want 1500", decoded["elapsed_ms"])
	}
	if strings.Contains(string(raw), `"elapsed"`) {
		t.Errorf("raw duration leaked into json: %s", raw)
	}
}
