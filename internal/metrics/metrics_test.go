package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTrack_RecordsOutcome(t *testing.T) {
	r := NewRegistry()

	if err := r.Track("sync_basic", "", func() error { return nil }); err != nil {
		t.Fatalf("Track returned %v", err)
	}
	wantErr := errors.New("boom")
	if err := r.Track("sync_basic", "", func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("Track swallowed the error: %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `loong_operations_total{op="sync_basic",status="ok"} 1`) {
		t.Errorf("ok counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, `loong_operations_total{op="sync_basic",status="error"} 1`) {
		t.Errorf("error counter missing from exposition:\n%s", body)
	}
}

func TestSlowOps_RecordedAndOrdered(t *testing.T) {
	r := NewRegistry()

	r.recordSlowOp("first", "", 2*time.Second)
	r.recordSlowOp("second", "", 3*time.Second)

	ops := r.SlowOps()
	if len(ops) != 2 {
		t.Fatalf("got %d slow ops, want 2", len(ops))
	}
	if ops[0].Op != "second" {
		t.Errorf("newest first: got %s", ops[0].Op)
	}
}

func TestSlowOps_RingCaps(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < slowOpCapacity+20; i++ {
		r.recordSlowOp("op", "", 2*time.Second)
	}
	if got := len(r.SlowOps()); got != slowOpCapacity {
		t.Errorf("ring holds %d entries, want %d", got, slowOpCapacity)
	}
}

func TestTrack_FastOpNotRecordedSlow(t *testing.T) {
	r := NewRegistry()

	_ = r.Track("fast", "", func() error { return nil })
	if got := len(r.SlowOps()); got != 0 {
		t.Errorf("fast op recorded as slow: %d entries", got)
	}
}

func TestRecordLLMTokens(t *testing.T) {
	r := NewRegistry()
	r.RecordLLMTokens("gemini-2.5-flash", 1200, 400)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `loong_llm_tokens_total{direction="in",model="gemini-2.5-flash"} 1200`) {
		t.Errorf("token counter missing from exposition:\n%s", body)
	}
}
