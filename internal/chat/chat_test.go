package chat

import (
	"fmt"
	"strings"
	"testing"
)

func validBody(content string) []byte {
	return []byte(fmt.Sprintf(`{"messages":[{"role":"user","content":%q}]}`, content))
}

func TestValidate_Success(t *testing.T) {
	req, err := Validate([]byte(`{
		"model": "alpha/one",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hi"}
		],
		"temperature": 0.5,
		"max_tokens": 128
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Model != "alpha/one" {
		t.Errorf("model: got %q", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[1].Role != "user" || req.Messages[1].Content != "hi" {
		t.Errorf("message mangled: %+v", req.Messages[1])
	}
	if req.Temperature == nil || *req.Temperature != 0.5 || req.MaxTokens != 128 {
		t.Errorf("tuning fields lost: %+v", req)
	}
	if req.Stream != nil {
		t.Error("stream should be nil when absent")
	}
}

func TestValidate_TemperatureZeroPreserved(t *testing.T) {
	req, err := Validate([]byte(`{"temperature":0,"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Temperature == nil || *req.Temperature != 0 {
		t.Errorf("explicit temperature 0 should be preserved, got %v", req.Temperature)
	}

	req, err = Validate([]byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Temperature != nil {
		t.Errorf("omitted temperature should be nil, got %v", *req.Temperature)
	}
}

func TestValidate_StreamFlag(t *testing.T) {
	req, err := Validate([]byte(`{"stream":false,"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Stream == nil || *req.Stream {
		t.Error("stream:false should be preserved")
	}
}

func TestValidate_InvalidJSON(t *testing.T) {
	if _, err := Validate([]byte(`{not json`)); err == nil {
		t.Fatal("expected error")
	} else if err.Error() != "invalid JSON body" {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidate_EmptyMessages(t *testing.T) {
	for _, body := range []string{`{}`, `{"messages":[]}`, `{"messages":null}`} {
		if _, err := Validate([]byte(body)); err == nil {
			t.Errorf("%s: expected error", body)
		}
	}
}

func TestValidate_TooManyMessages(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"messages":[`)
	for i := 0; i <= MaxMessages; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"role":"user","content":"x"}`)
	}
	sb.WriteString(`]}`)

	_, err := Validate([]byte(sb.String()))
	if err == nil {
		t.Fatal("expected error for 51 messages")
	}
	if !strings.Contains(err.Error(), "at most 50") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidate_ExactlyMaxMessagesAllowed(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"messages":[`)
	for i := 0; i < MaxMessages; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"role":"user","content":"x"}`)
	}
	sb.WriteString(`]}`)

	if _, err := Validate([]byte(sb.String())); err != nil {
		t.Fatalf("50 messages should be accepted: %v", err)
	}
}

func TestValidate_NonObjectElement(t *testing.T) {
	cases := []string{
		`{"messages":["hi"]}`,
		`{"messages":[42]}`,
		`{"messages":[null]}`,
		`{"messages":[["role","user"]]}`,
	}
	for _, body := range cases {
		_, err := Validate([]byte(body))
		if err == nil {
			t.Errorf("%s: expected error", body)
			continue
		}
		if !strings.Contains(err.Error(), "must be an object") {
			t.Errorf("%s: unexpected message: %v", body, err)
		}
	}
}

func TestValidate_InvalidRole(t *testing.T) {
	cases := []string{"", "robot", "USER", "admin"}
	for _, role := range cases {
		body := fmt.Sprintf(`{"messages":[{"role":%q,"content":"hi"}]}`, role)
		_, err := Validate([]byte(body))
		if err == nil {
			t.Errorf("role %q: expected error", role)
			continue
		}
		if !strings.Contains(err.Error(), "role must be one of") {
			t.Errorf("role %q: unexpected message: %v", role, err)
		}
	}
}

func TestValidate_RoleTrimmedForComparison(t *testing.T) {
	req, err := Validate([]byte(`{"messages":[{"role":" user ","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("padded role should validate: %v", err)
	}
	// The stored role is untouched.
	if req.Messages[0].Role != " user " {
		t.Errorf("role was mutated: %q", req.Messages[0].Role)
	}
}

func TestValidate_AllRolesAccepted(t *testing.T) {
	for _, role := range []string{"system", "user", "assistant", "tool"} {
		body := fmt.Sprintf(`{"messages":[{"role":%q,"content":"hi"}]}`, role)
		if _, err := Validate([]byte(body)); err != nil {
			t.Errorf("role %q: %v", role, err)
		}
	}
}

func TestValidate_NonStringContent(t *testing.T) {
	cases := []string{
		`{"messages":[{"role":"user","content":42}]}`,
		`{"messages":[{"role":"user","content":{"text":"hi"}}]}`,
		`{"messages":[{"role":"user","content":null}]}`,
		`{"messages":[{"role":"user"}]}`,
	}
	for _, body := range cases {
		_, err := Validate([]byte(body))
		if err == nil {
			t.Errorf("%s: expected error", body)
			continue
		}
		if !strings.Contains(err.Error(), "content must be a string") {
			t.Errorf("%s: unexpected message: %v", body, err)
		}
	}
}

func TestValidate_EmptyContent(t *testing.T) {
	_, err := Validate(validBody(""))
	if err == nil || !strings.Contains(err.Error(), "must not be empty") {
		t.Errorf("unexpected: %v", err)
	}
}

func TestValidate_ContentTooLong(t *testing.T) {
	_, err := Validate(validBody(strings.Repeat("a", MaxContentLen+1)))
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("unexpected: %v", err)
	}

	if _, err := Validate(validBody(strings.Repeat("a", MaxContentLen))); err != nil {
		t.Errorf("content at the limit should pass: %v", err)
	}
}

func TestValidate_ContentLimitCountsCharactersNotBytes(t *testing.T) {
	// 7000 CJK characters are 21000 UTF-8 bytes but well under the
	// 20000-character limit.
	if _, err := Validate(validBody(strings.Repeat("日", 7000))); err != nil {
		t.Errorf("multibyte content under the character limit should pass: %v", err)
	}

	if _, err := Validate(validBody(strings.Repeat("日", MaxContentLen))); err != nil {
		t.Errorf("multibyte content at the limit should pass: %v", err)
	}

	_, err := Validate(validBody(strings.Repeat("日", MaxContentLen+1)))
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("multibyte content over the limit should be rejected: %v", err)
	}
}

func TestValidate_ErrorNamesOffendingIndex(t *testing.T) {
	_, err := Validate([]byte(`{"messages":[
		{"role":"user","content":"ok"},
		{"role":"bad","content":"x"}
	]}`))
	if err == nil || !strings.Contains(err.Error(), "messages[1]") {
		t.Errorf("error should name the failing index: %v", err)
	}
}

// ── PlanModels ───────────────────────────────────────────────────────────────

func TestPlanModels_RequestedFirst(t *testing.T) {
	plan := PlanModels("alpha/one", "beta/two", []string{"gamma/three"}, 3)
	want := []string{"alpha/one", "gamma/three"}
	assertPlan(t, plan, want)
}

func TestPlanModels_DefaultWhenNoRequest(t *testing.T) {
	plan := PlanModels("", "beta/two", []string{"gamma/three"}, 3)
	assertPlan(t, plan, []string{"beta/two", "gamma/three"})
}

func TestPlanModels_FallbackWhenNoDefault(t *testing.T) {
	plan := PlanModels("", "", []string{"gamma/three", "delta/four"}, 3)
	assertPlan(t, plan, []string{"gamma/three", "delta/four"})
}

func TestPlanModels_Empty(t *testing.T) {
	if plan := PlanModels("", "", nil, 3); plan != nil {
		t.Errorf("expected nil plan, got %v", plan)
	}
}

func TestPlanModels_DedupeKeepsFirstSeen(t *testing.T) {
	plan := PlanModels("alpha/one", "beta/two", []string{"alpha/one", "gamma/three", "gamma/three"}, 5)
	assertPlan(t, plan, []string{"alpha/one", "gamma/three"})
}

func TestPlanModels_CaseSensitiveDedupe(t *testing.T) {
	plan := PlanModels("Alpha/One", "", []string{"alpha/one"}, 3)
	assertPlan(t, plan, []string{"Alpha/One", "alpha/one"})
}

func TestPlanModels_CappedAtMaxAttempts(t *testing.T) {
	plan := PlanModels("m1", "", []string{"m2", "m3", "m4", "m5"}, 3)
	assertPlan(t, plan, []string{"m1", "m2", "m3"})
}

func TestPlanModels_SkipsEmptyFallbacks(t *testing.T) {
	plan := PlanModels("m1", "", []string{"", "m2"}, 3)
	assertPlan(t, plan, []string{"m1", "m2"})
}

func assertPlan(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("plan length: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("plan[%d]: got %v, want %v", i, got, want)
		}
	}
}
