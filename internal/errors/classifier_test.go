package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestShouldShowAsDialog(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"extraction", NewExtractionError(nil), true},
		{"markdown", New(KindMarkdownProcessing, "heading only"), true},
		{"html", New(KindHTMLProcessing, "heading only"), true},
		{"both markers missing", NewEscapeMarkerError("no markers", false, false), true},
		{"start only", NewEscapeMarkerError("no end marker", true, false), false},
		{"reversed", NewEscapeMarkerError("reversed", true, true), false},
		{"rate limit", NewRateLimitError("get page", 30), false},
		{"network", New(KindNetwork, "timeout"), false},
		{"content format", New(KindContentFormat, "empty"), false},
		{"plain error", stderrors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldShowAsDialog(tt.err); got != tt.want {
				t.Errorf("ShouldShowAsDialog() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeverityOf(t *testing.T) {
	if SeverityOf(NewExtractionError(nil)) != SeverityCritical {
		t.Error("extraction failures are critical")
	}
	if SeverityOf(New(KindConnection, "down")) != SeverityTransient {
		t.Error("connection failures are transient")
	}
}

func TestRecoverySuggestions(t *testing.T) {
	t.Run("rate limit mentions wait", func(t *testing.T) {
		got := RecoverySuggestions(NewRateLimitError("publish", 45))
		if len(got) == 0 {
			t.Fatal("expected suggestions")
		}
		joined := strings.Join(got, "\n")
		if !strings.Contains(joined, "45 seconds") {
			t.Errorf("suggestions should mention retry window: %q", joined)
		}
	})

	t.Run("recovery action first", func(t *testing.T) {
		err := New(KindAuthentication, "bad token").WithRecovery("Store a new token.")
		got := RecoverySuggestions(err)
		if got[0] != "Store a new token." {
			t.Errorf("first suggestion = %q", got[0])
		}
	})

	t.Run("no duplicates", func(t *testing.T) {
		err := New(KindNetwork, "x").WithRecovery("Check your network connection.")
		got := RecoverySuggestions(err)
		seen := map[string]bool{}
		for _, s := range got {
			if seen[s] {
				t.Errorf("duplicate suggestion %q", s)
			}
			seen[s] = true
		}
	})

	t.Run("plain error", func(t *testing.T) {
		got := RecoverySuggestions(stderrors.New("boom"))
		if len(got) != 1 {
			t.Errorf("expected one generic suggestion, got %v", got)
		}
	})
}

func TestFormatForLogging(t *testing.T) {
	err := New(KindConnection, "server unavailable").
		WithDetails("status 503").
		WithRecovery("Try later.").
		WithStatus(503)

	got := FormatForLogging(err, "publish")

	for _, want := range []string{"[publish]", "kind=connection", `message="server unavailable"`,
		`recoveryAction="Try later."`, `technicalDetails="status 503"`, "status=503"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatForLogging() = %q, missing %q", got, want)
		}
	}
}

func TestFormatForLogging_PlainErrorRedacted(t *testing.T) {
	got := FormatForLogging(stderrors.New("Authorization: Basic c2VjcmV0c2VjcmV0"), "link")
	if strings.Contains(got, "c2VjcmV0c2VjcmV0") {
		t.Errorf("plain error not redacted: %q", got)
	}
}
