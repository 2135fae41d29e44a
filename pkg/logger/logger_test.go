package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetLevel("warn")
	defer SetLevel("info")

	InfoCF("core", "should be filtered", nil)
	WarnCF("core", "should appear", map[string]interface{}{"turns": 3})

	got := buf.String()
	if strings.Contains(got, "should be filtered") {
		t.Fatalf("info line leaked past warn level: %q", got)
	}
	if !strings.Contains(got, "WARN [core] should appear turns=3") {
		t.Fatalf("warn line missing or malformed: %q", got)
	}
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetLevel("info")

	InfoCF("store", "saved", map[string]interface{}{"zeta": 1, "alpha": 2})

	got := buf.String()
	if strings.Index(got, "alpha=2") > strings.Index(got, "zeta=1") {
		t.Fatalf("fields not sorted: %q", got)
	}
}
