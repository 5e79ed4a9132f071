package runtime

import (
	"strings"
	"testing"

	"github.com/suraboy/weather-insight/internal/tools"
)

func TestBuildInstructionDefault(t *testing.T) {
	reg, err := tools.NewRegistry(tools.Builtin()...)
	if err != nil {
		t.Fatal(err)
	}
	got, err := BuildInstruction("", reg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Do not just describe the weather") {
		t.Error("expected navigation bias in instruction")
	}
	if !strings.Contains(got, "home, search, compare") {
		t.Errorf("expected page list, got %q", got)
	}
	if !strings.Contains(got, "navigate_to_page, search_weather, compare_weather") {
		t.Errorf("expected tool list, got %q", got)
	}
}

func TestBuildInstructionCustom(t *testing.T) {
	reg, _ := tools.NewRegistry(tools.Builtin()...)
	got, err := BuildInstruction("Pages: {{.Pages}}", reg)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Pages: home, search, compare" {
		t.Errorf("unexpected instruction %q", got)
	}
	if _, err := BuildInstruction("{{.Missing", reg); err == nil {
		t.Error("expected parse error")
	}
}
