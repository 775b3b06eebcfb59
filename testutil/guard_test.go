package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDomainImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"example.com/mod/pkg/domain", true},
		{"example.com/mod/pkg/domain@v1", true},
		{"example.com/mod/pkg/notdomain", false},
	}
	for _, c := range cases {
		if got := DomainImportForbidden(c.in); got != c.want {
			t.Fatalf("DomainImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestInternalImportForbiddenPredicate(t *testing.T) {
	if !InternalImportForbidden("example.com/mod/internal/x") || InternalImportForbidden("example.com/mod/pkg/x") {
		t.Fatalf("unexpected internal predicate result")
	}
}

func TestImportPrefixForbidden(t *testing.T) {
	forbidden := ImportPrefixForbidden("morphicutil/internal/core", "github.com/xuri/excelize/v2")
	cases := map[string]bool{
		"morphicutil/internal/core":        true,
		"morphicutil/internal/core/sub":    true,
		"morphicutil/internal/corex":       false,
		"github.com/xuri/excelize/v2":      true,
		"github.com/xuri/excelize/v2/util": true,
		"fmt":                              false,
	}
	for in, want := range cases {
		if got := forbidden(in); got != want {
			t.Fatalf("forbidden(%q)=%v want %v", in, got, want)
		}
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestAssertNoDirectImportsIgnoresTestsAndDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	writeFile(t, dir, "main_test.go", "package tmp\nimport \"some/forbidden\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub.go"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	AssertNoDirectImports(t, dir, func(p string) bool { return p == "some/forbidden" }, "tests are exempt")
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"some/forbidden\"\n)\nvar _ = fmt.Sprint\n")
	viols, err := directImportViolations(dir, func(p string) bool { return p == "some/forbidden" })
	if err != nil {
		t.Fatalf("violations: %v", err)
	}
	if len(viols) != 1 || viols[0] != "some/forbidden (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), func(string) bool { return false }); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	writeFile(t, dir, "broken.go", "package tmp\nimport (\n")
	if _, err := directImportViolations(dir, func(string) bool { return false }); err == nil {
		t.Fatalf("expected parse error")
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfDirectViolations(t *testing.T) {
	var r recordingFatal
	failIfDirectViolations(&r, "reason", nil)
	if r.msg != "" {
		t.Fatalf("no violations must not fail")
	}
	failIfDirectViolations(&r, "reason", []string{"a", "b"})
	if !strings.Contains(r.msg, "reason") || !strings.Contains(r.msg, "a\nb") {
		t.Fatalf("unexpected failure message %q", r.msg)
	}
}
