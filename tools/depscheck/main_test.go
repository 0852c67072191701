package main

import (
	"reflect"
	"testing"

	"golang.org/x/tools/go/packages"
)

func pkg(path string, imports ...string) *packages.Package {
	p := &packages.Package{PkgPath: path, Imports: map[string]*packages.Package{}}
	for _, imp := range imports {
		p.Imports[imp] = &packages.Package{PkgPath: imp}
	}
	return p
}

func TestViolationsFlagsForbiddenImports(t *testing.T) {
	pkgs := []*packages.Package{
		pkg(modulePath+"/internal/state", "github.com/go-gl/mathgl/mgl64"),
		pkg(modulePath+"/internal/sim", modulePath+"/internal/state", modulePath+"/internal/net/proto", modulePath+"/internal/hub"),
		pkg(modulePath+"/internal/world", modulePath+"/internal/simulator"),
		pkg(modulePath+"/logging/sinks", modulePath+"/logging", modulePath+"/internal/telemetry"),
		pkg("example.com/other", modulePath+"/internal/hub"),
	}
	got := violations(pkgs, layering)
	want := []string{
		modulePath + "/internal/sim -> " + modulePath + "/internal/hub",
		modulePath + "/logging/sinks -> " + modulePath + "/internal/telemetry",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected violations\n got: %v\nwant: %v", got, want)
	}
}

func TestWithinMatchesWholeSegments(t *testing.T) {
	if within("internal/simulator", "internal/sim") {
		t.Fatalf("expected prefix match to respect path segments")
	}
	if !within("internal/net/proto", "internal/net") || !within("internal/net", "internal/net") {
		t.Fatalf("expected nested and exact paths to match")
	}
}
