package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

const modulePath = "avatar-sync/server"

// rule forbids packages under From from importing anything under one of Deny.
type rule struct {
	From string
	Deny []string
}

var layering = []rule{
	{From: "internal/state", Deny: []string{"internal/sim", "internal/world", "internal/hub", "internal/net", "internal/client", "internal/app"}},
	{From: "internal/world", Deny: []string{"internal/sim", "internal/hub", "internal/net", "internal/client", "internal/app"}},
	{From: "internal/net/proto", Deny: []string{"internal/sim", "internal/world", "internal/hub", "internal/client", "internal/app"}},
	{From: "internal/sim", Deny: []string{"internal/hub", "internal/net/udp", "internal/net/ws", "internal/client", "internal/app"}},
	{From: "internal/hub", Deny: []string{"internal/net/udp", "internal/net/ws", "internal/client", "internal/app"}},
	{From: "internal/client", Deny: []string{"internal/hub", "internal/net/udp", "internal/app"}},
	{From: "logging", Deny: []string{"internal"}},
}

func main() {
	dir := flag.String("C", ".", "module root to check")
	flag.Parse()

	pkgs, err := packages.Load(&packages.Config{
		Mode:  packages.NeedName | packages.NeedImports,
		Dir:   *dir,
		Tests: true,
	}, "./...")
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to load packages: %v\n", err)
		os.Exit(1)
	}
	if packages.PrintErrors(pkgs) > 0 {
		os.Exit(1)
	}

	found := violations(pkgs, layering)
	if len(found) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range found {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func violations(pkgs []*packages.Package, rules []rule) []string {
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		from, ok := relative(pkg.PkgPath)
		if !ok {
			continue
		}
		for _, r := range rules {
			if !within(from, r.From) {
				continue
			}
			for imp := range pkg.Imports {
				to, ok := relative(imp)
				if !ok {
					continue
				}
				for _, deny := range r.Deny {
					if within(to, deny) {
						seen[fmt.Sprintf("%s -> %s", pkg.PkgPath, imp)] = struct{}{}
					}
				}
			}
		}
	}
	found := make([]string, 0, len(seen))
	for v := range seen {
		found = append(found, v)
	}
	sort.Strings(found)
	return found
}

func relative(path string) (string, bool) {
	if path == modulePath {
		return "", true
	}
	rest, ok := strings.CutPrefix(path, modulePath+"/")
	return rest, ok
}

func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
