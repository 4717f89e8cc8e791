package main

import (
	"testing"
	"time"
)

func TestParseSelectorFlags(t *testing.T) {
	got, err := parseSelectorFlags([]string{"title=h1", ` link = a[href="/x"] `})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["title"] != "h1" {
		t.Errorf("title = %q, want h1", got["title"])
	}
	if got["link"] != `a[href="/x"]` {
		t.Errorf("link = %q, want a[href=\"/x\"]", got["link"])
	}

	for _, bad := range [][]string{
		{"title"},
		{"=h1"},
		{"title="},
		{"title=h1", "title=h2"},
	} {
		if _, err := parseSelectorFlags(bad); err == nil {
			t.Errorf("parseSelectorFlags(%q) should fail", bad)
		}
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "extract", "detect", "generate", "run", "blueprints"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (got %v, %v)", name, cmd, err)
		}
	}
}

func TestFetchFlagsOptions(t *testing.T) {
	ff := fetchFlags{wait: "networkidle", timeout: 1500 * time.Millisecond}
	opts := ff.options()
	if opts.Wait != "networkidle" || opts.TimeoutMS != 1500 {
		t.Errorf("options = %+v", opts)
	}
}
