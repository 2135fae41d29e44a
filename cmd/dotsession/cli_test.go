package main

import (
	"bytes"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootHelpListsSubcommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("execute --help: %v\nOutput:\n%s", err, output)
	}

	for _, want := range []string{"repl", "list", "show", "fork", "merge", "sweep", "version"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing subcommand %q", want)
		}
	}
}

func TestRootWithoutSubcommandFails(t *testing.T) {
	_, err := runRootCommandForTest()
	if err == nil {
		t.Fatal("expected an error when no subcommand is given")
	}
}

func TestVersionCommand(t *testing.T) {
	output, err := runRootCommandForTest("version")
	if err != nil {
		t.Fatalf("execute version: %v", err)
	}
	if !strings.Contains(output, appName) {
		t.Errorf("version output %q should contain app name", output)
	}
}
