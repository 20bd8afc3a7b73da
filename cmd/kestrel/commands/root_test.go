package commands

import "testing"

func TestRootCommandFormatFlag(t *testing.T) {
	cmd := newRootCommand("test", "none", "now")

	flag := cmd.PersistentFlags().Lookup("format")
	if flag == nil {
		t.Fatal("format flag not registered")
	}
	if flag.DefValue != "text" {
		t.Errorf("format default = %s, want text", flag.DefValue)
	}
}

func TestRootCommandRejectsUnknownFormat(t *testing.T) {
	defer func() { outputFormat = "text" }()

	cmd := newRootCommand("test", "none", "now")
	for _, format := range []string{"text", "json"} {
		outputFormat = format
		if err := cmd.PersistentPreRunE(cmd, nil); err != nil {
			t.Errorf("format %s rejected: %v", format, err)
		}
	}

	outputFormat = "yaml"
	if err := cmd.PersistentPreRunE(cmd, nil); err == nil {
		t.Error("unsupported format accepted")
	}
}

func TestJSONOutputFollowsFormat(t *testing.T) {
	defer func() { outputFormat = "text" }()

	outputFormat = "json"
	if !jsonOutput() {
		t.Error("json format not detected")
	}
	outputFormat = "text"
	if jsonOutput() {
		t.Error("text format reported as json")
	}
}
