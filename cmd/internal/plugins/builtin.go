package plugins

// DefaultPlugin is used when a session is created without naming a plugin.
const DefaultPlugin = "shell"

// Shell is the raw terminal.
func Shell() Plugin {
	return Plugin{
		Name:        "shell",
		DisplayName: "Shell",
		QuickActions: []QuickAction{
			{Label: "Clear", Command: "clear", Icon: "trash"},
			{Label: "Exit", Command: "exit", Icon: "x"},
		},
	}
}

// ClaudeCode wraps the claude CLI.
func ClaudeCode(lookPath LookPathFunc) Plugin {
	return Plugin{
		Name:        "claude-code",
		DisplayName: "Claude Code",
		Command:     "claude",
		QuickActions: []QuickAction{
			{Label: "New conversation", Command: "claude", Icon: "chat"},
			{Label: "Continue last", Command: "claude --continue", Icon: "arrow-right"},
			{Label: "Resume session", Command: "claude --resume", Icon: "rotate"},
		},
		Probe: binaryProbe(lookPath, "claude", "claude CLI not found in PATH"),
	}
}

func binaryProbe(lookPath LookPathFunc, binary, missing string) func() Health {
	return func() Health {
		if _, err := lookPath(binary); err != nil {
			msg := missing
			return Health{Available: false, Message: &msg}
		}
		return Health{Available: true}
	}
}
