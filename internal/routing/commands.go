package routing

import "strings"

// Chat commands, used after the configured prefix.
const (
	CmdDesign  = "design"
	CmdApprove = "approve"
	CmdImage   = "image"
	CmdShare   = "share"
	CmdEnd     = "end"
	CmdHelp    = "help"
)

// Command is a parsed chat command.
type Command struct {
	Name string
	Arg  string
}

// ParseCommand splits "<prefix><name> <arg>" into a Command. Names are
// case-insensitive. ok is false for ordinary messages.
func ParseCommand(body, prefix string) (Command, bool) {
	body = strings.TrimSpace(body)
	if prefix == "" || !strings.HasPrefix(body, prefix) {
		return Command{}, false
	}
	rest := strings.TrimPrefix(body, prefix)
	name, arg, _ := strings.Cut(rest, " ")
	if name == "" {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}, true
}

func helpText(prefix string) string {
	return strings.Join([]string{
		prefix + CmdDesign + " <description>: start a new game design",
		prefix + CmdApprove + ": approve the design and end the conversation",
		prefix + CmdImage + ": illustrate the current design",
		prefix + CmdShare + ": share the design",
		prefix + CmdEnd + ": discard the conversation",
		"Anything else you say continues your active design.",
	}, "\n")
}
