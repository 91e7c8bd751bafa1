package chat

import "strings"

// DefaultName is the display name of a session that has not renamed itself,
// and the name /name falls back to when given no argument.
const DefaultName = "unknown"

const commandPrefix = "/"

// Command verbs understood by the engine.
const (
	VerbName    = "/name"
	VerbWhisper = "/w"
	VerbReply   = "/r"
	VerbStop    = "/stop"
	VerbTime    = "/time"
	VerbClients = "/clients"
	VerbMemory  = "/memory"
)

// Command is the parsed form of one input line.
type Command interface {
	// Verb returns the command's key, such as /name. Chat text has none.
	Verb() string
}

// Rename sets the sender's display name.
type Rename struct {
	Name string
}

// Whisper delivers Body to every session currently named Target.
type Whisper struct {
	Target string
	Body   string
}

// Listening is reserved and does nothing.
type Listening struct{}

// Stop ends the session.
type Stop struct{}

// QueryTime asks for the server's wall-clock time.
type QueryTime struct{}

// ListClients asks for the display names of every connected session.
type ListClients struct{}

// QueryMemory asks for the server process's memory usage.
type QueryMemory struct{}

// UnknownCommand is any prefixed line whose verb is not recognised. Its value
// is the verb as typed.
type UnknownCommand string

// ChatText is a line without the command prefix.
type ChatText struct {
	Body string
}

func (Rename) Verb() string           { return VerbName }
func (Whisper) Verb() string          { return VerbWhisper }
func (Listening) Verb() string        { return VerbReply }
func (Stop) Verb() string             { return VerbStop }
func (QueryTime) Verb() string        { return VerbTime }
func (ListClients) Verb() string      { return VerbClients }
func (QueryMemory) Verb() string      { return VerbMemory }
func (c UnknownCommand) Verb() string { return string(c) }
func (ChatText) Verb() string         { return "" }

// Blank reports whether the text is empty or whitespace only.
func (c ChatText) Blank() bool {
	return strings.TrimSpace(c.Body) == ""
}

// IsCommand reports whether a raw line is a command rather than chat text.
func IsCommand(line string) bool {
	return strings.HasPrefix(line, commandPrefix)
}

// Parse classifies a raw line. It has no side effects.
func Parse(line string) Command {
	if !IsCommand(line) {
		return ChatText{Body: line}
	}

	// TODO: Handle quoted fields so names with spaces can be whispered to.
	fields := strings.Fields(line)
	verb, args := fields[0], fields[1:]

	switch verb {
	case VerbName:
		if len(args) == 0 {
			return Rename{Name: DefaultName}
		}
		return Rename{Name: args[0]}
	case VerbWhisper:
		w := Whisper{}
		if len(args) > 0 {
			w.Target = args[0]
			w.Body = strings.Join(args[1:], " ")
		}
		return w
	case VerbReply:
		return Listening{}
	case VerbStop:
		return Stop{}
	case VerbTime:
		return QueryTime{}
	case VerbClients:
		return ListClients{}
	case VerbMemory:
		return QueryMemory{}
	}
	return UnknownCommand(verb)
}
