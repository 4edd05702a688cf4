package main

import "strings"

const helpText = `Commands:
  /help            Show this message
  /retry           Retry the failed start or reply
  /end             End the simulation and show the evaluation
  /open            Re-open the session address after signing in
  /login <token>   Store a bearer token
  /logout          Forget the stored token
  /stats           Show failure and session counters
  /quit            Leave (the session stays open on the service)
Anything else is sent to the counterpart.`

type commandType int

const (
	cmdUnknown commandType = iota
	cmdHelp
	cmdRetry
	cmdEnd
	cmdOpen
	cmdLogin
	cmdLogout
	cmdStats
	cmdQuit
)

type command struct {
	Type commandType
	Arg  string
	Raw  string
}

// parseCommand reads a slash command. ok is false for plain utterances.
func parseCommand(input string) (command, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return command{}, false
	}
	parts := strings.Fields(strings.TrimPrefix(trimmed, "/"))
	cmd := command{Raw: trimmed}
	if len(parts) == 0 {
		return cmd, true
	}
	cmd.Arg = strings.Join(parts[1:], " ")
	switch strings.ToLower(parts[0]) {
	case "help", "?":
		cmd.Type = cmdHelp
	case "retry":
		cmd.Type = cmdRetry
	case "end":
		cmd.Type = cmdEnd
	case "open":
		cmd.Type = cmdOpen
	case "login":
		cmd.Type = cmdLogin
	case "logout":
		cmd.Type = cmdLogout
	case "stats":
		cmd.Type = cmdStats
	case "quit", "exit":
		cmd.Type = cmdQuit
	}
	return cmd, true
}
