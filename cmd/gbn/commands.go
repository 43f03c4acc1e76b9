package main

import (
	"fmt"
	"strings"
)

const usage = `commands:
  connect <addr>         handshake with a peer
  send <file> <addr>     transfer a file to a connected peer
  peers                  list connections
  help                   show this list
  quit                   close the host`

type commandKind int

const (
	cmdNone commandKind = iota
	cmdHelp
	cmdQuit
	cmdPeers
	cmdConnect
	cmdSend
)

type command struct {
	kind commandKind
	path string
	addr string
}

// parseCommand parses one line of the interactive prompt. Fields are split on
// whitespace, so file names containing spaces are not supported.
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{kind: cmdNone}, nil
	}

	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "help", "?":
		return command{kind: cmdHelp}, nil
	case "quit", "exit", "q":
		return command{kind: cmdQuit}, nil
	case "peers":
		return command{kind: cmdPeers}, nil
	case "connect":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: connect <addr>")
		}
		return command{kind: cmdConnect, addr: args[0]}, nil
	case "send":
		if len(args) != 2 {
			return command{}, fmt.Errorf("usage: send <file> <addr>")
		}
		return command{kind: cmdSend, path: args[0], addr: args[1]}, nil
	}
	return command{}, fmt.Errorf("unknown command %q, try help", fields[0])
}
