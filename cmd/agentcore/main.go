// Command agentcore runs tool-using agent sessions from the terminal or as
// a server.
package main

import "agentcore/internal/cli"

func main() {
	cli.Execute()
}
