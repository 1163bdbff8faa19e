// Command telegram-cli is the sync daemon's process entrypoint.
package main

import "github.com/telegram-cli/telegram-cli/cmd"

func main() {
	cmd.Execute()
}
