// Command penny is a personal AI assistant for the terminal. It remembers
// facts about you across conversations and can reach into your calendar,
// mailbox, the weather and the web through tools, depending on what is
// configured.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
