// research is the research assistant CLI.
//
// Usage:
//
//	research run    [--config=<path>] [--topic=<topic>]
//	research serve  [--config=<path>] [--addr=:8080]
//	research status [--config=<path>] <thread-id>
//
// Provider and search keys are read from the environment (GROQ_API_KEY,
// TAVILY_API_KEY, ...) unless set in the config file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
