// audiorag ingests audio-bearing media into a searchable corpus and answers
// questions against it. This binary hosts the server and the operator CLI.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes: 0 success, 1 user error, 2 system error.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var uerr *usageError
		if errors.As(err, &uerr) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
