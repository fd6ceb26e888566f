// Command stagegraph merges stage payloads and converts graph exports
// offline, without the HTTP server.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
