// Command phasectl gates a repository's progress through a phased roadmap.
package main

import "os"

func main() {
	os.Exit(Execute())
}
