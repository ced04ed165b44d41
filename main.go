// The main package for the sift executable.
package main

import (
	"github.com/scrapeworks/sift/cmd"
)

func main() {
	cmd.Execute()
}
