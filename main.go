// The main package for the edx-crawler executable.
package main

import (
	"github.com/edx-tools/edx-crawler/cmd"
)

func main() {
	cmd.Execute()
}
