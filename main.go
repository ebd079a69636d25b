// The main package for the awardharvest executable.
package main

import "github.com/jdbirch/awardharvest/cmd"

func main() {
	cmd.Execute()
}
