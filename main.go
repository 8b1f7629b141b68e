// Package main is the qbitstats entry point.
package main

import "github.com/seedreap/qbitstats/cmd"

func main() {
	cmd.Execute()
}
