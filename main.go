package main

import "github.com/fakeyudi/headless/cmd"

func main() {
	cmd.Execute()
}
