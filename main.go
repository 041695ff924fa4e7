package main

import "tracerbot/cmd"

func main() {
	cmd.Execute()
}
