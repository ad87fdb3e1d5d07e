package main

import "github.com/maxiberta/talisker/internal/cmd"

func main() {
	cmd.Execute()
}
