package main

import "github.com/Reckless312/peerchat/cli/cmd"

func main() {
	cmd.Execute()
}
