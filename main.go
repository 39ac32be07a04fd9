package main

import "github.com/josephlewis42/chainsh/cmd"

func main() {
	cmd.Execute()
}
