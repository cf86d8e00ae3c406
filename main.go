package main

import "github.com/takopi/takopi/cmd"

func main() {
	cmd.Execute()
}
