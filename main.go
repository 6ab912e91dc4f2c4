package main

import "github.com/srjwebster/silvia-pid/cmd"

func main() {
	cmd.Execute()
}
