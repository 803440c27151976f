package main

import "github.com/mikesmitty/maglev/cmd"

func main() {
	cmd.Execute()
}
