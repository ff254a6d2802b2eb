package main

import "github.com/lendpath/funnel/cmd"

func main() {
	cmd.Execute()
}
