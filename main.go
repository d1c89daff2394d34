package main

import "github.com/lukewain/GXG-Bot/cmd"

func main() {
	cmd.Execute()
}
