package main

import "github.com/ValentinKolb/meshlink/cmd"

func main() {
	cmd.Execute()
}
