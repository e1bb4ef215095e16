package main

import "github.com/ValentinKolb/gstore/cmd"

func main() {
	cmd.Execute()
}
