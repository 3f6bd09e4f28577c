package main

import "github.com/ValentinKolb/htab/cmd"

func main() {
	cmd.Execute()
}
