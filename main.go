package main

import "github.com/ValentinKolb/mavconn/cmd"

func main() {
	cmd.Execute()
}
