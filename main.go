package main

import "github.com/vibast-solutions/ms-go-session-auth/cmd"

func main() {
	cmd.Execute()
}
