package main

import "github.com/frahmantamala/ticket-payments/cmd"

func main() {
	cmd.Execute()
}
