package main

import "github.com/emailtovamos/bundler/cmd"

func main() {
	cmd.Execute()
}
