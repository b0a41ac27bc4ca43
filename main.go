package main

import "github.com/andresmejia3/veritas/cmd"

func main() {
	cmd.Execute()
}
