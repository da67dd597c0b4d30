// Command chatlink is a terminal client for the streaming chat backend.
package main

import "github.com/xiaot623/gogo/chatlink/internal/cli"

func main() {
	cli.Execute()
}
