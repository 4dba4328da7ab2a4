// Package main is the entry point for the nibble billing service.
package main

func main() {
	Execute()
}
