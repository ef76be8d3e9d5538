// Package main is the entry point for doclingapi.
package main

func main() {
	Execute()
}
