// Command piremote finds Raspberry Pi boards on the local network and runs
// commands or pushes files to them over SSH.
package main

func main() {
	Execute()
}
