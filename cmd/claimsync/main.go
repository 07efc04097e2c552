// Command claimsync imports claim communication files from the command line.
package main

func main() {
	execute()
}
