// Command tapbridge runs a simulated IP network in real time and bridges it
// to tap devices on the host.
package main

import (
	"github.com/tebeka/atexit"
)

func main() {
	atexit.Exit(Execute())
}
