// Command reqresd runs a reqres authority or connects to one as a peer.
package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal; anything else is worth a warning.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("reqresd: .env: %v", err)
	}
	Execute()
}
