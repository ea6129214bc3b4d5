package discovery

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeID derives the stable node identity from the hostname and a hardware
// address. UUIDv5 over the DNS namespace makes it idempotent across
// restarts on the same machine.
func NodeID(hostname, hwAddr string) string {
	name := fmt.Sprintf("%s-%s", hostname, hwAddr)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}
