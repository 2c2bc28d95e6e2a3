// Package secure keeps revealed secret field values out of plain Go memory.
//
// Every secret a resolution materializes is sealed into a memguard enclave as
// soon as it has been decrypted, so the plaintext is:
//
//   - encrypted at rest in memory (XSalsa20Poly1305)
//   - kept out of swap and core dumps via mlock and guard pages
//   - only present in a locked buffer while Reveal runs
//
// # Usage
//
//	sealed := secure.SealString(plaintext)
//	defer sealed.Destroy()
//
//	value, err := sealed.Reveal()
//
// Call Purge from main (deferred) to wipe the session keys on exit.
//
// It does NOT protect against attackers with access to the running process,
// hardware-level attacks or side channels.
package secure
