package hw

// DMA translates a driver buffer into device-visible PRP addresses.
// The physical mapping layer behind it is external to this core: a real
// implementation pins pages and returns physical addresses, the
// simulator keeps a registry of live buffers.
//
// The release function must be called exactly once, after the matching
// completion has been observed (including the error paths), so mappings
// never outlive the command that references them.
type DMA interface {
	Map(p []byte) (prp1, prp2 uint64, release func(), err error)
}
