package treecrdt

import "lukechampine.com/blake3"

// OpRefWidth is the byte width of an OpRefV0 value.
const OpRefWidth = 16

const opRefV0Domain = "treecrdt/opref/v0"

// OpRefV0 derives a short, stable 16-byte reference to an operation within a
// document, for hosts that need something cheaper to index than a full
// (replica, counter) pair. It keys a BLAKE3 hash over:
//
//	"treecrdt/opref/v0" || docID (utf-8) || be_u32(len(replica)) || replica || be_u64(counter)
//
// and truncates to the first 16 bytes.
func OpRefV0(docID string, replica ReplicaId, counter Counter) [OpRefWidth]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(opRefV0Domain))
	h.Write([]byte(docID))
	h.Write(encodeUint32BE(uint32(len(replica.Bytes()))))
	h.Write(replica.Bytes())
	h.Write(encodeUint64BE(uint64(counter)))

	var out [OpRefWidth]byte
	copy(out[:], h.Sum(nil)[:OpRefWidth])
	return out
}
