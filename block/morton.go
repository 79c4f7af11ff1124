package block

// Morton codes interleave three 10-bit cell indexes into a 30-bit key, x in
// the lowest bit.

const mortonMask = 0x3ff

func spread(v uint32) uint32 {
	v &= mortonMask
	v = (v | v<<16) & 0x030000ff
	v = (v | v<<8) & 0x0300f00f
	v = (v | v<<4) & 0x030c30c3
	v = (v | v<<2) & 0x09249249
	return v
}

func compact(v uint32) uint32 {
	v &= 0x09249249
	v = (v | v>>2) & 0x030c30c3
	v = (v | v>>4) & 0x0300f00f
	v = (v | v>>8) & 0x030000ff
	v = (v | v>>16) & mortonMask
	return v
}

// MortonEncode packs cell indexes, each truncated to 10 bits
func MortonEncode(x, y, z uint32) uint32 {
	return spread(x) | spread(y)<<1 | spread(z)<<2
}

// MortonDecode unpacks a key built by MortonEncode
func MortonDecode(m uint32) (x, y, z uint32) {
	return compact(m), compact(m >> 1), compact(m >> 2)
}
