package mda

import "hash/crc32"

// initialCRC seeds every checksum LVM2 writes.
const initialCRC = 0xf597a6cf

// Checksum computes LVM2's crc32: the reflected IEEE polynomial started at
// 0xf597a6cf, without the final inversion.
func Checksum(buf []byte) uint32 {
	return ^crc32.Update(^uint32(initialCRC), crc32.IEEETable, buf)
}
