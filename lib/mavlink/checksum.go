package mavlink

// X.25 CRC as used by MAVLink (CRC-16/MCRF4XX).

func crcAccumulate(b uint8, crc uint16) uint16 {
	tmp := b ^ uint8(crc&0xff)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}

// frameChecksum computes the checksum over the frame bytes between the
// magic byte and the checksum field, seeded with the message's CRC_EXTRA.
func frameChecksum(data []byte, crcExtra uint8) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc = crcAccumulate(b, crc)
	}
	return crcAccumulate(crcExtra, crc)
}
