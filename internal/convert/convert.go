package convert

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// LEUint32ToBytes is used to convert uint32 to bytes with little endian.
func LEUint32ToBytes(Uint32 uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, Uint32)
	return b
}

// LEBytesToUint32 is used to convert bytes to uint32 with little endian.
func LEBytesToUint32(Bytes []byte) uint32 {
	return binary.LittleEndian.Uint32(Bytes)
}

// BEUint32ToBytes is used to convert uint32 to bytes with big endian.
func BEUint32ToBytes(Uint32 uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, Uint32)
	return b
}

// BEBytesToUint32 is used to convert bytes to uint32 with big endian.
func BEBytesToUint32(Bytes []byte) uint32 {
	return binary.BigEndian.Uint32(Bytes)
}

// unit about storage
const (
	Byte = 1
	KB   = Byte * 1024
	MB   = KB * 1024
	GB   = MB * 1024
	TB   = GB * 1024
)

// FormatByte is used to covert Byte to KB, MB, GB or TB.
func FormatByte(n uint64) string {
	if n < KB {
		return strconv.FormatUint(n, 10) + " Byte"
	}
	var (
		unit string
		div  uint64
	)
	switch {
	case n < MB:
		unit = "KB"
		div = KB
	case n < GB:
		unit = "MB"
		div = MB
	case n < TB:
		unit = "GB"
		div = GB
	default:
		unit = "TB"
		div = TB
	}
	value := float64(n) / float64(div)
	// 1.99999999 -> 1.999
	value = float64(uint64(value*1000)) / 1000
	return fmt.Sprintf("%s %s", strconv.FormatFloat(value, 'f', -1, 64), unit)
}
