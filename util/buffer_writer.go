package util

// 日志与页文件统一使用大端序

func WriteByte(buf []byte, b byte) []byte {
	return append(buf, b)
}

func WriteBytes(buf []byte, from []byte) []byte {
	return append(buf, from...)
}

func WriteUint32BE(buf []byte, i uint32) []byte {
	return append(buf,
		byte(i>>24),
		byte(i>>16),
		byte(i>>8),
		byte(i))
}

func WriteInt32BE(buf []byte, i int32) []byte {
	return WriteUint32BE(buf, uint32(i))
}

func WriteUint64BE(buf []byte, i uint64) []byte {
	return append(buf,
		byte(i>>56),
		byte(i>>48),
		byte(i>>40),
		byte(i>>32),
		byte(i>>24),
		byte(i>>16),
		byte(i>>8),
		byte(i))
}

func WriteInt64BE(buf []byte, i int64) []byte {
	return WriteUint64BE(buf, uint64(i))
}

// WriteBytesWithLength writes a uint32 length prefix followed by the bytes.
func WriteBytesWithLength(buf []byte, from []byte) []byte {
	buf = WriteUint32BE(buf, uint32(len(from)))
	return append(buf, from...)
}

// PutUint64BE 在指定偏移处覆盖写入
func PutUint64BE(buf []byte, off int, i uint64) {
	buf[off] = byte(i >> 56)
	buf[off+1] = byte(i >> 48)
	buf[off+2] = byte(i >> 40)
	buf[off+3] = byte(i >> 32)
	buf[off+4] = byte(i >> 24)
	buf[off+5] = byte(i >> 16)
	buf[off+6] = byte(i >> 8)
	buf[off+7] = byte(i)
}
