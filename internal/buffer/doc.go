// Package buffer decodes QASS measurement buffer files.
//
// A buffer file starts with a keyword header: 8-character keyword names,
// each followed by dash padding that announces the width of the value that
// comes next ("----" for 4 bytes, "--------" for 8 bytes). The first two
// keywords form a fixed preamble:
//
//	qassdata---- <int32 header size>
//	filevers---- <int32 format version>
//
// The header ends with the bare keyword "headsend". The payload that follows
// is a sequence of data blocks, each made of a small block header and
// db__size bytes of sample data. Payloads may be stored raw or with every
// block compressed (lz4 or zstd), as announced by the paycodec keyword.
//
// Decoding is stateless: every Open works on its own file descriptor and
// shares nothing with other calls, so many files can be decoded in parallel.
//
// Example:
//
//	buf, err := buffer.Open("/data/p000123c0b01")
//	if err != nil {
//	    return err
//	}
//	defer buf.Close()
//
//	for block, err := range buf.Payload.Blocks() {
//	    if err != nil {
//	        return err
//	    }
//	    process(block.Data)
//	}
package buffer
